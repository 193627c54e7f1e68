//go:build windows

// Copyright (c) 2018, Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package windowstpm

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
	"golang.org/x/sys/windows"
)

// Tbs.dll provides an API for making calls to the TPM:
// https://docs.microsoft.com/en-us/windows/desktop/TBS/tpm-base-services-portal
var (
	tbsDLL           = windows.NewLazySystemDLL("Tbs.dll")
	tbsCreateContext = tbsDLL.NewProc("Tbsi_Context_Create")
	tbsSubmitCommand = tbsDLL.NewProc("Tbsip_Submit_Command")
	tbsContextClose  = tbsDLL.NewProc("Tbsip_Context_Close")
)

// tbsContextParams is TBS_CONTEXT_PARAMS, which selects a TPM 1.2 context.
type tbsContextParams struct {
	version uint32
}

// tbs.h contains constants used in the TBS library:
// https://github.com/tpn/winsdk-10/blob/master/Include/10.0.10240.0/shared/tbs.h
const (
	tbsContextVersionOne   uint32  = 1 // TBS_CONTEXT_VERSION_ONE
	tbsCommandLocalityZero uintptr = 0 // TBS_COMMAND_LOCALITY_ZERO
)

// Open returns a Driver submitting commands through TBS at the given
// priority. The TBS context is created by Init.
func Open(priority CommandPriority) transport.Driver {
	return &driver{priority: priority}
}

type driver struct {
	priority CommandPriority

	mu      sync.Mutex
	context uintptr
	open    bool
}

func (d *driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil
	}
	if err := tbsDLL.Load(); err != nil {
		return err
	}
	params := tbsContextParams{version: tbsContextVersionOne}
	// TBS_RESULT Tbsi_Context_Create(
	//   _In_  PCTBS_CONTEXT_PARAMS pContextParams,
	//   _Out_ PTBS_HCONTEXT        *phContext
	// );
	rc, _, _ := tbsCreateContext.Call(
		uintptr(unsafe.Pointer(&params)),
		uintptr(unsafe.Pointer(&d.context)),
	)
	if err := tbsError(rc); err != nil {
		return err
	}
	d.open = true
	return nil
}

func (d *driver) Transmit(cmd []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil, transport.ErrNotInitialized
	}
	if len(cmd) == 0 {
		return nil, errors.New("windowstpm: empty command")
	}
	out := make([]byte, tpmutil.MaxResponseSize)
	outLen := uint32(len(out))

	// TBS_RESULT Tbsip_Submit_Command(
	//   _In_          TBS_HCONTEXT         hContext,
	//   _In_          TBS_COMMAND_LOCALITY Locality,
	//   _In_          TBS_COMMAND_PRIORITY Priority,
	//   _In_    const PCBYTE               *pabCommand,
	//   _In_          UINT32               cbCommand,
	//   _Out_         PBYTE                *pabResult,
	//   _Inout_       UINT32               *pcbOutput
	// );
	rc, _, _ := tbsSubmitCommand.Call(
		d.context,
		tbsCommandLocalityZero, // Windows currently only supports TBS_COMMAND_LOCALITY_ZERO.
		uintptr(d.priority),
		uintptr(unsafe.Pointer(&cmd[0])),
		uintptr(len(cmd)),
		uintptr(unsafe.Pointer(&out[0])),
		uintptr(unsafe.Pointer(&outLen)),
	)
	if err := tbsError(rc); err != nil {
		return nil, err
	}
	return out[:outLen], nil
}

func (d *driver) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	// TBS_RESULT Tbsip_Context_Close(
	//   _In_ TBS_HCONTEXT hContext
	// );
	rc, _, _ := tbsContextClose.Call(d.context)
	d.open = false
	return tbsError(rc)
}
