// Copyright (c) 2018, Google LLC All rights reserved.
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

// Package transport moves encoded TPM 1.2 frames between the host and a TPM.
//
// A Driver is the only capability the command path needs from a device: it
// takes a complete command frame and returns whatever bytes the device
// produced. Drivers are selected at construction time (device file, socket,
// Windows TBS) and must be initialized with Init before the first Transmit
// and released with Cleanup at shutdown.
package transport

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// Driver is a low-level channel to a TPM.
type Driver interface {
	// Init acquires the channel. It must be called before Transmit.
	Init() error
	// Transmit sends one encoded command and returns the raw response. The
	// response may be longer than the frame it contains.
	Transmit(cmd []byte) ([]byte, error)
	// Cleanup releases the channel.
	Cleanup() error
}

// ErrNotInitialized is returned by Transmit before Init succeeds.
var ErrNotInitialized = errors.New("transport: driver is not initialized")

// Opener returns a freshly opened channel. It is called by Init.
type Opener func() (io.ReadWriteCloser, error)

// FromReadWriteCloser builds a Driver over a channel that takes one
// command per Write and returns the whole response from a single Read, the
// way /dev/tpm0 and the TBS buffer behave.
func FromReadWriteCloser(open Opener) Driver {
	return &rwcDriver{open: open}
}

type rwcDriver struct {
	mu   sync.Mutex
	open Opener
	rwc  io.ReadWriteCloser
}

func (d *rwcDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rwc != nil {
		return nil
	}
	rwc, err := d.open()
	if err != nil {
		return err
	}
	d.rwc = rwc
	return nil
}

func (d *rwcDriver) Transmit(cmd []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rwc == nil {
		return nil, ErrNotInitialized
	}
	if _, err := d.rwc.Write(cmd); err != nil {
		return nil, err
	}
	rsp := make([]byte, tpmutil.MaxResponseSize)
	n, err := d.rwc.Read(rsp)
	if err != nil && !(errors.Is(err, io.EOF) && n > 0) {
		return nil, err
	}
	return rsp[:n], nil
}

func (d *rwcDriver) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rwc == nil {
		return nil
	}
	err := d.rwc.Close()
	d.rwc = nil
	return err
}

// ReadFrame reads one response frame from a stream: the header, then the
// rest of the bytes its paramSize declares. A paramSize outside the frame
// limits is a KindMalformedResponse *tpmutil.Error; read failures are
// returned as they are.
func ReadFrame(r io.Reader) ([]byte, error) {
	hdr := make([]byte, tpmutil.HeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	size, _ := tpmutil.ParamSize(hdr)
	if size < tpmutil.HeaderSize || size > tpmutil.MaxResponseSize {
		return nil, &tpmutil.Error{
			Kind:     tpmutil.KindMalformedResponse,
			Response: hdr,
			Err:      fmt.Errorf("response declares paramSize %d", size),
		}
	}
	rsp := make([]byte, size)
	copy(rsp, hdr)
	if _, err := io.ReadFull(r, rsp[tpmutil.HeaderSize:]); err != nil {
		return nil, err
	}
	return rsp, nil
}
