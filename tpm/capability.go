// Copyright (c) 2014, Google Inc. All rights reserved.
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

package tpm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// capCache holds capabilities that do not change while a TPM is running.
// A field is unknown until a query succeeds; a failed query leaves it
// unknown. A known value of zero is still known.
type capCache struct {
	mu           sync.Mutex
	manufacturer *uint32
	version      *Version
}

// GetCapability queries a capability area. subCap selects within the area
// and is sent as a sized blob; the response blob is returned as is.
func (t *TPM) GetCapability(area uint32, subCap []byte) ([]byte, error) {
	in, err := tpmutil.Pack(area, subCap)
	if err != nil {
		return nil, err
	}
	out, err := t.Run(&Command{Ordinal: ordGetCapability, Params: in})
	if err != nil {
		return nil, err
	}
	var resp []byte
	if err := unpackOutput(ordGetCapability, out, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetCapabilityProperty queries one CapProperty value, such as
// CapPropManufacturer.
func (t *TPM) GetCapabilityProperty(prop uint32) ([]byte, error) {
	sub, err := tpmutil.Pack(prop)
	if err != nil {
		return nil, err
	}
	return t.GetCapability(CapProperty, sub)
}

// Manufacturer returns the TPM_CAP_PROP_MANUFACTURER value, querying the TPM
// the first time.
func (t *TPM) Manufacturer() (uint32, error) {
	t.caps.mu.Lock()
	defer t.caps.mu.Unlock()
	if t.caps.manufacturer != nil {
		return *t.caps.manufacturer, nil
	}

	resp, err := t.GetCapabilityProperty(CapPropManufacturer)
	if err != nil {
		return 0, err
	}
	var m uint32
	if err := unpackOutput(ordGetCapability, resp, &m); err != nil {
		return 0, err
	}
	if glog.V(1) {
		glog.Infof("tpm: manufacturer is 0x%08x", m)
	}
	t.caps.manufacturer = &m
	return m, nil
}

// CachedManufacturer returns the cached manufacturer without querying the
// TPM. It reports false while the manufacturer is unknown.
func (t *TPM) CachedManufacturer() (uint32, bool) {
	t.caps.mu.Lock()
	defer t.caps.mu.Unlock()
	if t.caps.manufacturer == nil {
		return 0, false
	}
	return *t.caps.manufacturer, true
}

// Version returns the chip's TPM_VERSION. It asks for the 1.2
// TPM_CAP_VERSION_VAL structure first and falls back to the 1.1
// TPM_CAP_VERSION if the TPM rejects that.
func (t *TPM) Version() (Version, error) {
	t.caps.mu.Lock()
	defer t.caps.mu.Unlock()
	if t.caps.version != nil {
		return *t.caps.version, nil
	}

	var v Version
	resp, err := t.GetCapability(CapVersionVal, nil)
	switch {
	case err == nil:
		var info capVersionInfo
		if err := unpackOutput(ordGetCapability, resp, &info); err != nil {
			return Version{}, err
		}
		v = info.Version
	case errors.Is(err, tpmutil.ErrReturnCode):
		if glog.V(1) {
			glog.Infof("tpm: TPM_CAP_VERSION_VAL failed (%v), trying TPM_CAP_VERSION", err)
		}
		resp, err = t.GetCapability(CapVersion, nil)
		if err != nil {
			return Version{}, err
		}
		if err := unpackOutput(ordGetCapability, resp, &v); err != nil {
			return Version{}, err
		}
	default:
		return Version{}, err
	}
	t.caps.version = &v
	return v, nil
}

// CachedVersion returns the cached version without querying the TPM. It
// reports false while the version is unknown.
func (t *TPM) CachedVersion() (Version, bool) {
	t.caps.mu.Lock()
	defer t.caps.mu.Unlock()
	if t.caps.version == nil {
		return Version{}, false
	}
	return *t.caps.version, true
}

// InvalidateCache forgets the cached capabilities, so that the next query
// goes to the TPM.
func (t *TPM) InvalidateCache() {
	t.caps.mu.Lock()
	defer t.caps.mu.Unlock()
	t.caps.manufacturer = nil
	t.caps.version = nil
}

// IsInfineon reports whether the TPM was made by Infineon.
func (t *TPM) IsInfineon() (bool, error) {
	m, err := t.Manufacturer()
	return m == ManufacturerInfineon, err
}

// IsBroadcom reports whether the TPM was made by Broadcom.
func (t *TPM) IsBroadcom() (bool, error) {
	m, err := t.Manufacturer()
	return m == ManufacturerBroadcom, err
}

// ManufacturerString renders a manufacturer ID as the ASCII vendor code it
// encodes, dropping trailing NULs.
func ManufacturerString(m uint32) string {
	b := []byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", m)
		}
	}
	return string(b)
}
