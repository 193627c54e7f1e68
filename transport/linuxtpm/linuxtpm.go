//go:build !windows

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

// Package linuxtpm provides access to a TPM 1.2 through its character device
// file, such as /dev/tpm0.
package linuxtpm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/nalabelle/tpmj-sub002/transport"
)

// DefaultPath is the device file of the first TPM.
const DefaultPath = "/dev/tpm0"

var (
	// ErrFileIsNotDevice indicates that the TPM file mode was not a device.
	ErrFileIsNotDevice = errors.New("TPM file is not a device")
)

// Open returns a Driver for the device at path. The device file is opened
// by Init and closed by Cleanup.
func Open(path string) transport.Driver {
	return transport.FromReadWriteCloser(func() (io.ReadWriteCloser, error) {
		return openDevice(path, pollNoTimeout)
	})
}

func openDevice(path string, timeout time.Duration) (*device, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.Mode()&os.ModeDevice == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", ErrFileIsNotDevice, fi.Mode().String(), path)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	return &device{f: f, timeout: timeout}, nil
}

// device waits for the response to become readable before reading it, so
// that the whole frame comes back from a single read.
type device struct {
	f       *os.File
	timeout time.Duration
}

func (d *device) Write(b []byte) (int, error) {
	return d.f.Write(b)
}

func (d *device) Read(b []byte) (int, error) {
	if err := poll(d.f, d.timeout); err != nil {
		return 0, err
	}
	return d.f.Read(b)
}

func (d *device) Close() error {
	return d.f.Close()
}
