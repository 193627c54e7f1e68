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

// Package unixsocket provides access to a TPM emulator, such as swtpm, over
// a Unix domain socket.
package unixsocket

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/nalabelle/tpmj-sub002/transport"
)

var (
	// ErrFileIsNotSocket indicates that the TPM file is not a socket.
	ErrFileIsNotSocket = errors.New("TPM file is not a socket")
)

// dialer abstracts the net.Dial call so test code can provide its own
// net.Conn implementation.
type dialer func(network, path string) (net.Conn, error)

// Open returns a Driver for the emulator listening at path. Emulators often
// operate in a connect/write/read/disconnect sequence, so every Transmit
// uses a fresh connection; Init only checks that the socket exists.
func Open(path string) transport.Driver {
	return &driver{path: path, dial: net.Dial}
}

type driver struct {
	path string
	dial dialer

	mu          sync.Mutex
	initialized bool
}

func (d *driver) Init() error {
	fi, err := os.Stat(d.path)
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%w: %s (%s)", ErrFileIsNotSocket, fi.Mode().String(), d.path)
	}
	d.mu.Lock()
	d.initialized = true
	d.mu.Unlock()
	return nil
}

func (d *driver) Transmit(cmd []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, transport.ErrNotInitialized
	}

	conn, err := d.dial("unix", d.path)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(cmd); err != nil {
		return nil, err
	}
	return transport.ReadFrame(conn)
}

func (d *driver) Cleanup() error {
	d.mu.Lock()
	d.initialized = false
	d.mu.Unlock()
	return nil
}
