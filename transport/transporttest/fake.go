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

// Package transporttest provides in-memory TPM drivers for tests.
package transporttest

import (
	"sync"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// Fake is a Driver whose responses come from Handler. It records every
// request it sees.
type Fake struct {
	Handler func(cmd []byte) ([]byte, error)
	// InitErr and CleanupErr are returned by Init and Cleanup.
	InitErr    error
	CleanupErr error

	mu       sync.Mutex
	requests [][]byte
	inits    int
	cleanups int
}

// Func returns a Fake answering every command with h.
func Func(h func(cmd []byte) ([]byte, error)) *Fake {
	return &Fake{Handler: h}
}

// Failing returns a Fake whose every Transmit fails with err.
func Failing(err error) *Fake {
	return Func(func([]byte) ([]byte, error) { return nil, err })
}

// Script returns a Fake that answers the n-th command with rsps[n]. Once
// the script is exhausted every command gets a null response.
func Script(rsps ...[]byte) *Fake {
	var i int
	return Func(func([]byte) ([]byte, error) {
		if i >= len(rsps) {
			return nil, nil
		}
		i++
		return rsps[i-1], nil
	})
}

// Init implements transport.Driver.
func (f *Fake) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	return f.InitErr
}

// Cleanup implements transport.Driver.
func (f *Fake) Cleanup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return f.CleanupErr
}

// Transmit implements transport.Driver.
func (f *Fake) Transmit(cmd []byte) ([]byte, error) {
	f.mu.Lock()
	f.requests = append(f.requests, append([]byte{}, cmd...))
	h := f.Handler
	f.mu.Unlock()
	return h(cmd)
}

// Requests returns a copy of every command transmitted so far.
func (f *Fake) Requests() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.requests...)
}

// Calls returns how many times Transmit ran.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Lifecycle returns how many times Init and Cleanup ran.
func (f *Fake) Lifecycle() (inits, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inits, f.cleanups
}

// Response encodes an unauthorized response frame. It panics on encoding
// errors, which only happen for inconsistent test input.
func Response(rc tpmutil.ResponseCode, params []byte) []byte {
	b, err := (&tpmutil.ResponseFrame{Tag: tpmutil.TagRSPCommand, ReturnCode: rc, Params: params}).Encode()
	if err != nil {
		panic(err)
	}
	return b
}

// Padded copies rsp into a buffer of tpmutil.MaxResponseSize bytes filled
// with junk, the way a device read over-allocates.
func Padded(rsp []byte) []byte {
	b := make([]byte, tpmutil.MaxResponseSize)
	for i := range b {
		b[i] = 0xa5
	}
	copy(b, rsp)
	return b
}
