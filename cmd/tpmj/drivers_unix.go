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

package main

import (
	"errors"
	"fmt"

	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/nalabelle/tpmj-sub002/transport/linuxtpm"
	"github.com/nalabelle/tpmj-sub002/transport/unixsocket"
)

const (
	defaultDevice    = linuxtpm.DefaultPath
	defaultTransport = transportDevice
)

func platformDriver(cfg *Config) (transport.Driver, error) {
	switch cfg.Transport {
	case transportDevice:
		return linuxtpm.Open(cfg.Device), nil
	case transportUnix:
		if cfg.Address == "" {
			return nil, errors.New("the unix transport needs --address")
		}
		return unixsocket.Open(cfg.Address), nil
	}
	return nil, fmt.Errorf("the %s transport is not available on this platform", cfg.Transport)
}
