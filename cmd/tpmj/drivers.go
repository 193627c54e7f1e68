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
	"fmt"

	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/nalabelle/tpmj-sub002/transport/tcp"
)

// openDriver builds the Driver selected by cfg. Tests replace it.
var openDriver = func(cfg *Config) (transport.Driver, error) {
	switch cfg.Transport {
	case transportTCP, transportMSSim:
		if cfg.Address == "" {
			return nil, fmt.Errorf("the %s transport needs --address", cfg.Transport)
		}
		proto := tcp.RawProtocol
		if cfg.Transport == transportMSSim {
			proto = tcp.MSSimProtocol
		}
		return tcp.Open(tcp.Config{
			CommandAddress:  cfg.Address,
			PlatformAddress: cfg.PlatformAddress,
			Protocol:        proto,
		}), nil
	}
	return platformDriver(cfg)
}
