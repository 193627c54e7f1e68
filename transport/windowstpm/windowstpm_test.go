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
	"os"
	"testing"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/nalabelle/tpmj-sub002/transport"
)

func TestTransmitBeforeInit(t *testing.T) {
	if _, err := Open(NormalPriority).Transmit([]byte{0}); !errors.Is(err, transport.ErrNotInitialized) {
		t.Errorf("Transmit() = %v, want ErrNotInitialized", err)
	}
}

// TestLocalTPM runs against the machine's TPM when TPM_TBS is set.
func TestLocalTPM(t *testing.T) {
	if os.Getenv("TPM_TBS") == "" {
		t.Skip("TPM_TBS not set, skipping hardware test")
	}
	chip := tpm.New(Open(NormalPriority), transport.DefaultConfig())
	if err := chip.Init(); err != nil {
		t.Fatalf("Init() = %v", err)
	}
	defer chip.Close()

	if _, err := chip.GetRandom(16); err != nil {
		t.Errorf("GetRandom() = %v", err)
	}
}
