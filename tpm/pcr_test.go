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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

func TestPCRMask(t *testing.T) {
	var mask PCRMask
	if err := mask.SetPCR(-1); err == nil {
		t.Fatal("Incorrectly allowed non-existent PCR -1 to be set")
	}

	if err := mask.SetPCR(24); err == nil {
		t.Fatal("Incorrectly allowed non-existent PCR 24 to be set")
	}

	for _, i := range []int{0, 18} {
		if err := mask.SetPCR(i); err != nil {
			t.Fatalf("Couldn't set PCR %d in the mask: %v", i, err)
		}
		set, err := mask.IsPCRSet(i)
		if err != nil {
			t.Fatalf("Couldn't check to see if PCR %d was set: %v", i, err)
		}
		if !set {
			t.Fatalf("Incorrectly said PCR %d wasn't set when it should have been", i)
		}
	}

	if set, _ := mask.IsPCRSet(17); set {
		t.Error("PCR 17 reported set")
	}
	if diff := cmp.Diff([]int{0, 18}, mask.PCRs()); diff != "" {
		t.Errorf("PCRs() (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(PCRMask{0x01, 0x00, 0x04}, mask); diff != "" {
		t.Errorf("mask bytes (-want +got):\n%s", diff)
	}
}

func TestCreatePCRInfo(t *testing.T) {
	mask, err := NewPCRMask(1, 2)
	if err != nil {
		t.Fatalf("NewPCRMask() = %v", err)
	}
	if _, err := createPCRComposite(mask, make([]byte, PCRSize+1)); err == nil {
		t.Error("createPCRComposite accepted a partial PCR value")
	}
	if _, err := createPCRInfo(5, mask, make([]byte, 2*PCRSize)); err == nil {
		t.Error("createPCRInfo accepted locality 5")
	}

	pcri, err := createPCRInfo(2, mask, make([]byte, 2*PCRSize))
	if err != nil {
		t.Fatalf("createPCRInfo() = %v", err)
	}
	b, err := tpmutil.Pack(pcri)
	if err != nil {
		t.Fatalf("Pack() = %v", err)
	}
	// tag(2) + 2 localities + 2 selections(5 each) + 2 digests
	if want := 2 + 2 + 2*5 + 2*PCRSize; len(b) != want {
		t.Errorf("TPM_PCR_INFO_LONG is %d bytes, want %d", len(b), want)
	}
	if pcri.LocAtCreation != 1<<2 || pcri.DigestAtCreation != pcri.DigestAtRelease {
		t.Errorf("pcrInfoLong = %s", pcri)
	}
}
