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

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// GetRandom gets random bytes from the TPM. The TPM may return fewer bytes
// than requested.
func (t *TPM) GetRandom(size uint32) ([]byte, error) {
	in, err := tpmutil.Pack(size)
	if err != nil {
		return nil, err
	}
	out, err := t.Run(&Command{Ordinal: ordGetRandom, Params: in})
	if err != nil {
		return nil, err
	}
	var b []byte
	if err := unpackOutput(ordGetRandom, out, &b); err != nil {
		return nil, err
	}
	return b, nil
}

// PCRRead reads a PCR value from the TPM.
func (t *TPM) PCRRead(pcr uint32) (tpmutil.Digest, error) {
	in, err := tpmutil.Pack(pcr)
	if err != nil {
		return tpmutil.Digest{}, err
	}
	out, err := t.Run(&Command{Ordinal: ordPCRRead, Params: in})
	if err != nil {
		return tpmutil.Digest{}, err
	}
	var v tpmutil.Digest
	if err := unpackOutput(ordPCRRead, out, &v); err != nil {
		return tpmutil.Digest{}, err
	}
	return v, nil
}

// FetchPCRValues gets a sequence of PCR values based on a mask, concatenated
// in ascending PCR order.
func (t *TPM) FetchPCRValues(mask PCRMask) ([]byte, error) {
	var pcrs []byte
	for _, i := range mask.PCRs() {
		pcr, err := t.PCRRead(uint32(i))
		if err != nil {
			return nil, err
		}
		pcrs = append(pcrs, pcr[:]...)
	}
	return pcrs, nil
}

// Extend extends a PCR with a digest and returns the new PCR value.
func (t *TPM) Extend(pcr uint32, d tpmutil.Digest) (tpmutil.Digest, error) {
	in, err := tpmutil.Pack(pcr, d)
	if err != nil {
		return tpmutil.Digest{}, err
	}
	out, err := t.Run(&Command{Ordinal: ordExtend, Params: in})
	if err != nil {
		return tpmutil.Digest{}, err
	}
	var v tpmutil.Digest
	if err := unpackOutput(ordExtend, out, &v); err != nil {
		return tpmutil.Digest{}, err
	}
	return v, nil
}

// TerminateHandle ends the authorization session h on the TPM. A Session
// opened through t for h is marked closed.
func (t *TPM) TerminateHandle(h tpmutil.Handle) error {
	if err := t.terminateHandle(h); err != nil {
		return err
	}
	t.sessionGone(h)
	return nil
}

func (t *TPM) terminateHandle(h tpmutil.Handle) error {
	in, err := tpmutil.Pack(h)
	if err != nil {
		return err
	}
	_, err = t.Run(&Command{Ordinal: ordTerminateHandle, Params: in})
	return err
}

// FlushSpecific evicts a handle of the given resource type from the TPM.
// Flushing an RTAuth handle marks its Session closed.
func (t *TPM) FlushSpecific(h tpmutil.Handle, rt ResourceType) error {
	in, err := tpmutil.Pack(h, rt)
	if err != nil {
		return err
	}
	if _, err := t.Run(&Command{Ordinal: ordFlushSpecific, Params: in}); err != nil {
		return err
	}
	if rt == RTAuth {
		t.sessionGone(h)
	}
	return nil
}

// sessionGone marks the registered session for h closed.
func (t *TPM) sessionGone(h tpmutil.Handle) {
	t.smu.Lock()
	s := t.sessions[h]
	t.smu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// OwnerReadInternalPub reads the public part of the endorsement key (KHEK)
// or the SRK (KHSRK). It must be authorized by the owner, through an OSAP
// session for ETOwner or an OIAP session keyed with the owner secret. The
// TPM_PUBKEY structure is returned undecoded.
func (t *TPM) OwnerReadInternalPub(kh tpmutil.Handle, owner Authorization) ([]byte, error) {
	if kh != KHEK && kh != KHSRK {
		return nil, fmt.Errorf("OwnerReadInternalPub only reads the EK or the SRK, not handle 0x%x", kh)
	}
	if owner.Session == nil {
		return nil, errors.New("OwnerReadInternalPub needs owner authorization")
	}
	// The key handle is a parameter here, so it is covered by the HMAC.
	in, err := tpmutil.Pack(kh)
	if err != nil {
		return nil, err
	}
	return t.RunAuth1(&Command{Ordinal: ordOwnerReadInternalPub, Params: in}, owner)
}
