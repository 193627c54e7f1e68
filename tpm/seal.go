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
	"crypto/sha1"
	"errors"
	"strconv"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// createPCRComposite composes a set of PCRs by prepending a pcrSelection and a
// length, then computing the SHA1 hash and returning its output.
func createPCRComposite(mask PCRMask, pcrs []byte) (tpmutil.Digest, error) {
	if len(pcrs)%PCRSize != 0 {
		return tpmutil.Digest{}, errors.New("pcrs must be a multiple of " + strconv.Itoa(PCRSize))
	}

	b, err := tpmutil.Pack(pcrSelection{3, mask}, pcrs)
	if err != nil {
		return tpmutil.Digest{}, err
	}
	if glog.V(2) {
		glog.Infof("composite buffer for mask % x is % x\n", mask, b)
	}

	h := sha1.Sum(b)
	if glog.V(2) {
		glog.Infof("SHA1 hash of composite buffer is % x\n", h)
	}

	return h, nil
}

// createPCRInfo creates a pcrInfoLong structure from a mask and some PCR
// values that match this mask, along with a TPM locality.
func createPCRInfo(loc byte, mask PCRMask, pcrVals []byte) (*pcrInfoLong, error) {
	if loc > 4 {
		return nil, errors.New("locality must be between 0 and 4, not " + strconv.Itoa(int(loc)))
	}
	d, err := createPCRComposite(mask, pcrVals)
	if err != nil {
		return nil, err
	}

	locVal := byte(1 << loc)
	pcri := &pcrInfoLong{
		Tag:              tagPCRInfoLong,
		LocAtCreation:    locVal,
		LocAtRelease:     locVal,
		PCRsAtCreation:   pcrSelection{3, mask},
		PCRsAtRelease:    pcrSelection{3, mask},
		DigestAtCreation: d,
		DigestAtRelease:  d,
	}

	if glog.V(2) {
		glog.Infof("Created pcrInfoLong %s\n", pcri)
	}

	return pcri, nil
}

// Seal encrypts data under the SRK, bound to the current values of pcrs at
// the given locality, and returns the sealed TPM_STORED_DATA blob. With no
// PCRs the blob is bound to nothing but dataAuth, which Unseal then needs.
func (t *TPM) Seal(locality byte, pcrs []int, data []byte, srkAuth, dataAuth tpmutil.Secret) ([]byte, error) {
	var pcrInfo []byte
	if len(pcrs) > 0 {
		mask, err := NewPCRMask(pcrs...)
		if err != nil {
			return nil, err
		}
		vals, err := t.FetchPCRValues(mask)
		if err != nil {
			return nil, err
		}
		pcri, err := createPCRInfo(locality, mask, vals)
		if err != nil {
			return nil, err
		}
		if pcrInfo, err = tpmutil.Pack(pcri); err != nil {
			return nil, err
		}
	}

	// Run OSAP for the SRK, reading a random OddOSAP for our initial
	// command and getting back a secret and a handle.
	s, err := t.OSAP(ETSRK, KHSRK, srkAuth)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	// encAuth = XOR(dataAuth, SHA1(sharedSecret || <lastEvenNonce>)), and the
	// last even nonce is NonceEven from OSAP.
	encAuth, err := s.EncryptAuthEven(dataAuth)
	if err != nil {
		return nil, err
	}

	// The digest input for seal authentication is
	//
	// digest = SHA1(ordSeal || encAuth || len(pcrInfo) || pcrInfo ||
	//               len(data) || data)
	in, err := tpmutil.Pack(encAuth, pcrInfo, data)
	if err != nil {
		return nil, err
	}
	out, err := t.RunAuth1(&Command{Ordinal: ordSeal, Handles: []tpmutil.Handle{KHSRK}, Params: in}, Authorization{Session: s})
	if err != nil {
		return nil, err
	}

	// Check that the blob parses before handing it out.
	var tsd tpmStoredData
	if err := unpackOutput(ordSeal, out, &tsd); err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("tpmStoredData is %s\n", tsd)
	}
	return out, nil
}

// Unseal decrypts data sealed by Seal. srkAuth authorizes use of the SRK
// and dataAuth the sealed blob.
func (t *TPM) Unseal(sealed []byte, srkAuth, dataAuth tpmutil.Secret) ([]byte, error) {
	// Convert the sealed value into a tpmStoredData.
	var tsd tpmStoredData
	if _, err := tpmutil.Unpack(sealed, &tsd); err != nil {
		return nil, errors.New("couldn't convert the sealed data into a tpmStoredData struct")
	}
	if tsd.Version != storedDataVersion {
		return nil, errors.New("sealed data has unsupported version " + strconv.FormatUint(uint64(tsd.Version), 16))
	}
	in, err := tpmutil.Pack(tsd)
	if err != nil {
		return nil, err
	}

	// The first authorization uses an OSAP session for the SRK.
	srk, err := t.OSAP(ETSRK, KHSRK, srkAuth)
	if err != nil {
		return nil, err
	}
	defer srk.Close()

	// The unseal command needs an OIAP session in addition to the OSAP
	// session, keyed with the data's own secret.
	da, err := t.OIAP(dataAuth)
	if err != nil {
		return nil, err
	}
	defer da.Close()

	// The digest for auth1 and auth2 for the unseal command is computed as
	// digest = SHA1(ordUnseal || tsd)
	out, err := t.RunAuth2(&Command{Ordinal: ordUnseal, Handles: []tpmutil.Handle{KHSRK}, Params: in},
		Authorization{Session: srk}, Authorization{Session: da})
	if err != nil {
		return nil, err
	}

	var unsealed []byte
	if err := unpackOutput(ordUnseal, out, &unsealed); err != nil {
		return nil, err
	}
	return unsealed, nil
}
