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
	"crypto/rsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// Algorithm ID values.
const (
	_ uint32 = iota
	algRSA
)

// defaultRSAExponent is used when a TPM_RSA_KEY_PARMS carries no exponent.
const defaultRSAExponent = 65537

// keyParms is TPM_KEY_PARMS.
type keyParms struct {
	AlgID     uint32
	EncScheme uint16
	SigScheme uint16
	Parms     []byte
}

// rsaKeyParms is TPM_RSA_KEY_PARMS.
type rsaKeyParms struct {
	KeyLength uint32
	NumPrimes uint32
	Exponent  []byte
}

// pubKey is TPM_PUBKEY: the key parameters followed by TPM_STORE_PUBKEY.
type pubKey struct {
	AlgorithmParms keyParms
	Key            []byte
}

// UnmarshalRSAPublicKey converts a TPM_PUBKEY, as returned by
// OwnerReadInternalPub, into a crypto/rsa.PublicKey.
func UnmarshalRSAPublicKey(b []byte) (*rsa.PublicKey, error) {
	var pk pubKey
	if err := unpackOutput(ordOwnerReadInternalPub, b, &pk); err != nil {
		return nil, err
	}
	if pk.AlgorithmParms.AlgID != algRSA {
		return nil, fmt.Errorf("only TPM_ALG_RSA keys are supported, not algorithm %d", pk.AlgorithmParms.AlgID)
	}

	var rsakp rsaKeyParms
	if _, err := tpmutil.Unpack(pk.AlgorithmParms.Parms, &rsakp); err != nil {
		return nil, fmt.Errorf("decoding TPM_RSA_KEY_PARMS: %w", err)
	}
	if len(pk.Key) == 0 {
		return nil, errors.New("TPM_PUBKEY has an empty modulus")
	}

	// Make sure that the exponent will fit into an int before using it blindly.
	if len(rsakp.Exponent) > 4 {
		return nil, errors.New("exponent value doesn't fit into an int")
	}
	e := defaultRSAExponent
	if len(rsakp.Exponent) > 0 {
		e = int(new(big.Int).SetBytes(rsakp.Exponent).Int64())
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(pk.Key),
		E: e,
	}, nil
}
