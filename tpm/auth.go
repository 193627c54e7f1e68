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
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// paramDigest computes SHA1(ordinal || params), the digest an authorization
// HMAC is taken over. Handles are not part of params.
func paramDigest(ord tpmutil.Command, params []byte) tpmutil.Digest {
	h := sha1.New()
	binary.Write(h, binary.BigEndian, ord)
	h.Write(params)
	var d tpmutil.Digest
	copy(d[:], h.Sum(nil))
	if glog.V(2) {
		glog.Infof("paramDigest for ordinal 0x%x over % x is % x\n", uint32(ord), params, d)
	}
	return d
}

// responseDigest computes SHA1(returnCode || ordinal || params) for
// response verification. Output handles are not part of params.
func responseDigest(rc tpmutil.ResponseCode, ord tpmutil.Command, params []byte) tpmutil.Digest {
	h := sha1.New()
	binary.Write(h, binary.BigEndian, rc)
	binary.Write(h, binary.BigEndian, ord)
	h.Write(params)
	var d tpmutil.Digest
	copy(d[:], h.Sum(nil))
	if glog.V(2) {
		glog.Infof("response digest for ordinal 0x%x over % x is % x\n", uint32(ord), params, d)
	}
	return d
}

// computeAuth computes
//
//	HMAC-SHA1(key, digest || nonceEven || nonceOdd || continueAuthSession)
//
// which is both the command auth value and, with the response digest and
// the new nonceEven, the expected response auth value.
func computeAuth(key tpmutil.Secret, digest tpmutil.Digest, nonceEven, nonceOdd tpmutil.Nonce, cont bool) tpmutil.Digest {
	hm := hmac.New(sha1.New, key[:])
	hm.Write(digest[:])
	hm.Write(nonceEven[:])
	hm.Write(nonceOdd[:])
	if cont {
		hm.Write([]byte{1})
	} else {
		hm.Write([]byte{0})
	}
	var auth tpmutil.Digest
	copy(auth[:], hm.Sum(nil))
	return auth
}

// sharedSecret computes the OSAP or DSAP session secret
//
//	HMAC-SHA1(entityAuth, nonceEvenOSAP || nonceOddOSAP)
func sharedSecret(entityAuth tpmutil.Secret, even, odd tpmutil.Nonce) tpmutil.Secret {
	hm := hmac.New(sha1.New, entityAuth[:])
	hm.Write(even[:])
	hm.Write(odd[:])
	var s tpmutil.Secret
	copy(s[:], hm.Sum(nil))
	return s
}

// xorAuth encrypts or decrypts an authorization value under the ADIP
// scheme: auth XOR SHA1(secret || nonce).
func xorAuth(secret tpmutil.Secret, nonce tpmutil.Nonce, auth tpmutil.Secret) tpmutil.Secret {
	pad := sha1.Sum(append(append(make([]byte, 0, 2*tpmutil.SecretSize), secret[:]...), nonce[:]...))
	var out tpmutil.Secret
	for i := range out {
		out[i] = auth[i] ^ pad[i]
	}
	return out
}

// zeroBytes zeroes a byte array.
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// SecretFromPassword hashes a password into a 20-byte authorization value
// with SHA-1. The empty password maps to the well-known all-zero secret.
func SecretFromPassword(password string) tpmutil.Secret {
	var s tpmutil.Secret
	if password == "" {
		return s
	}
	return tpmutil.Secret(sha1.Sum([]byte(password)))
}
