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

package transporttest

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

const (
	ordOIAP                 tpmutil.Command = 0x0000000A
	ordOSAP                 tpmutil.Command = 0x0000000B
	ordDSAP                 tpmutil.Command = 0x00000011
	ordExtend               tpmutil.Command = 0x00000014
	ordPCRRead              tpmutil.Command = 0x00000015
	ordSeal                 tpmutil.Command = 0x00000017
	ordUnseal               tpmutil.Command = 0x00000018
	ordGetRandom            tpmutil.Command = 0x00000046
	ordGetCapability        tpmutil.Command = 0x00000065
	ordOwnerReadInternalPub tpmutil.Command = 0x00000081
	ordTerminateHandle      tpmutil.Command = 0x00000096
	ordFlushSpecific        tpmutil.Command = 0x000000BA
)

const (
	etKeyHandle uint16 = 0x0001
	etOwner     uint16 = 0x0002
	etSRK       uint16 = 0x0004

	khSRK   tpmutil.Handle = 0x40000000
	khOwner tpmutil.Handle = 0x40000001
	khEK    tpmutil.Handle = 0x40000006

	capProperty         uint32 = 0x05
	capVersion          uint32 = 0x06
	capVersionVal       uint32 = 0x1A
	capPropManufacturer uint32 = 0x103

	rtAuth uint32 = 0x00000002

	storedDataVersion uint32 = 0x01010000
	numPCRs                  = 24
	firstAuthHandle          = tpmutil.Handle(0x02000000)
)

// Emulator is an in-memory TPM 1.2 that implements the authorization
// protocols (OIAP, OSAP, DSAP) and a handful of commands, enough to drive
// the command path end to end. It checks every command HMAC and signs every
// response the way a chip does.
type Emulator struct {
	// Manufacturer is reported for TPM_CAP_PROP_MANUFACTURER.
	Manufacturer uint32
	// Version is major, minor, revMajor, revMinor.
	Version [4]byte
	// Version11 makes TPM_CAP_VERSION_VAL fail the way a 1.1 chip does.
	Version11 bool
	// OwnerAuth, SRKAuth and DelegateAuth are the entity secrets.
	OwnerAuth    tpmutil.Secret
	SRKAuth      tpmutil.Secret
	DelegateAuth tpmutil.Secret
	// EKPub and SRKPub are the TPM_PUBKEY blobs returned by
	// OwnerReadInternalPub.
	EKPub  []byte
	SRKPub []byte
	// Tamper, if set, may rewrite every encoded response.
	Tamper func(rsp []byte) []byte
	// Pad returns responses inside a MaxResponseSize buffer.
	Pad bool

	mu          sync.Mutex
	initialized bool
	pcrs        [numPCRs]tpmutil.Digest
	sessions    map[tpmutil.Handle]*emuSession
	nextHandle  tpmutil.Handle
	blobs       map[uint32]emuBlob
	nextBlob    uint32
	ordinals    []tpmutil.Command
}

type emuSession struct {
	oiap      bool
	shared    tpmutil.Secret
	nonceEven tpmutil.Nonce
}

type emuBlob struct {
	data []byte
	auth tpmutil.Secret
}

// NewEmulator returns an Emulator reporting an Infineon 1.2 chip, with all
// entity secrets set to the well-known zero value.
func NewEmulator() *Emulator {
	return &Emulator{
		Manufacturer: 0x49465800,
		Version:      [4]byte{1, 2, 3, 17},
		EKPub:        RSAPubKey("emulated endorsement key", 65537),
		SRKPub:       RSAPubKey("emulated storage root key", 0),
	}
}

// RSAPubKey encodes a 2048-bit TPM_PUBKEY whose modulus is derived from
// seed. An exponent of 0 is left out of the key parameters, meaning 65537.
func RSAPubKey(seed string, exponent uint32) []byte {
	var n []byte
	for i := byte(0); len(n) < 256; i++ {
		h := sha1.Sum(append([]byte{i}, seed...))
		n = append(n, h[:]...)
	}
	n = n[:256]
	n[0] |= 0x80
	n[255] |= 0x01

	var exp []byte
	if exponent != 0 {
		exp = u32(exponent)
	}
	parms, err := tpmutil.Pack(uint32(2048), uint32(2), exp)
	if err != nil {
		panic(err)
	}
	// TPM_ALG_RSA, TPM_ES_RSAESOAEP_SHA1_MGF1, TPM_SS_NONE
	b, err := tpmutil.Pack(uint32(1), uint16(3), uint16(1), parms, n)
	if err != nil {
		panic(err)
	}
	return b
}

// Init implements transport.Driver.
func (e *Emulator) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessions == nil {
		e.sessions = make(map[tpmutil.Handle]*emuSession)
		e.blobs = make(map[uint32]emuBlob)
		e.nextHandle = firstAuthHandle
	}
	e.initialized = true
	return nil
}

// Cleanup implements transport.Driver.
func (e *Emulator) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	return nil
}

// Transmit implements transport.Driver.
func (e *Emulator) Transmit(cmd []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil, errors.New("emulator: not initialized")
	}
	rsp := e.execute(cmd)
	if e.Tamper != nil {
		rsp = e.Tamper(rsp)
	}
	if e.Pad {
		rsp = Padded(rsp)
	}
	return rsp, nil
}

// OpenSessions returns the number of live authorization sessions.
func (e *Emulator) OpenSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// SessionNonceEven returns the nonceEven the emulator last issued for h.
func (e *Emulator) SessionNonceEven(h tpmutil.Handle) (tpmutil.Nonce, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[h]
	if !ok {
		return tpmutil.Nonce{}, false
	}
	return s.nonceEven, true
}

// Ordinals returns every ordinal received, in order.
func (e *Emulator) Ordinals() []tpmutil.Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]tpmutil.Command{}, e.ordinals...)
}

// PCR returns the current value of PCR i.
func (e *Emulator) PCR(i int) tpmutil.Digest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pcrs[i]
}

func (e *Emulator) execute(cmd []byte) []byte {
	f, err := tpmutil.DecodeCommand(cmd)
	if err != nil {
		return Response(tpmutil.ErrBadParamSize, nil)
	}
	e.ordinals = append(e.ordinals, f.Ordinal)

	var out []byte
	var rc tpmutil.ResponseCode
	switch f.Ordinal {
	case ordOIAP:
		out, rc = e.oiap(f)
	case ordOSAP:
		out, rc = e.osap(f)
	case ordDSAP:
		out, rc = e.dsap(f)
	case ordTerminateHandle:
		out, rc = e.terminateHandle(f)
	case ordFlushSpecific:
		out, rc = e.flushSpecific(f)
	case ordGetCapability:
		out, rc = e.getCapability(f)
	case ordGetRandom:
		out, rc = e.getRandom(f)
	case ordPCRRead:
		out, rc = e.pcrRead(f)
	case ordExtend:
		out, rc = e.extend(f)
	case ordSeal:
		return e.seal(f)
	case ordUnseal:
		return e.unseal(f)
	case ordOwnerReadInternalPub:
		return e.ownerReadInternalPub(f)
	default:
		rc = tpmutil.ErrBadOrdinal
	}
	if rc != tpmutil.RCSuccess {
		return e.fail(f, rc)
	}
	return Response(tpmutil.RCSuccess, out)
}

// fail answers with rc and, like a chip, drops every session the command
// referenced.
func (e *Emulator) fail(f *tpmutil.CommandFrame, rc tpmutil.ResponseCode) []byte {
	for _, a := range f.Auths {
		delete(e.sessions, a.AuthHandle)
	}
	return Response(rc, nil)
}

func (e *Emulator) newSession(oiap bool) (tpmutil.Handle, *emuSession) {
	h := e.nextHandle
	e.nextHandle++
	s := &emuSession{oiap: oiap}
	rand.Read(s.nonceEven[:])
	e.sessions[h] = s
	return h, s
}

func (e *Emulator) entitySecret(et uint16, ev tpmutil.Handle) (tpmutil.Secret, bool) {
	switch {
	case et == etOwner, et == etKeyHandle && ev == khOwner:
		return e.OwnerAuth, true
	case et == etSRK, et == etKeyHandle && ev == khSRK:
		return e.SRKAuth, true
	}
	return tpmutil.Secret{}, false
}

func hmacSHA1(key tpmutil.Secret, parts ...[]byte) tpmutil.Digest {
	mac := hmac.New(sha1.New, key[:])
	for _, p := range parts {
		mac.Write(p)
	}
	var d tpmutil.Digest
	copy(d[:], mac.Sum(nil))
	return d
}

func contByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

// authorize checks the command HMACs. entity holds the usage secret of the
// entity behind each authorization slot, used for OIAP sessions; OSAP and
// DSAP sessions use their shared secret. It returns the HMAC keys for the
// response.
func (e *Emulator) authorize(f *tpmutil.CommandFrame, digestParams []byte, entity ...tpmutil.Secret) ([]tpmutil.Secret, tpmutil.ResponseCode) {
	if len(entity) != len(f.Auths) {
		return nil, tpmutil.ErrBadTag
	}
	paramDigest := sha1.Sum(append(u32(uint32(f.Ordinal)), digestParams...))
	keys := make([]tpmutil.Secret, len(f.Auths))
	for i, a := range f.Auths {
		s, ok := e.sessions[a.AuthHandle]
		if !ok {
			return nil, tpmutil.ErrInvalidAuthHandle
		}
		keys[i] = s.shared
		if s.oiap {
			keys[i] = entity[i]
		}
		want := hmacSHA1(keys[i], paramDigest[:], s.nonceEven[:], a.NonceOdd[:], contByte(a.ContinueSession))
		if !hmac.Equal(want[:], a.Auth[:]) {
			if i == 1 {
				return nil, tpmutil.ErrAuth2Fail
			}
			return nil, tpmutil.ErrAuthFail
		}
	}
	return keys, tpmutil.RCSuccess
}

// respond signs out with fresh even nonces and closes sessions the caller
// did not continue.
func (e *Emulator) respond(f *tpmutil.CommandFrame, keys []tpmutil.Secret, out []byte) []byte {
	outDigest := sha1.Sum(append(append(u32(0), u32(uint32(f.Ordinal))...), out...))
	rf := &tpmutil.ResponseFrame{Tag: f.Tag.Response(), Params: out}
	for i, a := range f.Auths {
		s := e.sessions[a.AuthHandle]
		rand.Read(s.nonceEven[:])
		ra := tpmutil.ResponseAuth{NonceEven: s.nonceEven, ContinueSession: a.ContinueSession}
		ra.Auth = hmacSHA1(keys[i], outDigest[:], ra.NonceEven[:], a.NonceOdd[:], contByte(a.ContinueSession))
		rf.Auths = append(rf.Auths, ra)
		if !a.ContinueSession {
			delete(e.sessions, a.AuthHandle)
		}
	}
	b, err := rf.Encode()
	if err != nil {
		return Response(tpmutil.ErrFail, nil)
	}
	return b
}

func (e *Emulator) oiap(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	h, s := e.newSession(true)
	out, _ := tpmutil.Pack(h, s.nonceEven)
	return out, tpmutil.RCSuccess
}

func (e *Emulator) osap(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var in struct {
		EntityType  uint16
		EntityValue tpmutil.Handle
		NonceOdd    tpmutil.Nonce
	}
	if _, err := tpmutil.Unpack(f.Params, &in); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	secret, ok := e.entitySecret(in.EntityType, in.EntityValue)
	if !ok {
		return nil, tpmutil.ErrInvalidKeyHandle
	}
	h, s := e.newSession(false)
	var evenOSAP tpmutil.Nonce
	rand.Read(evenOSAP[:])
	s.shared = tpmutil.Secret(hmacSHA1(secret, evenOSAP[:], in.NonceOdd[:]))
	out, _ := tpmutil.Pack(h, s.nonceEven, evenOSAP)
	return out, tpmutil.RCSuccess
}

func (e *Emulator) dsap(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var in struct {
		EntityType  uint16
		KeyHandle   tpmutil.Handle
		NonceOdd    tpmutil.Nonce
		EntityValue []byte
	}
	if _, err := tpmutil.Unpack(f.Params, &in); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	h, s := e.newSession(false)
	var evenDSAP tpmutil.Nonce
	rand.Read(evenDSAP[:])
	s.shared = tpmutil.Secret(hmacSHA1(e.DelegateAuth, evenDSAP[:], in.NonceOdd[:]))
	out, _ := tpmutil.Pack(h, s.nonceEven, evenDSAP)
	return out, tpmutil.RCSuccess
}

func (e *Emulator) terminateHandle(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var h tpmutil.Handle
	if _, err := tpmutil.Unpack(f.Params, &h); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	if _, ok := e.sessions[h]; !ok {
		return nil, tpmutil.ErrInvalidAuthHandle
	}
	delete(e.sessions, h)
	return nil, tpmutil.RCSuccess
}

func (e *Emulator) flushSpecific(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var h tpmutil.Handle
	var rt uint32
	if _, err := tpmutil.Unpack(f.Params, &h, &rt); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	if rt == rtAuth {
		if _, ok := e.sessions[h]; !ok {
			return nil, tpmutil.ErrInvalidAuthHandle
		}
		delete(e.sessions, h)
	}
	return nil, tpmutil.RCSuccess
}

func (e *Emulator) getCapability(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var area uint32
	var sub []byte
	if _, err := tpmutil.Unpack(f.Params, &area, &sub); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	var resp []byte
	switch area {
	case capProperty:
		if len(sub) != 4 || binary.BigEndian.Uint32(sub) != capPropManufacturer {
			return nil, tpmutil.ErrBadMode
		}
		resp = u32(e.Manufacturer)
	case capVersion:
		resp = e.Version[:]
	case capVersionVal:
		if e.Version11 {
			return nil, tpmutil.ErrBadMode
		}
		// TPM_CAP_VERSION_INFO with no vendor-specific data.
		resp, _ = tpmutil.Pack(uint16(0x0030), e.Version, uint16(2), byte(3), e.Manufacturer, uint16(0))
	default:
		return nil, tpmutil.ErrBadMode
	}
	out, _ := tpmutil.Pack(resp)
	return out, tpmutil.RCSuccess
}

func (e *Emulator) getRandom(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var n uint32
	if _, err := tpmutil.Unpack(f.Params, &n); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	if n > 1024 {
		n = 1024
	}
	b := make([]byte, n)
	rand.Read(b)
	out, _ := tpmutil.Pack(b)
	return out, tpmutil.RCSuccess
}

func (e *Emulator) pcrRead(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var i uint32
	if _, err := tpmutil.Unpack(f.Params, &i); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	if i >= numPCRs {
		return nil, tpmutil.ErrBadIndex
	}
	return append([]byte{}, e.pcrs[i][:]...), tpmutil.RCSuccess
}

func (e *Emulator) extend(f *tpmutil.CommandFrame) ([]byte, tpmutil.ResponseCode) {
	var i uint32
	var in tpmutil.Digest
	if _, err := tpmutil.Unpack(f.Params, &i, &in); err != nil {
		return nil, tpmutil.ErrBadParameter
	}
	if i >= numPCRs {
		return nil, tpmutil.ErrBadIndex
	}
	e.pcrs[i] = sha1.Sum(append(append([]byte{}, e.pcrs[i][:]...), in[:]...))
	return append([]byte{}, e.pcrs[i][:]...), tpmutil.RCSuccess
}

func (e *Emulator) seal(f *tpmutil.CommandFrame) []byte {
	var keyHandle tpmutil.Handle
	var encAuth tpmutil.Digest
	var pcrInfo, data []byte
	if _, err := tpmutil.Unpack(f.Params, &keyHandle, &encAuth, &pcrInfo, &data); err != nil || len(f.Auths) != 1 {
		return e.fail(f, tpmutil.ErrBadParameter)
	}
	if keyHandle != khSRK {
		return e.fail(f, tpmutil.ErrInvalidKeyHandle)
	}
	s, ok := e.sessions[f.Auths[0].AuthHandle]
	if !ok {
		return e.fail(f, tpmutil.ErrInvalidAuthHandle)
	}
	if s.oiap {
		// ADIP needs a shared secret.
		return e.fail(f, tpmutil.ErrBadMode)
	}
	pad := sha1.Sum(append(append([]byte{}, s.shared[:]...), s.nonceEven[:]...))
	keys, rc := e.authorize(f, f.Params[4:], e.SRKAuth)
	if rc != tpmutil.RCSuccess {
		return e.fail(f, rc)
	}

	var dataAuth tpmutil.Secret
	for i := range dataAuth {
		dataAuth[i] = encAuth[i] ^ pad[i]
	}
	id := e.nextBlob
	e.nextBlob++
	e.blobs[id] = emuBlob{data: append([]byte{}, data...), auth: dataAuth}

	out, _ := tpmutil.Pack(storedDataVersion, pcrInfo, u32(id))
	return e.respond(f, keys, out)
}

func (e *Emulator) unseal(f *tpmutil.CommandFrame) []byte {
	var parent tpmutil.Handle
	var ver uint32
	var info, enc []byte
	if _, err := tpmutil.Unpack(f.Params, &parent, &ver, &info, &enc); err != nil || len(f.Auths) != 2 {
		return e.fail(f, tpmutil.ErrBadParameter)
	}
	if parent != khSRK {
		return e.fail(f, tpmutil.ErrInvalidKeyHandle)
	}
	if ver != storedDataVersion || len(enc) != 4 {
		return e.fail(f, tpmutil.ErrNotSealedBlob)
	}
	blob, ok := e.blobs[binary.BigEndian.Uint32(enc)]
	if !ok {
		return e.fail(f, tpmutil.ErrNotSealedBlob)
	}
	keys, rc := e.authorize(f, f.Params[4:], e.SRKAuth, blob.auth)
	if rc != tpmutil.RCSuccess {
		return e.fail(f, rc)
	}
	out, _ := tpmutil.Pack(blob.data)
	return e.respond(f, keys, out)
}

func (e *Emulator) ownerReadInternalPub(f *tpmutil.CommandFrame) []byte {
	var h tpmutil.Handle
	if _, err := tpmutil.Unpack(f.Params, &h); err != nil || len(f.Auths) != 1 {
		return e.fail(f, tpmutil.ErrBadParameter)
	}
	var pub []byte
	switch h {
	case khEK:
		pub = e.EKPub
	case khSRK:
		pub = e.SRKPub
	default:
		return e.fail(f, tpmutil.ErrBadParameter)
	}
	keys, rc := e.authorize(f, f.Params, e.OwnerAuth)
	if rc != tpmutil.RCSuccess {
		return e.fail(f, rc)
	}
	return e.respond(f, keys, bytes.Clone(pub))
}
