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
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// Protocol is the authorization protocol a session was opened with.
type Protocol int

// Authorization protocols.
const (
	ProtocolOIAP Protocol = iota + 1
	ProtocolOSAP
	ProtocolDSAP
)

func (p Protocol) String() string {
	switch p {
	case ProtocolOIAP:
		return "OIAP"
	case ProtocolOSAP:
		return "OSAP"
	case ProtocolDSAP:
		return "DSAP"
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// SessionState is where a session is in its lifecycle.
type SessionState int

// Session states. A session only moves forward.
const (
	// SessionEstablished holds the nonceEven from the opening command.
	SessionEstablished SessionState = iota
	// SessionActive has authorized at least one command.
	SessionActive
	// SessionClosed is terminal: the handle must not be used again.
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionEstablished:
		return "established"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int(s))
}

// ErrSessionClosed is returned when a closed session is used.
var ErrSessionClosed = errors.New("tpm: authorization session is closed")

// A Session is an authorization session on the TPM. It tracks the rolling
// nonces and the secret that keys every command HMAC.
//
// A Session is safe for concurrent use; commands using the same session
// are serialized.
type Session struct {
	t        *TPM
	handle   tpmutil.Handle
	protocol Protocol

	mu sync.Mutex
	// secret is the shared secret for OSAP and DSAP sessions, and the usage
	// secret of the authorized entity for OIAP sessions.
	secret       tpmutil.Secret
	nonceEven    tpmutil.Nonce
	lastNonceOdd tpmutil.Nonce
	state        SessionState
}

// Handle returns the TPM's handle for the session.
func (s *Session) Handle() tpmutil.Handle {
	return s.handle
}

// Protocol returns how the session was opened.
func (s *Session) Protocol() Protocol {
	return s.protocol
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NonceEven returns the nonce the TPM issued most recently.
func (s *Session) NonceEven() tpmutil.Nonce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonceEven
}

// LastNonceOdd returns the nonceOdd of the last command sent.
func (s *Session) LastNonceOdd() tpmutil.Nonce {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastNonceOdd
}

func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("Session{Handle: %x, Protocol: %s, State: %s, NonceEven: % x}", s.handle, s.protocol, s.state, s.nonceEven)
}

// EncryptAuthEven encrypts a new authorization value for a command whose
// parameters carry one (TPM_ENCAUTH), keyed with the session's current
// nonceEven. Only OSAP and DSAP sessions have the shared secret this needs.
func (s *Session) EncryptAuthEven(auth tpmutil.Secret) (tpmutil.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkADIP(); err != nil {
		return tpmutil.Secret{}, err
	}
	return xorAuth(s.secret, s.nonceEven, auth), nil
}

// EncryptAuthOdd is EncryptAuthEven for the commands that key the second
// encrypted value with the nonceOdd of the command itself. The caller must
// pass the same nonceOdd in the command's Authorization.
func (s *Session) EncryptAuthOdd(auth tpmutil.Secret, nonceOdd tpmutil.Nonce) (tpmutil.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkADIP(); err != nil {
		return tpmutil.Secret{}, err
	}
	return xorAuth(s.secret, nonceOdd, auth), nil
}

func (s *Session) checkADIP() error {
	if s.state == SessionClosed {
		return ErrSessionClosed
	}
	if s.protocol == ProtocolOIAP {
		return errors.New("tpm: OIAP sessions cannot encrypt authorization data")
	}
	return nil
}

// Close terminates the session on the TPM. Closing a closed session is a
// no-op. The session is marked closed once the TPM confirms, or reports the
// handle is already gone.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionClosed {
		return nil
	}
	err := s.t.terminateHandle(s.handle)
	if err != nil && !errors.Is(err, tpmutil.ErrInvalidAuthHandle) {
		return err
	}
	s.closeLocked()
	return nil
}

// closeLocked marks the session closed and forgets its secret. s.mu must
// be held.
func (s *Session) closeLocked() {
	if s.state == SessionClosed {
		return
	}
	if glog.V(1) {
		glog.Infof("tpm: %s session 0x%x closed", s.protocol, s.handle)
	}
	s.state = SessionClosed
	zeroBytes(s.secret[:])
	s.t.forget(s)
}

// OIAP opens an object-independent session. Every command it authorizes is
// keyed with entityAuth, the usage secret of the entity being authorized.
func (t *TPM) OIAP(entityAuth tpmutil.Secret) (*Session, error) {
	out, err := t.Run(&Command{Ordinal: ordOIAP, OutHandles: 1})
	if err != nil {
		return nil, err
	}
	var r oiapResponse
	if err := unpackOutput(ordOIAP, out, &r); err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("oiapResponse is %s\n", r)
	}
	return t.register(ProtocolOIAP, r.AuthHandle, r.NonceEven, entityAuth), nil
}

// OSAP opens an object-specific session for the entity identified by
// entityType and entityValue, whose usage secret is entityAuth. The session
// secret is derived from entityAuth and the two OSAP nonces; entityAuth
// itself never goes on the wire.
func (t *TPM) OSAP(entityType EntityType, entityValue tpmutil.Handle, entityAuth tpmutil.Secret) (*Session, error) {
	osapc := osapCommand{EntityType: entityType, EntityValue: entityValue}
	if _, err := rand.Read(osapc.OddOSAP[:]); err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("osapCommand is %s\n", osapc)
	}
	in, err := tpmutil.Pack(osapc)
	if err != nil {
		return nil, err
	}
	out, err := t.Run(&Command{Ordinal: ordOSAP, Params: in, OutHandles: 1})
	if err != nil {
		return nil, err
	}
	var r osapResponse
	if err := unpackOutput(ordOSAP, out, &r); err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("osapResponse is %s\n", r)
	}
	secret := sharedSecret(entityAuth, r.EvenOSAP, osapc.OddOSAP)
	return t.register(ProtocolOSAP, r.AuthHandle, r.NonceEven, secret), nil
}

// DSAP opens a delegate-specific session. entityValue is the delegation
// blob or row (opaque here) and delegatedAuth the secret it carries. Like
// OSAP, the session secret is derived from delegatedAuth and the session
// nonces.
func (t *TPM) DSAP(entityType EntityType, keyHandle tpmutil.Handle, entityValue []byte, delegatedAuth tpmutil.Secret) (*Session, error) {
	dsapc := dsapCommand{EntityType: entityType, KeyHandle: keyHandle, EntityValue: entityValue}
	if _, err := rand.Read(dsapc.OddDSAP[:]); err != nil {
		return nil, err
	}
	if glog.V(2) {
		glog.Infof("dsapCommand is %s\n", dsapc)
	}
	in, err := tpmutil.Pack(dsapc)
	if err != nil {
		return nil, err
	}
	out, err := t.Run(&Command{Ordinal: ordDSAP, Params: in, OutHandles: 1})
	if err != nil {
		return nil, err
	}
	var r osapResponse
	if err := unpackOutput(ordDSAP, out, &r); err != nil {
		return nil, err
	}
	secret := sharedSecret(delegatedAuth, r.EvenOSAP, dsapc.OddDSAP)
	return t.register(ProtocolDSAP, r.AuthHandle, r.NonceEven, secret), nil
}

func (t *TPM) register(p Protocol, h tpmutil.Handle, nonceEven tpmutil.Nonce, secret tpmutil.Secret) *Session {
	s := &Session{t: t, handle: h, protocol: p, secret: secret, nonceEven: nonceEven}
	t.smu.Lock()
	t.sessions[h] = s
	t.smu.Unlock()
	if glog.V(1) {
		glog.Infof("tpm: opened %s session 0x%x", p, h)
	}
	return s
}

func (t *TPM) forget(s *Session) {
	t.smu.Lock()
	defer t.smu.Unlock()
	if t.sessions[s.handle] == s {
		delete(t.sessions, s.handle)
	}
}

// openSessions returns the sessions not yet closed.
func (t *TPM) openSessions() []*Session {
	t.smu.Lock()
	defer t.smu.Unlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}
