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

// Package tpm drives a TPM 1.1 or 1.2 through a transport.Driver. It owns
// the authorization sessions (OIAP, OSAP and DSAP) and computes and checks
// the rolling-nonce HMACs of every authorized command.
package tpm

import (
	"crypto/hmac"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"
	"github.com/hashicorp/go-multierror"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
)

// A TPM is a handle on one device. It serializes access to the driver and
// keeps the sessions opened through it and the cached capabilities.
type TPM struct {
	d   transport.Driver
	cfg transport.Config

	// mu serializes exchanges with the device.
	mu sync.Mutex

	smu      sync.Mutex
	sessions map[tpmutil.Handle]*Session

	caps capCache
}

// New returns a TPM talking through d, retrying I/O failures according to
// cfg. The driver is not initialized; call Init before the first command.
func New(d transport.Driver, cfg transport.Config) *TPM {
	r := transport.NewRetrier(d, cfg)
	return &TPM{
		d:        r,
		cfg:      r.Config(),
		sessions: make(map[tpmutil.Handle]*Session),
	}
}

// Config returns the retry policy in effect.
func (t *TPM) Config() transport.Config {
	return t.cfg
}

// Init initializes the driver.
func (t *TPM) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.d.Init()
}

// Close terminates every session still open and releases the driver.
func (t *TPM) Close() error {
	var result *multierror.Error
	for _, s := range t.openSessions() {
		if err := s.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing session 0x%x: %w", s.handle, err))
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.d.Cleanup(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// A Command is one TPM command ready for execution.
type Command struct {
	Ordinal tpmutil.Command
	// Handles precede Params on the wire and are not covered by the
	// authorization digest.
	Handles []tpmutil.Handle
	// Params are the serialized input parameters.
	Params []byte
	// OutHandles is the number of handles leading the response parameters.
	// They are not covered by the response digest.
	OutHandles int
}

// An Authorization selects a session to authorize a command with.
type Authorization struct {
	Session *Session
	// Continue keeps the session open after the command.
	Continue bool
	// NonceOdd, if set, is sent instead of a fresh random nonce.
	NonceOdd *tpmutil.Nonce
}

// Run executes a command that needs no authorization and returns its
// output parameters.
func (t *TPM) Run(c *Command) ([]byte, error) {
	return t.run(c, nil)
}

// RunAuth1 executes a command authorized by one session.
func (t *TPM) RunAuth1(c *Command, a Authorization) ([]byte, error) {
	return t.run(c, []Authorization{a})
}

// RunAuth2 executes a command authorized by two sessions, a1 for the key
// and a2 for the second entity.
func (t *TPM) RunAuth2(c *Command, a1, a2 Authorization) ([]byte, error) {
	return t.run(c, []Authorization{a1, a2})
}

// pending is one authorization slot of a command in flight.
type pending struct {
	s        *Session
	nonceOdd tpmutil.Nonce
	cont     bool
}

func (t *TPM) run(c *Command, auths []Authorization) ([]byte, error) {
	tag, err := tpmutil.CommandTag(len(auths))
	if err != nil {
		return nil, err
	}

	slots := make([]pending, len(auths))
	for i, a := range auths {
		if a.Session == nil {
			return nil, fmt.Errorf("authorization %d has no session", i+1)
		}
		if a.Session.t != t {
			return nil, fmt.Errorf("authorization %d uses a session of another TPM", i+1)
		}
		if i > 0 && a.Session == auths[0].Session {
			return nil, errors.New("both authorizations use the same session")
		}
		slots[i] = pending{s: a.Session, cont: a.Continue}
		if a.NonceOdd != nil {
			slots[i].nonceOdd = *a.NonceOdd
		} else if _, err := rand.Read(slots[i].nonceOdd[:]); err != nil {
			return nil, err
		}
	}
	unlock := lockSessions(slots)
	defer unlock()

	f := &tpmutil.CommandFrame{Tag: tag, Ordinal: c.Ordinal}
	for _, h := range c.Handles {
		hb, err := tpmutil.Pack(h)
		if err != nil {
			return nil, err
		}
		f.Params = append(f.Params, hb...)
	}
	f.Params = append(f.Params, c.Params...)

	if len(slots) > 0 {
		digest := paramDigest(c.Ordinal, c.Params)
		for _, p := range slots {
			if p.s.state == SessionClosed {
				return nil, fmt.Errorf("%w: handle 0x%x", ErrSessionClosed, p.s.handle)
			}
			ca := tpmutil.CommandAuth{AuthHandle: p.s.handle, NonceOdd: p.nonceOdd, ContinueSession: p.cont}
			ca.Auth = computeAuth(p.s.secret, digest, p.s.nonceEven, p.nonceOdd, p.cont)
			p.s.lastNonceOdd = p.nonceOdd
			if glog.V(2) {
				glog.Infof("commandAuth is %s\n", ca)
			}
			f.Auths = append(f.Auths, ca)
		}
	}

	t.mu.Lock()
	rsp, err := transport.RunCommand(t.d, f)
	t.mu.Unlock()

	if len(slots) == 0 {
		if err != nil {
			return nil, err
		}
		return rsp.Params, nil
	}
	if err != nil {
		// A rejected command carries no authorization data and the TPM
		// drops the sessions it named. Without a decoded return code the
		// TPM may still hold them, so they stay registered for Close.
		if errors.Is(err, tpmutil.ErrReturnCode) {
			for _, p := range slots {
				p.s.closeLocked()
			}
		}
		return nil, err
	}
	return t.verify(c, f, rsp, slots)
}

// verify checks every response HMAC. Each session adopts the new nonceEven
// whether or not its HMAC matches, and is closed if it was not continued.
func (t *TPM) verify(c *Command, f *tpmutil.CommandFrame, rsp *tpmutil.ResponseFrame, slots []pending) ([]byte, error) {
	out := rsp.Params
	if len(out) < 4*c.OutHandles {
		for _, p := range slots {
			p.s.closeLocked()
		}
		return nil, &tpmutil.Error{Kind: tpmutil.KindMalformedResponse, Ordinal: c.Ordinal, Err: fmt.Errorf("%d output bytes cannot hold %d handles", len(out), c.OutHandles)}
	}
	digest := responseDigest(rsp.ReturnCode, c.Ordinal, out[4*c.OutHandles:])

	var failed []int
	for i, p := range slots {
		ra := rsp.Auths[i]
		want := computeAuth(p.s.secret, digest, ra.NonceEven, p.nonceOdd, p.cont)
		ok := hmac.Equal(want[:], ra.Auth[:]) && ra.ContinueSession == p.cont
		if glog.V(2) {
			glog.Infof("responseAuth %d is %s, verified: %v\n", i+1, ra, ok)
		}
		p.s.nonceEven = ra.NonceEven
		if p.cont {
			p.s.state = SessionActive
		} else {
			p.s.closeLocked()
		}
		if !ok {
			failed = append(failed, i+1)
		}
	}
	if len(failed) > 0 {
		req, _ := f.Encode()
		raw, _ := rsp.Encode()
		return nil, &tpmutil.Error{
			Kind:     tpmutil.KindAuthVerification,
			Ordinal:  c.Ordinal,
			Request:  req,
			Response: raw,
			Err:      fmt.Errorf("the computed response HMAC didn't match the provided HMAC for authorization %v", failed),
		}
	}
	return out, nil
}

// lockSessions locks the sessions of a command in handle order, so that
// commands sharing sessions cannot deadlock.
func lockSessions(slots []pending) func() {
	ss := make([]*Session, len(slots))
	for i, p := range slots {
		ss[i] = p.s
	}
	sort.Slice(ss, func(i, j int) bool { return ss[i].handle < ss[j].handle })
	for _, s := range ss {
		s.mu.Lock()
	}
	return func() {
		for _, s := range ss {
			s.mu.Unlock()
		}
	}
}

// unpackOutput decodes command output, classifying failures as malformed
// responses.
func unpackOutput(ord tpmutil.Command, out []byte, elts ...interface{}) error {
	if _, err := tpmutil.Unpack(out, elts...); err != nil {
		return &tpmutil.Error{Kind: tpmutil.KindMalformedResponse, Ordinal: ord, Err: fmt.Errorf("couldn't decode output % x: %w", out, err)}
	}
	return nil
}
