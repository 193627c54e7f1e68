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

package tpmutil

import (
	"fmt"
)

// Kind classifies a failed TPM exchange.
type Kind int

// Failure kinds. Only KindIO is ever retried.
const (
	// KindIO means the driver could not complete a byte exchange.
	KindIO Kind = iota + 1
	// KindMalformedResponse means the response framing is inconsistent.
	KindMalformedResponse
	// KindNullResponse means the driver returned no bytes at all.
	KindNullResponse
	// KindAuthVerification means a response HMAC did not verify.
	KindAuthVerification
	// KindReturnCode means the TPM processed and rejected the command.
	KindReturnCode
)

var kindNames = map[Kind]string{
	KindIO:                "I/O failure",
	KindMalformedResponse: "malformed response",
	KindNullResponse:      "null response",
	KindAuthVerification:  "response authorization failed",
	KindReturnCode:        "TPM returned an error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown failure kind %d", int(k))
}

// Error makes a Kind usable as an errors.Is target.
func (k Kind) Error() string {
	return "tpm: " + k.String()
}

// Sentinels for errors.Is. Any *Error of the same Kind matches.
var (
	ErrIO                error = KindIO
	ErrMalformedResponse error = KindMalformedResponse
	ErrNullResponse      error = KindNullResponse
	ErrAuthVerification  error = KindAuthVerification
	ErrReturnCode        error = KindReturnCode
)

// Error is the single error type produced by the command path. It carries
// the exchange it failed on so callers can inspect it with errors.As.
type Error struct {
	Kind Kind
	// Code is the TPM return code. Set only for KindReturnCode.
	Code ResponseCode
	// Ordinal is the command that failed, when known.
	Ordinal Command
	// Request is the encoded command frame, when known.
	Request []byte
	// Response is the raw response, when one was received.
	Response []byte
	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindReturnCode:
		return fmt.Sprintf("%v (ordinal 0x%x)", e.Code, uint32(e.Ordinal))
	case e.Err != nil:
		return fmt.Sprintf("tpm: %s: %v", e.Kind.String(), e.Err)
	}
	return e.Kind.Error()
}

// Unwrap returns the underlying cause. For KindReturnCode that is the
// ResponseCode itself, so errors.Is(err, tpmutil.ErrAuthFail) works.
func (e *Error) Unwrap() error {
	if e.Kind == KindReturnCode && e.Err == nil {
		return e.Code
	}
	return e.Err
}

// Is matches a Kind sentinel.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// NewReturnCodeError builds the KindReturnCode error for a rejected command.
func NewReturnCodeError(code ResponseCode, ord Command, req, rsp []byte) *Error {
	return &Error{Kind: KindReturnCode, Code: code, Ordinal: ord, Request: req, Response: rsp}
}

func malformed(rsp []byte, format string, args ...interface{}) *Error {
	return &Error{Kind: KindMalformedResponse, Response: rsp, Err: fmt.Errorf(format, args...)}
}
