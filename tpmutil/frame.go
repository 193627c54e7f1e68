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
	"encoding/binary"
	"fmt"
)

// CommandAuth is the authorization block appended to an AUTH1 or AUTH2
// command, once per session.
type CommandAuth struct {
	AuthHandle      Handle
	NonceOdd        Nonce
	ContinueSession bool
	Auth            Digest
}

// String returns a string representation of a CommandAuth.
func (ca CommandAuth) String() string {
	return fmt.Sprintf("CommandAuth{AuthHandle: %x, NonceOdd: % x, ContinueSession: %t, Auth: % x}", ca.AuthHandle, ca.NonceOdd, ca.ContinueSession, ca.Auth)
}

// ResponseAuth is the authorization block the TPM appends to an authorized
// response, once per session.
type ResponseAuth struct {
	NonceEven       Nonce
	ContinueSession bool
	Auth            Digest
}

// String returns a string representation of a ResponseAuth.
func (ra ResponseAuth) String() string {
	return fmt.Sprintf("ResponseAuth{NonceEven: % x, ContinueSession: %t, Auth: % x}", ra.NonceEven, ra.ContinueSession, ra.Auth)
}

// A commandHeader is the header for a TPM command.
type commandHeader struct {
	Tag  Tag
	Size uint32
	Cmd  Command
}

// A responseHeader is a header for TPM responses.
type responseHeader struct {
	Tag  Tag
	Size uint32
	Res  ResponseCode
}

// CommandFrame is a complete TPM 1.2 request.
type CommandFrame struct {
	Tag     Tag
	Ordinal Command
	// Params are the serialized command parameters, handles included.
	Params []byte
	Auths  []CommandAuth
}

// Encode serializes the frame, filling in paramSize. The number of
// authorization blocks must match the tag.
func (f *CommandFrame) Encode() ([]byte, error) {
	if n := f.Tag.AuthCount(); !f.Tag.IsRequest() || n != len(f.Auths) {
		return nil, fmt.Errorf("command tag 0x%04x cannot carry %d authorization blocks", uint16(f.Tag), len(f.Auths))
	}
	size := HeaderSize + len(f.Params) + len(f.Auths)*CommandAuthSize
	elts := []interface{}{commandHeader{f.Tag, uint32(size), f.Ordinal}, RawBytes(f.Params)}
	for _, a := range f.Auths {
		elts = append(elts, a)
	}
	return Pack(elts...)
}

// DecodeCommand parses a request frame. It is used by fakes and by
// traffic dumps; production code only encodes commands.
func DecodeCommand(b []byte) (*CommandFrame, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("command of %d bytes is shorter than a header", len(b))
	}
	var ch commandHeader
	if _, err := Unpack(b[:HeaderSize], &ch); err != nil {
		return nil, err
	}
	if int(ch.Size) != len(b) {
		return nil, fmt.Errorf("command paramSize %d does not match its length %d", ch.Size, len(b))
	}
	n := ch.Tag.AuthCount()
	if !ch.Tag.IsRequest() || n < 0 {
		return nil, fmt.Errorf("unknown command tag 0x%04x", uint16(ch.Tag))
	}
	paramEnd := len(b) - n*CommandAuthSize
	if paramEnd < HeaderSize {
		return nil, fmt.Errorf("command of %d bytes is too short for %d authorization blocks", len(b), n)
	}
	f := &CommandFrame{
		Tag:     ch.Tag,
		Ordinal: ch.Cmd,
		Params:  append([]byte{}, b[HeaderSize:paramEnd]...),
		Auths:   make([]CommandAuth, n),
	}
	for i := range f.Auths {
		off := paramEnd + i*CommandAuthSize
		if _, err := Unpack(b[off:off+CommandAuthSize], &f.Auths[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// ResponseFrame is a complete TPM 1.2 response.
type ResponseFrame struct {
	Tag        Tag
	ReturnCode ResponseCode
	// Params are the serialized output parameters.
	Params []byte
	Auths  []ResponseAuth
}

// Encode serializes the frame, filling in paramSize.
func (f *ResponseFrame) Encode() ([]byte, error) {
	if n := f.Tag.AuthCount(); f.Tag.IsRequest() || n != len(f.Auths) {
		return nil, fmt.Errorf("response tag 0x%04x cannot carry %d authorization blocks", uint16(f.Tag), len(f.Auths))
	}
	size := HeaderSize + len(f.Params) + len(f.Auths)*ResponseAuthSize
	elts := []interface{}{responseHeader{f.Tag, uint32(size), f.ReturnCode}, RawBytes(f.Params)}
	for _, a := range f.Auths {
		elts = append(elts, a)
	}
	return Pack(elts...)
}

// DecodeResponse parses a response frame. Only the first paramSize bytes of
// b are considered, so b may be a whole device buffer. It fails with a
// KindMalformedResponse *Error if the declared size is implausible or the
// frame is internally inconsistent.
func DecodeResponse(b []byte) (*ResponseFrame, error) {
	size, ok := ParamSize(b)
	if !ok {
		return nil, malformed(b, "response of %d bytes has no paramSize", len(b))
	}
	if size < MinParamSize || int64(size) > int64(len(b)) {
		return nil, malformed(b, "response paramSize %d is outside [%d, %d]", size, MinParamSize, len(b))
	}
	if size < HeaderSize {
		return nil, malformed(b, "response paramSize %d is shorter than a header", size)
	}
	b = b[:size]

	var rh responseHeader
	if _, err := Unpack(b[:HeaderSize], &rh); err != nil {
		return nil, malformed(b, "%v", err)
	}
	n := rh.Tag.AuthCount()
	if rh.Tag.IsRequest() || n < 0 {
		return nil, malformed(b, "unknown response tag 0x%04x", uint16(rh.Tag))
	}
	paramEnd := len(b) - n*ResponseAuthSize
	if paramEnd < HeaderSize {
		return nil, malformed(b, "response of %d bytes is too short for %d authorization blocks", len(b), n)
	}

	f := &ResponseFrame{
		Tag:        rh.Tag,
		ReturnCode: rh.Res,
		Params:     append([]byte{}, b[HeaderSize:paramEnd]...),
		Auths:      make([]ResponseAuth, n),
	}
	for i := range f.Auths {
		off := paramEnd + i*ResponseAuthSize
		if _, err := Unpack(b[off:off+ResponseAuthSize], &f.Auths[i]); err != nil {
			return nil, malformed(b, "%v", err)
		}
	}
	return f, nil
}

// ParamSize reads the declared paramSize of a frame. It reports false if b
// is too short to hold the field.
func ParamSize(b []byte) (uint32, bool) {
	if len(b) < ParamSizeOffset+4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(b[ParamSizeOffset:]), true
}

// TruncateToParamSize cuts a raw device read down to the frame's declared
// paramSize. If the declared size is implausible (shorter than the size
// field itself, or not shorter than b) b is returned unmodified and
// DecodeResponse is left to reject it.
func TruncateToParamSize(b []byte) []byte {
	size, ok := ParamSize(b)
	if !ok || size < MinParamSize || int64(size) >= int64(len(b)) {
		return b
	}
	return b[:size]
}
