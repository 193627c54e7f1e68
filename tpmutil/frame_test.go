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
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeGetCapabilityCommand(t *testing.T) {
	// capArea, then a length-prefixed subCap.
	params, err := Pack(uint32(5), []byte{0, 0, 1, 3})
	if err != nil {
		t.Fatal("Couldn't pack the capability parameters:", err)
	}
	f := &CommandFrame{Tag: TagRQUCommand, Ordinal: 0x65, Params: params}
	b, err := f.Encode()
	if err != nil {
		t.Fatal("Encode failed:", err)
	}

	wantLen := HeaderSize + 4 + 4 + 4
	if len(b) != wantLen {
		t.Fatalf("Encode produced %d bytes, want %d", len(b), wantLen)
	}
	wantHeader := []byte{0x00, 0xC1, 0x00, 0x00, 0x00, byte(wantLen), 0x00, 0x00, 0x00, 0x65}
	if diff := cmp.Diff(wantHeader, b[:HeaderSize]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if size, _ := ParamSize(b); int(size) != len(b) {
		t.Errorf("paramSize = %d, want %d", size, len(b))
	}
}

func TestEncodeCommandAuthCountMismatch(t *testing.T) {
	tests := []struct {
		name  string
		frame CommandFrame
	}{
		{"auth1 without auth", CommandFrame{Tag: TagRQUAuth1Command, Ordinal: 1}},
		{"plain with auth", CommandFrame{Tag: TagRQUCommand, Ordinal: 1, Auths: make([]CommandAuth, 1)}},
		{"response tag", CommandFrame{Tag: TagRSPCommand, Ordinal: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.frame.Encode(); err == nil {
				t.Error("Encode succeeded on an inconsistent frame")
			}
		})
	}
}

func TestCommandRoundTrip(t *testing.T) {
	f := &CommandFrame{
		Tag:     TagRQUAuth2Command,
		Ordinal: 0x18,
		Params:  []byte{0x40, 0, 0, 0, 1, 2, 3},
		Auths: []CommandAuth{
			{AuthHandle: 0x01000001, NonceOdd: Nonce{1}, ContinueSession: true, Auth: Digest{2}},
			{AuthHandle: 0x01000002, NonceOdd: Nonce{3}, Auth: Digest{4}},
		},
	}
	b, err := f.Encode()
	if err != nil {
		t.Fatal("Encode failed:", err)
	}
	if want := HeaderSize + len(f.Params) + 2*CommandAuthSize; len(b) != want {
		t.Fatalf("Encode produced %d bytes, want %d", len(b), want)
	}
	got, err := DecodeCommand(b)
	if err != nil {
		t.Fatal("DecodeCommand failed:", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	responses := []*ResponseFrame{
		{Tag: TagRSPCommand, Params: []byte{}, Auths: []ResponseAuth{}},
		{Tag: TagRSPCommand, ReturnCode: ErrAuthFail, Params: []byte{}, Auths: []ResponseAuth{}},
		{Tag: TagRSPAuth1Command, Params: []byte{0, 0, 0, 2, 0xaa, 0xbb}, Auths: []ResponseAuth{
			{NonceEven: Nonce{9}, ContinueSession: true, Auth: Digest{8}},
		}},
		{Tag: TagRSPAuth2Command, Params: []byte{7}, Auths: []ResponseAuth{
			{NonceEven: Nonce{1}, Auth: Digest{2}},
			{NonceEven: Nonce{3}, ContinueSession: true, Auth: Digest{4}},
		}},
	}
	for _, rf := range responses {
		buf, err := rf.Encode()
		if err != nil {
			t.Fatal("Encode failed:", err)
		}
		first, err := DecodeResponse(buf)
		if err != nil {
			t.Fatal("DecodeResponse failed:", err)
		}
		again, err := first.Encode()
		if err != nil {
			t.Fatal("re-Encode failed:", err)
		}
		if !bytes.Equal(buf, again) {
			t.Errorf("encode(decode(buf)) = % x, want % x", again, buf)
		}
		second, err := DecodeResponse(again)
		if err != nil {
			t.Fatal("second DecodeResponse failed:", err)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("decode(encode(decode(buf))) mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(rf, first); diff != "" {
			t.Errorf("decode mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeResponseIgnoresTrailingBytes(t *testing.T) {
	buf := make([]byte, MaxResponseSize)
	for i := range buf {
		buf[i] = 0xee
	}
	binary.BigEndian.PutUint16(buf[0:], uint16(TagRSPCommand))
	binary.BigEndian.PutUint32(buf[2:], 30)
	binary.BigEndian.PutUint32(buf[6:], 0)
	for i := HeaderSize; i < 30; i++ {
		buf[i] = byte(i)
	}

	f, err := DecodeResponse(buf)
	if err != nil {
		t.Fatal("DecodeResponse failed:", err)
	}
	if f.ReturnCode != RCSuccess {
		t.Errorf("ReturnCode = %v, want success", f.ReturnCode)
	}
	if len(f.Params) != 20 {
		t.Fatalf("got %d parameter bytes, want 20", len(f.Params))
	}
	for i, b := range f.Params {
		if b != byte(i+HeaderSize) {
			t.Fatalf("Params[%d] = %x, trailing buffer leaked into the frame", i, b)
		}
	}
}

func TestDecodeResponseMalformed(t *testing.T) {
	good, err := (&ResponseFrame{Tag: TagRSPAuth1Command, Params: []byte{1, 2}, Auths: make([]ResponseAuth, 1)}).Encode()
	if err != nil {
		t.Fatal(err)
	}
	withSize := func(b []byte, size uint32) []byte {
		c := append([]byte{}, b...)
		binary.BigEndian.PutUint32(c[2:], size)
		return c
	}
	withTag := func(b []byte, tag Tag) []byte {
		c := append([]byte{}, b...)
		binary.BigEndian.PutUint16(c[0:], uint16(tag))
		return c
	}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"empty", nil},
		{"no paramSize", []byte{0, 0xc4, 0}},
		{"paramSize below minimum", withSize(good, 5)},
		{"paramSize beyond buffer", withSize(good, uint32(len(good)+1))},
		{"paramSize shorter than header", withSize(good, 8)},
		{"request tag", withTag(good, TagRQUCommand)},
		{"unknown tag", withTag(good, 0x1234)},
		{"too short for auth blocks", withSize(good, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse(tt.buf)
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("DecodeResponse = %v, want a malformed response error", err)
			}
			var te *Error
			if !errors.As(err, &te) || te.Kind != KindMalformedResponse {
				t.Fatalf("DecodeResponse error %v is not a *Error of the malformed kind", err)
			}
		})
	}
}

func TestTruncateToParamSize(t *testing.T) {
	exact := []byte{0, 0xc4, 0, 0, 0, 10, 0, 0, 0, 0}
	long := append(append([]byte{}, exact...), 1, 2, 3)

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{"shorter than size field", []byte{0, 0xc4, 0}, []byte{0, 0xc4, 0}},
		{"already exact", exact, exact},
		{"over-allocated", long, exact},
		{"declared size beyond buffer", []byte{0, 0xc4, 0, 0, 0, 99, 1, 2}, []byte{0, 0xc4, 0, 0, 0, 99, 1, 2}},
		{"declared size below minimum", []byte{0, 0xc4, 0, 0, 0, 5, 1, 2}, []byte{0, 0xc4, 0, 0, 0, 5, 1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateToParamSize(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("TruncateToParamSize mismatch (-want +got):\n%s", diff)
			}
			if again := TruncateToParamSize(got); !bytes.Equal(again, got) {
				t.Errorf("TruncateToParamSize is not idempotent: % x then % x", got, again)
			}
		})
	}
}
