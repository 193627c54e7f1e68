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
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type invalidPacked struct {
	A []int
	B uint32
}

type simplePacked struct {
	A uint32
	B uint32
}

type nestedPacked struct {
	SP simplePacked
	C  uint32
}

type nestedSlice struct {
	A uint32
	S []byte
}

type selfMarshaled struct {
	A uint16
	S U16Bytes
	R RawBytes
}

func TestEncodingPackTypeInvalid(t *testing.T) {
	d := io.Discard

	var invalid []int
	if err := packType(d, invalid); err == nil {
		t.Fatal("packType incorrectly succeeds for a slice of integers")
	}
	if err := packType(d, &invalid); err == nil {
		t.Fatal("packType incorrectly succeeds for a pointer to a slice of integers")
	}

	invalid2 := invalidPacked{
		A: make([]int, 10),
		B: 137,
	}
	if err := packType(d, invalid2); err == nil {
		t.Fatal("packType incorrectly succeeds for a struct that contains an integer slice")
	}
	if err := packType(d, &invalid2); err == nil {
		t.Fatal("packType incorrectly succeeds for a pointer to a struct that contains an integer slice")
	}

	var nilPtr *simplePacked
	if err := packType(d, nilPtr); err == nil {
		t.Fatal("packType incorrectly succeeds for a nil pointer")
	}
	if err := packType(d, nil); err == nil {
		t.Fatal("packType incorrectly succeeds for a nil interface")
	}
}

func TestEncodingPack(t *testing.T) {
	buf := []byte{1, 2, 3}
	tests := []struct {
		name string
		in   []interface{}
		want []byte
	}{
		{"uint32", []interface{}{uint32(3)}, []byte{0, 0, 0, 3}},
		{"bool", []interface{}{true, false}, []byte{1, 0}},
		{"byte slice", []interface{}{buf}, []byte{0, 0, 0, 3, 1, 2, 3}},
		{"pointer to byte slice", []interface{}{&buf}, []byte{0, 0, 0, 3, 1, 2, 3}},
		{"nil byte slice", []interface{}{[]byte(nil)}, []byte{0, 0, 0, 0}},
		{"raw bytes", []interface{}{RawBytes(buf)}, []byte{1, 2, 3}},
		{"u16 bytes", []interface{}{U16Bytes(buf)}, []byte{0, 3, 1, 2, 3}},
		{"u32 bytes", []interface{}{U32Bytes(buf)}, []byte{0, 0, 0, 3, 1, 2, 3}},
		{"simple struct", []interface{}{simplePacked{137, 138}}, []byte{0, 0, 0, 137, 0, 0, 0, 138}},
		{"nested struct", []interface{}{nestedPacked{simplePacked{1, 2}, 3}}, []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3}},
		{"struct with slice", []interface{}{nestedSlice{5, buf}}, []byte{0, 0, 0, 5, 0, 0, 0, 3, 1, 2, 3}},
		{"nonce", []interface{}{Nonce{1, 2}}, append([]byte{1, 2}, make([]byte, 18)...)},
		{"tag and command", []interface{}{TagRQUCommand, Command(0x65)}, []byte{0, 0xc1, 0, 0, 0, 0x65}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Pack(tt.in...)
			if err != nil {
				t.Fatalf("Pack(%v) failed: %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Pack(%v) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

// limitedDiscard is an implementation of io.Writer that accepts a given number
// of bytes before returning errors.
type limitedDiscard struct {
	remaining int
}

// Write writes p to the limitedDiscard instance.
func (l *limitedDiscard) Write(p []byte) (n int, err error) {
	n = len(p)
	if n > l.remaining {
		n = l.remaining
		err = io.EOF
	}

	l.remaining -= n
	return
}

func TestEncodingPackShortWriter(t *testing.T) {
	// l has enough space for a uint32 length, but not any bytes.
	l := &limitedDiscard{4}
	if err := packType(l, []byte{1}); err == nil {
		t.Fatal("packType incorrectly packed into a writer that didn't have enough space")
	}

	// l2 doesn't even have enough space to pack a uint32.
	l2 := &limitedDiscard{3}
	if err := packType(l2, []byte(nil)); err == nil {
		t.Fatal("packType incorrectly packed an empty slice size into a writer that didn't have enough space")
	}
}

func TestEncodingInvalidUnpack(t *testing.T) {
	var i *uint32
	ui := []byte{0, 0, 0, 0}
	if err := UnpackBuf(bytes.NewBuffer(ui), i); err == nil {
		t.Fatal("UnpackBuf incorrectly deserialized into a nil pointer")
	}

	var ii uint32
	if err := UnpackBuf(bytes.NewBuffer(ui), ii); err == nil {
		t.Fatal("UnpackBuf incorrectly deserialized into a non pointer")
	}

	var b []byte
	if _, err := Unpack(nil, &b); err == nil {
		t.Fatal("Unpack incorrectly deserialized an empty buffer into a byte slice")
	}

	// A length of 1 with no bytes behind it.
	if _, err := Unpack([]byte{0, 0, 0, 1}, &b); err == nil {
		t.Fatal("Unpack incorrectly deserialized a byte slice that didn't have enough bytes available")
	}

	// A length prefix far larger than the buffer must not be trusted.
	if _, err := Unpack([]byte{0xff, 0xff, 0xff, 0xff, 1}, &b); err == nil {
		t.Fatal("Unpack incorrectly trusted a corrupt length prefix")
	}

	var iii []int
	if _, err := Unpack([]byte{0, 0, 0, 1}, &iii); err == nil {
		t.Fatal("Unpack incorrectly deserialized into a slice of ints (only byte slices are supported)")
	}
}

func TestEncodingUnpack(t *testing.T) {
	var b []byte
	if _, err := Unpack([]byte{0, 0, 0, 0}, &b); err != nil {
		t.Fatal("Unpack failed to unpack the empty byte slice:", err)
	}
	if len(b) != 0 {
		t.Fatalf("Unpack of an empty slice left %d bytes", len(b))
	}

	n, err := Unpack([]byte{0, 0, 0, 1, 137, 99}, &b)
	if err != nil {
		t.Fatal("Unpack failed to unpack a byte slice with a single value in it:", err)
	}
	if n != 5 {
		t.Errorf("Unpack read %d bytes, want 5", n)
	}
	if !bytes.Equal(b, []byte{137}) {
		t.Fatal("Unpack unpacked a small byte slice incorrectly")
	}

	sp := simplePacked{137, 138}
	bsp, err := Pack(sp)
	if err != nil {
		t.Fatal("Couldn't pack a simple struct:", err)
	}
	var sp2 simplePacked
	if _, err := Unpack(bsp, &sp2); err != nil {
		t.Fatal("Couldn't unpack a simple struct:", err)
	}
	if diff := cmp.Diff(sp, sp2); diff != "" {
		t.Fatalf("Unpacked simple struct didn't match the original (-want +got):\n%s", diff)
	}

	// Try unpacking a version that's missing a byte at the end.
	if _, err := Unpack(bsp[:len(bsp)-1], &sp2); err == nil {
		t.Fatal("Unpack incorrectly unpacked from a byte slice that didn't have enough values")
	}

	np := nestedPacked{sp, 139}
	bnp, err := Pack(np)
	if err != nil {
		t.Fatal("Couldn't pack a nested struct:", err)
	}
	var np2 nestedPacked
	if _, err := Unpack(bnp, &np2); err != nil {
		t.Fatal("Couldn't unpack a nested struct:", err)
	}
	if diff := cmp.Diff(np, np2); diff != "" {
		t.Fatalf("Unpacked nested struct didn't match the original (-want +got):\n%s", diff)
	}

	ns := nestedSlice{137, []byte{4, 5, 6}}
	bns, err := Pack(ns)
	if err != nil {
		t.Fatal("Couldn't pack a struct with a nested byte slice:", err)
	}
	var ns2 nestedSlice
	if _, err := Unpack(bns, &ns2); err != nil {
		t.Fatal("Couldn't unpack a struct with a nested slice:", err)
	}
	if diff := cmp.Diff(ns, ns2); diff != "" {
		t.Fatalf("Unpacked struct with nested slice didn't match the original (-want +got):\n%s", diff)
	}
}

func TestEncodingSelfMarshaled(t *testing.T) {
	in := selfMarshaled{A: 7, S: U16Bytes{1, 2}, R: RawBytes{9, 9, 9}}
	b, err := Pack(in)
	if err != nil {
		t.Fatal("Couldn't pack a struct with self-marshaled fields:", err)
	}
	want := []byte{0, 7, 0, 2, 1, 2, 9, 9, 9}
	if diff := cmp.Diff(want, b); diff != "" {
		t.Fatalf("Pack mismatch (-want +got):\n%s", diff)
	}

	var out selfMarshaled
	if _, err := Unpack(b, &out); err != nil {
		t.Fatal("Couldn't unpack a struct with self-marshaled fields:", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("Unpack mismatch (-want +got):\n%s", diff)
	}
}
