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

// Package tpmutil provides the TPM 1.2 wire codec: reflection-based
// packing, command and response frames, and the error taxonomy.
package tpmutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"
)

var (
	selfMarshalerType = reflect.TypeOf((*SelfMarshaler)(nil)).Elem()
	rawBytesType      = reflect.TypeOf(RawBytes(nil))
)

// Pack encodes a set of elements into a single byte array, using
// encoding/binary. This means that all the elements must be encodeable
// according to the rules of encoding/binary.
//
// It has one difference from encoding/binary: it encodes byte slices with a
// prepended uint32 length, to match how the TPM 1.2 encodes variable-length
// arrays. If you wish to add a byte slice without length prefix, use RawBytes.
func Pack(elts ...interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := packType(buf, elts...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// tryMarshal attempts to use a TPMMarshal() method defined on the type
// to pack v into buf. True is returned if the method exists and the
// marshal was attempted.
func tryMarshal(buf io.Writer, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Implements(selfMarshalerType) {
		if v.Kind() == reflect.Ptr && v.IsNil() {
			return true, fmt.Errorf("cannot pack nil %s", t.String())
		}
		return true, v.Interface().(SelfMarshaler).TPMMarshal(buf)
	}

	// A non-pointer value whose pointer type implements the interface.
	if reflect.PtrTo(t).Implements(selfMarshalerType) {
		tmp := reflect.New(t)
		tmp.Elem().Set(v)
		return true, tmp.Interface().(SelfMarshaler).TPMMarshal(buf)
	}

	return false, nil
}

func packValue(buf io.Writer, v reflect.Value) error {
	if !v.IsValid() {
		return errors.New("cannot pack an invalid value")
	}
	if canMarshal, err := tryMarshal(buf, v); canMarshal {
		return err
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot pack nil %s", v.Type().String())
		}
		return packValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := packValue(buf, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot pack slice of %s", v.Type().Elem().String())
		}
		b := v.Bytes()
		if v.Type() != rawBytesType {
			if err := binary.Write(buf, binary.BigEndian, uint32(len(b))); err != nil {
				return err
			}
		}
		_, err := buf.Write(b)
		return err
	}
	return binary.Write(buf, binary.BigEndian, v.Interface())
}

func packType(buf io.Writer, elts ...interface{}) error {
	for _, e := range elts {
		if err := packValue(buf, reflect.ValueOf(e)); err != nil {
			return err
		}
	}
	return nil
}

// tryUnmarshal attempts to use TPMUnmarshal() to perform the
// unpack, if the given value implements SelfMarshaler.
// True is returned if v implements SelfMarshaler & TPMUnmarshal
// was called, along with an error returned from TPMUnmarshal.
func tryUnmarshal(buf io.Reader, v reflect.Value) (bool, error) {
	t := v.Type()
	if t.Implements(selfMarshalerType) && v.Kind() == reflect.Ptr && !v.IsNil() {
		return true, v.Interface().(SelfMarshaler).TPMUnmarshal(buf)
	}

	if v.CanAddr() && reflect.PtrTo(t).Implements(selfMarshalerType) {
		return true, v.Addr().Interface().(SelfMarshaler).TPMUnmarshal(buf)
	}

	return false, nil
}

// Unpack is a convenience wrapper around UnpackBuf. Unpack returns the number
// of bytes read from b to fill elts and error, if any.
func Unpack(b []byte, elts ...interface{}) (int, error) {
	buf := bytes.NewBuffer(b)
	err := UnpackBuf(buf, elts...)
	read := len(b) - buf.Len()
	return read, err
}

// readSized resizes *b to size and fills it from in. The declared size is
// checked against the bytes left in in when the reader can report them, so
// a corrupt length prefix cannot force a huge allocation.
func readSized(in io.Reader, b *[]byte, size uint32) error {
	if l, ok := in.(interface{ Len() int }); ok && int64(size) > int64(l.Len()) {
		return fmt.Errorf("length prefix %d exceeds the %d bytes remaining", size, l.Len())
	}
	if int(size) <= cap(*b) {
		*b = (*b)[:size]
	} else {
		*b = make([]byte, size)
	}
	if size == 0 {
		return nil
	}
	_, err := io.ReadFull(in, *b)
	return err
}

func unpackValue(buf io.Reader, v reflect.Value) error {
	if didUnmarshal, err := tryUnmarshal(buf, v); didUnmarshal {
		return err
	}

	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return fmt.Errorf("cannot unpack into nil %s", v.Type().String())
		}
		return unpackValue(buf, v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if err := unpackValue(buf, v.Field(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.Uint8 {
			return fmt.Errorf("cannot unpack slice of %s", v.Type().Elem().String())
		}
		if v.Type() == rawBytesType {
			// RawBytes swallows the rest of the input.
			rest, err := io.ReadAll(buf)
			if err != nil {
				return err
			}
			v.SetBytes(rest)
			return nil
		}
		var size uint32
		if err := binary.Read(buf, binary.BigEndian, &size); err != nil {
			return err
		}
		b := v.Bytes()
		if err := readSized(buf, &b, size); err != nil {
			return err
		}
		v.SetBytes(b)
		return nil
	}

	// binary.Read can only set pointer values, so we need to take the address.
	if !v.CanAddr() {
		return fmt.Errorf("cannot unpack unaddressable leaf type %q", v.Type().String())
	}
	return binary.Read(buf, binary.BigEndian, v.Addr().Interface())
}

// UnpackBuf recursively unpacks types from a reader just as encoding/binary
// does under binary.BigEndian, but with one difference: it unpacks a byte
// slice by first reading a uint32 length, then reading that many bytes. It
// assumes that incoming values are pointers to values so that, e.g.,
// underlying slices can be resized as needed.
func UnpackBuf(buf io.Reader, elts ...interface{}) error {
	for _, e := range elts {
		v := reflect.ValueOf(e)
		if v.Kind() != reflect.Ptr {
			return fmt.Errorf("non-pointer value %q passed to UnpackBuf", v.Type().String())
		}
		if v.IsNil() {
			return errors.New("nil pointer passed to UnpackBuf")
		}

		if err := unpackValue(buf, v); err != nil {
			return err
		}
	}
	return nil
}
