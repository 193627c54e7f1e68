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
	"io"
)

// RawBytes is for Pack arguments that are already encoded. Compared to
// []byte, RawBytes will not be prepended with slice length during encoding.
type RawBytes []byte

// U16Bytes is a byte slice with a 16-bit header
type U16Bytes []byte

// TPMMarshal packs U16Bytes
func (b *U16Bytes) TPMMarshal(out io.Writer) error {
	size := uint16(len([]byte(*b)))
	if err := binary.Write(out, binary.BigEndian, size); err != nil {
		return err
	}
	_, err := out.Write(*b)
	return err
}

// TPMUnmarshal unpacks a U16Bytes
func (b *U16Bytes) TPMUnmarshal(in io.Reader) error {
	var size uint16
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return err
	}
	buf := []byte(*b)
	if err := readSized(in, &buf, uint32(size)); err != nil {
		return err
	}
	*b = buf
	return nil
}

// U32Bytes is a byte slice with a 32-bit header. It encodes exactly like a
// plain []byte and exists for readability in command structures.
type U32Bytes []byte

// TPMMarshal packs U32Bytes
func (b *U32Bytes) TPMMarshal(out io.Writer) error {
	size := uint32(len([]byte(*b)))
	if err := binary.Write(out, binary.BigEndian, size); err != nil {
		return err
	}
	_, err := out.Write(*b)
	return err
}

// TPMUnmarshal unpacks a U32Bytes
func (b *U32Bytes) TPMUnmarshal(in io.Reader) error {
	var size uint32
	if err := binary.Read(in, binary.BigEndian, &size); err != nil {
		return err
	}
	buf := []byte(*b)
	if err := readSized(in, &buf, size); err != nil {
		return err
	}
	*b = buf
	return nil
}

// Tag is a command or response tag. It selects how many authorization
// blocks trail the parameters.
type Tag uint16

// TPM 1.2 command and response tags.
const (
	TagRQUCommand      Tag = 0x00C1
	TagRQUAuth1Command Tag = 0x00C2
	TagRQUAuth2Command Tag = 0x00C3
	TagRSPCommand      Tag = 0x00C4
	TagRSPAuth1Command Tag = 0x00C5
	TagRSPAuth2Command Tag = 0x00C6
)

// AuthCount reports how many authorization blocks a frame with this tag
// carries, or -1 if the tag is not a TPM 1.2 command or response tag.
func (t Tag) AuthCount() int {
	switch t {
	case TagRQUCommand, TagRSPCommand:
		return 0
	case TagRQUAuth1Command, TagRSPAuth1Command:
		return 1
	case TagRQUAuth2Command, TagRSPAuth2Command:
		return 2
	}
	return -1
}

// IsRequest reports whether t is one of the request tags.
func (t Tag) IsRequest() bool {
	return t >= TagRQUCommand && t <= TagRQUAuth2Command
}

// Response returns the response tag matching a request tag. A request tag
// and its response tag differ by 3.
func (t Tag) Response() Tag {
	if t.IsRequest() {
		return t + 3
	}
	return t
}

// CommandTag returns the request tag for n authorization blocks.
func CommandTag(n int) (Tag, error) {
	switch n {
	case 0:
		return TagRQUCommand, nil
	case 1:
		return TagRQUAuth1Command, nil
	case 2:
		return TagRQUAuth2Command, nil
	}
	return 0, fmt.Errorf("no command tag carries %d authorization blocks", n)
}

// Command is an identifier of a TPM command (its ordinal).
type Command uint32

// ResponseCode is a response code returned by TPM.
type ResponseCode uint32

// RCSuccess is response code for successful command.
const RCSuccess ResponseCode = 0x000

// A Handle is a reference to a TPM object.
type Handle uint32

// SecretSize is the size of every TPM 1.2 nonce, digest and secret.
const SecretSize = 20

// Nonce is a 20-byte value contributed by one side of an authorization
// exchange.
type Nonce [SecretSize]byte

// Digest is a SHA-1 digest or HMAC-SHA1 value.
type Digest [SecretSize]byte

// Secret is a 20-byte authorization secret (TPM_AUTHDATA / TPM_SECRET).
type Secret [SecretSize]byte

// Frame layout.
const (
	// HeaderSize is the size of tag, paramSize and ordinal/returnCode.
	HeaderSize = 10
	// ParamSizeOffset is the offset of the 32-bit paramSize field.
	ParamSizeOffset = 2
	// MinParamSize is the smallest plausible paramSize: tag and paramSize.
	MinParamSize = 6
	// CommandAuthSize is handle, nonceOdd, continueAuthSession and auth.
	CommandAuthSize = 4 + SecretSize + 1 + SecretSize
	// ResponseAuthSize is nonceEven, continueAuthSession and auth.
	ResponseAuthSize = SecretSize + 1 + SecretSize
	// MaxResponseSize is the buffer size device drivers read into.
	MaxResponseSize = 4096
)

// SelfMarshaler allows custom types to override default encoding/decoding
// behavior in Pack, Unpack and UnpackBuf.
type SelfMarshaler interface {
	TPMMarshal(out io.Writer) error
	TPMUnmarshal(in io.Reader) error
}
