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

package transport_test

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/nalabelle/tpmj-sub002/transport/transporttest"
)

func getRandomFrame() *tpmutil.CommandFrame {
	return &tpmutil.CommandFrame{Tag: tpmutil.TagRQUCommand, Ordinal: 0x46, Params: []byte{0, 0, 0, 4}}
}

func TestRunCommand(t *testing.T) {
	params := []byte{0, 0, 0, 2, 0xaa, 0xbb}
	fake := transporttest.Func(func([]byte) ([]byte, error) {
		return transporttest.Response(tpmutil.RCSuccess, params), nil
	})
	rsp, err := transport.RunCommand(fake, getRandomFrame())
	if err != nil {
		t.Fatalf("RunCommand() = %v", err)
	}
	if diff := cmp.Diff(params, rsp.Params); diff != "" {
		t.Errorf("params (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]byte{getRandomCmd}, fake.Requests()); diff != "" {
		t.Errorf("request (-want +got):\n%s", diff)
	}
}

func TestRunCommandReturnCode(t *testing.T) {
	raw := transporttest.Response(tpmutil.ErrBadOrdinal, nil)
	fake := transporttest.Func(func([]byte) ([]byte, error) { return raw, nil })
	rsp, err := transport.RunCommand(fake, getRandomFrame())
	if !errors.Is(err, tpmutil.ErrReturnCode) || !errors.Is(err, tpmutil.ErrBadOrdinal) {
		t.Fatalf("RunCommand() error = %v, want ErrBadOrdinal", err)
	}
	var te *tpmutil.Error
	if !errors.As(err, &te) {
		t.Fatalf("error %T is not a *tpmutil.Error", err)
	}
	want := &tpmutil.Error{Kind: tpmutil.KindReturnCode, Code: tpmutil.ErrBadOrdinal, Ordinal: 0x46, Request: getRandomCmd, Response: raw}
	if diff := cmp.Diff(want, te); diff != "" {
		t.Errorf("error (-want +got):\n%s", diff)
	}
	if rsp == nil || rsp.ReturnCode != tpmutil.ErrBadOrdinal {
		t.Errorf("RunCommand() response = %+v, want the decoded frame", rsp)
	}
}

func TestRunCommandIOError(t *testing.T) {
	fake := transporttest.Failing(io.ErrUnexpectedEOF)
	_, err := transport.RunCommand(fake, getRandomFrame())
	if !errors.Is(err, tpmutil.ErrIO) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("RunCommand() error = %v, want an I/O failure", err)
	}
	var te *tpmutil.Error
	if errors.As(err, &te) && (te.Ordinal != 0x46 || !bytes.Equal(te.Request, getRandomCmd)) {
		t.Errorf("error context = (0x%x, % x), want the request", uint32(te.Ordinal), te.Request)
	}
}

func TestRunCommandMalformed(t *testing.T) {
	for _, tt := range []struct {
		name string
		raw  []byte
	}{
		{"short", []byte{0x00, 0xc4, 0x00}},
		{"oversize", []byte{0x00, 0xc4, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"request tag", []byte{0x00, 0xc1, 0x00, 0x00, 0x00, 0x0a, 0x00, 0x00, 0x00, 0x00}},
		{"wrong response tag", (func() []byte {
			b, _ := (&tpmutil.ResponseFrame{Tag: tpmutil.TagRSPAuth1Command, Auths: make([]tpmutil.ResponseAuth, 1)}).Encode()
			return b
		})()},
	} {
		t.Run(tt.name, func(t *testing.T) {
			fake := transporttest.Func(func([]byte) ([]byte, error) { return tt.raw, nil })
			_, err := transport.RunCommand(fake, getRandomFrame())
			if !errors.Is(err, tpmutil.ErrMalformedResponse) {
				t.Errorf("RunCommand() error = %v, want a malformed response", err)
			}
		})
	}
}

func TestRunCommandUnauthorizedResponse(t *testing.T) {
	f := &tpmutil.CommandFrame{
		Tag:     tpmutil.TagRQUAuth1Command,
		Ordinal: 0x81,
		Params:  []byte{0x40, 0, 0, 6},
		Auths:   []tpmutil.CommandAuth{{AuthHandle: 0x02000000, ContinueSession: true}},
	}
	fake := transporttest.Func(func([]byte) ([]byte, error) {
		return transporttest.Response(tpmutil.RCSuccess, []byte{1, 2, 3}), nil
	})
	_, err := transport.RunCommand(fake, f)
	if !errors.Is(err, tpmutil.ErrAuthVerification) {
		t.Errorf("RunCommand() error = %v, want an authorization failure", err)
	}
}

func TestRunCommandNilDriver(t *testing.T) {
	if _, err := transport.RunCommand(nil, getRandomFrame()); err == nil {
		t.Error("RunCommand(nil) succeeded")
	}
}

type pipe struct {
	bytes.Buffer
	rsp    []byte
	closed bool
}

func (p *pipe) Read(b []byte) (int, error) { return copy(b, p.rsp), nil }
func (p *pipe) Close() error               { p.closed = true; return nil }

func TestFromReadWriteCloser(t *testing.T) {
	rsp := transporttest.Response(tpmutil.RCSuccess, nil)
	p := &pipe{rsp: rsp}
	var opens int
	d := transport.FromReadWriteCloser(func() (io.ReadWriteCloser, error) {
		opens++
		return p, nil
	})
	if _, err := d.Transmit(getRandomCmd); !errors.Is(err, transport.ErrNotInitialized) {
		t.Errorf("Transmit() before Init = %v, want ErrNotInitialized", err)
	}
	for i := 0; i < 2; i++ {
		if err := d.Init(); err != nil {
			t.Fatalf("Init() = %v", err)
		}
	}
	if opens != 1 {
		t.Errorf("channel opened %d times, want 1", opens)
	}
	got, err := d.Transmit(getRandomCmd)
	if err != nil {
		t.Fatalf("Transmit() = %v", err)
	}
	if diff := cmp.Diff(rsp, got); diff != "" {
		t.Errorf("response (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(getRandomCmd, p.Bytes()); diff != "" {
		t.Errorf("written (-want +got):\n%s", diff)
	}
	if err := d.Cleanup(); err != nil || !p.closed {
		t.Errorf("Cleanup() = %v, closed = %v", err, p.closed)
	}
}

func TestReadFrame(t *testing.T) {
	rsp := transporttest.Response(tpmutil.RCSuccess, []byte{1, 2, 3, 4})
	stream := bytes.NewReader(append(append([]byte{}, rsp...), 0xff, 0xff))
	got, err := transport.ReadFrame(stream)
	if err != nil {
		t.Fatalf("ReadFrame() = %v", err)
	}
	if diff := cmp.Diff(rsp, got); diff != "" {
		t.Errorf("ReadFrame() (-want +got):\n%s", diff)
	}
	if stream.Len() != 2 {
		t.Errorf("ReadFrame() consumed trailing bytes, %d left", stream.Len())
	}

	for _, tt := range []struct {
		name      string
		b         []byte
		malformed bool
	}{
		{"short header", rsp[:6], false},
		{"short body", rsp[:len(rsp)-1], false},
		{"size below header", []byte{0x00, 0xc4, 0x00, 0x00, 0x00, 0x08, 0, 0, 0, 0}, true},
		{"size above maximum", []byte{0x00, 0xc4, 0x00, 0x01, 0x00, 0x00, 0, 0, 0, 0}, true},
	} {
		_, err := transport.ReadFrame(bytes.NewReader(tt.b))
		if err == nil {
			t.Errorf("%s: ReadFrame() succeeded", tt.name)
			continue
		}
		if got := errors.Is(err, tpmutil.ErrMalformedResponse); got != tt.malformed {
			t.Errorf("%s: ReadFrame() = %v, malformed %v, want %v", tt.name, err, got, tt.malformed)
		}
	}
}

func TestBadParamSizeNotRetried(t *testing.T) {
	fake := transporttest.Func(func([]byte) ([]byte, error) {
		return transport.ReadFrame(bytes.NewReader([]byte{0x00, 0xc4, 0x00, 0x00, 0x00, 0x08, 0, 0, 0, 0}))
	})
	r := transport.NewRetrier(fake, transport.Config{Retries: 3, Sleep: func(time.Duration) {}})
	_, err := r.Transmit(getRandomCmd)
	if !errors.Is(err, tpmutil.ErrMalformedResponse) || errors.Is(err, tpmutil.ErrIO) {
		t.Errorf("Transmit() = %v, want a malformed response", err)
	}
	if fake.Calls() != 1 {
		t.Errorf("%d transport calls, want 1", fake.Calls())
	}
}
