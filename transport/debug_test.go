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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/nalabelle/tpmj-sub002/transport/transporttest"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newDebugLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

func warnings(hook *test.Hook) []string {
	var msgs []string
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func TestDebugPassesBytesThrough(t *testing.T) {
	rsp := transporttest.Padded(transporttest.Response(tpmutil.RCSuccess, []byte{0, 0, 0, 0}))
	log, hook := newDebugLogger()
	d := transport.Debug(transporttest.Func(func([]byte) ([]byte, error) { return rsp, nil }), log)

	got, err := d.Transmit(getRandomCmd)
	if err != nil {
		t.Fatalf("Transmit() = %v", err)
	}
	if diff := cmp.Diff(rsp, got); diff != "" {
		t.Errorf("response was modified (-want +got):\n%s", diff)
	}
	if w := warnings(hook); len(w) != 0 {
		t.Errorf("unexpected warnings: %q", w)
	}
	last := hook.LastEntry()
	if last == nil {
		t.Fatal("nothing logged")
	}
	for _, k := range []string{"ordinal", "returnCode", "elapsed"} {
		if _, ok := last.Data[k]; !ok {
			t.Errorf("response entry lacks field %q: %v", k, last.Data)
		}
	}
	if got, want := last.Data["ordinal"], "0x00000046"; got != want {
		t.Errorf("ordinal field = %v, want %v", got, want)
	}
}

func TestDebugWarnsOnParamSizeMismatch(t *testing.T) {
	short := transporttest.Response(tpmutil.RCSuccess, []byte{0, 0, 0, 0})
	short = short[:len(short)-2]
	log, hook := newDebugLogger()
	d := transport.Debug(transporttest.Func(func([]byte) ([]byte, error) { return short, nil }), log)

	badCmd := append(append([]byte{}, getRandomCmd...), 0xff)
	if _, err := d.Transmit(badCmd); err != nil {
		t.Fatalf("Transmit() = %v", err)
	}
	want := []string{
		"request paramSize does not match its length",
		"response paramSize exceeds the bytes received",
	}
	if diff := cmp.Diff(want, warnings(hook)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}

func TestDebugLogsTransmitFailure(t *testing.T) {
	ioErr := errors.New("bus error")
	log, hook := newDebugLogger()
	d := transport.Debug(transporttest.Failing(ioErr), log)
	if _, err := d.Transmit(getRandomCmd); !errors.Is(err, ioErr) {
		t.Fatalf("Transmit() = %v, want %v", err, ioErr)
	}
	if diff := cmp.Diff([]string{"transmit failed"}, warnings(hook)); diff != "" {
		t.Errorf("warnings (-want +got):\n%s", diff)
	}
}
