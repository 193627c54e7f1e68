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

package transport

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// RunCommand encodes f, sends it through d and decodes the response.
//
// A response whose return code is nonzero yields a KindReturnCode
// *tpmutil.Error carrying the request and the full response; the decoded
// frame is returned alongside it. Every other failure is a *tpmutil.Error
// whose Request and Ordinal are filled in, and a nil frame.
func RunCommand(d Driver, f *tpmutil.CommandFrame) (*tpmutil.ResponseFrame, error) {
	if d == nil {
		return nil, errors.New("nil TPM driver")
	}
	req, err := f.Encode()
	if err != nil {
		return nil, fmt.Errorf("couldn't encode command 0x%x: %w", uint32(f.Ordinal), err)
	}
	if glog.V(2) {
		glog.Infof("TPM request:\n% x\n", req)
	}

	raw, err := d.Transmit(req)
	if err != nil {
		return nil, annotate(err, f.Ordinal, req)
	}
	if glog.V(2) {
		glog.Infof("TPM response:\n% x\n", raw)
	}

	rsp, err := tpmutil.DecodeResponse(raw)
	if err != nil {
		return nil, annotate(err, f.Ordinal, req)
	}

	if rsp.ReturnCode != tpmutil.RCSuccess {
		return rsp, tpmutil.NewReturnCodeError(rsp.ReturnCode, f.Ordinal, req, raw)
	}

	// A request tag and its response tag differ by 3. An authorized command
	// answered without authorization data cannot be trusted.
	if want := f.Tag.Response(); rsp.Tag != want {
		kind := tpmutil.KindMalformedResponse
		if f.Tag != tpmutil.TagRQUCommand && rsp.Tag == tpmutil.TagRSPCommand {
			kind = tpmutil.KindAuthVerification
		}
		return nil, &tpmutil.Error{
			Kind:     kind,
			Ordinal:  f.Ordinal,
			Request:  req,
			Response: raw,
			Err:      fmt.Errorf("inconsistent tag returned by TPM: expected 0x%04x but got 0x%04x", uint16(want), uint16(rsp.Tag)),
		}
	}
	return rsp, nil
}

// annotate fills in the request context of a classified error, and
// classifies anything else as an I/O failure.
func annotate(err error, ord tpmutil.Command, req []byte) error {
	var te *tpmutil.Error
	if !errors.As(err, &te) {
		return &tpmutil.Error{Kind: tpmutil.KindIO, Ordinal: ord, Request: req, Err: err}
	}
	c := *te
	c.Ordinal = ord
	c.Request = req
	return &c
}
