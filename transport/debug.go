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
	"encoding/binary"
	"fmt"
	"time"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/sirupsen/logrus"
)

// Debug wraps d so that every exchange is logged to log: the request and
// response bytes, the ordinal and return code, and the elapsed time. A
// frame whose declared paramSize disagrees with its length is reported as a
// warning; the bytes are passed through unchanged.
func Debug(d Driver, log logrus.FieldLogger) Driver {
	return &debugDriver{d: d, log: log}
}

type debugDriver struct {
	d   Driver
	log logrus.FieldLogger
}

func (dd *debugDriver) Init() error {
	err := dd.d.Init()
	dd.log.WithError(err).Debug("tpm driver init")
	return err
}

func (dd *debugDriver) Cleanup() error {
	err := dd.d.Cleanup()
	dd.log.WithError(err).Debug("tpm driver cleanup")
	return err
}

func (dd *debugDriver) Transmit(cmd []byte) ([]byte, error) {
	fields := logrus.Fields{"requestSize": len(cmd)}
	if len(cmd) >= tpmutil.HeaderSize {
		fields["ordinal"] = fmt.Sprintf("0x%08x", binary.BigEndian.Uint32(cmd[6:]))
		fields["tag"] = fmt.Sprintf("0x%04x", binary.BigEndian.Uint16(cmd))
	}
	log := dd.log.WithFields(fields)
	log.Debugf("request: % x", cmd)
	if size, ok := tpmutil.ParamSize(cmd); !ok || int(size) != len(cmd) {
		log.WithField("paramSize", size).Warn("request paramSize does not match its length")
	}

	start := time.Now()
	rsp, err := dd.d.Transmit(cmd)
	log = log.WithField("elapsed", time.Since(start))
	if err != nil {
		log.WithError(err).Warn("transmit failed")
		return rsp, err
	}

	log = log.WithField("responseSize", len(rsp))
	size, ok := tpmutil.ParamSize(rsp)
	switch {
	case !ok:
		log.Warn("response too short to carry a paramSize")
	case int(size) > len(rsp):
		log.WithField("paramSize", size).Warn("response paramSize exceeds the bytes received")
	case int(size) < len(rsp):
		log.WithField("paramSize", size).Debug("response buffer is longer than its frame")
	}
	if len(rsp) >= tpmutil.HeaderSize {
		log = log.WithField("returnCode", fmt.Sprintf("0x%x", binary.BigEndian.Uint32(rsp[6:])))
	}
	shown := rsp
	if ok && int(size) < len(rsp) && size >= tpmutil.MinParamSize {
		shown = rsp[:size]
	}
	log.Debugf("response: % x", shown)
	return rsp, nil
}
