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

package main

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/nalabelle/tpmj-sub002/transport/transporttest"
)

var _ = Describe("tpmj", Label("cmd"), func() {
	var (
		root     *cobra.Command
		emu      *transporttest.Emulator
		origOpen func(*Config) (transport.Driver, error)
		seen     *Config
	)

	BeforeEach(func() {
		emu = transporttest.NewEmulator()
		origOpen = openDriver
		openDriver = func(cfg *Config) (transport.Driver, error) {
			seen = cfg
			return emu, nil
		}
		root = NewRootCmd()
	})

	AfterEach(func() {
		openDriver = origOpen
	})

	Describe("info", func() {
		It("prints the manufacturer and version", func() {
			out, err := executeCommand(root, nil, "info")
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("IFX (0x49465800)"))
			Expect(out).To(ContainSubstring("1.2 rev 3.17"))
		})

		It("falls back to the 1.1 version query", func() {
			emu.Version11 = true
			emu.Version = [4]byte{1, 1, 0, 0}
			out, err := executeCommand(root, nil, "info")
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(ContainSubstring("1.1 rev 0.0"))
		})

		It("prints YAML", Label("flags"), func() {
			emu.Manufacturer = tpm.ManufacturerBroadcom
			out, err := executeCommand(root, nil, "info", "-o", "yaml")
			Expect(err).ToNot(HaveOccurred())
			var info chipInfo
			Expect(yaml.Unmarshal([]byte(out), &info)).To(Succeed())
			Expect(info).To(Equal(chipInfo{
				Manufacturer:   "BRCM",
				ManufacturerID: "0x4252434d",
				Version:        "1.2 rev 3.17",
				Broadcom:       true,
			}))
		})

		It("rejects unknown formats", Label("flags"), func() {
			_, err := executeCommand(root, nil, "info", "-o", "json")
			Expect(err).To(MatchError(ContainSubstring("unknown output format")))
		})
	})

	Describe("random", func() {
		It("prints hex", func() {
			out, err := executeCommand(root, nil, "random", "16")
			Expect(err).ToNot(HaveOccurred())
			b, err := hex.DecodeString(strings.TrimSpace(out))
			Expect(err).ToNot(HaveOccurred())
			Expect(b).To(HaveLen(16))
		})

		It("rejects a bad count", func() {
			_, err := executeCommand(root, nil, "random", "many")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PCRs", func() {
		It("extends and reads back", func() {
			d := sha1.Sum([]byte("measurement"))
			out, err := executeCommand(root, nil, "extend", "7", hex.EncodeToString(d[:]))
			Expect(err).ToNot(HaveOccurred())
			pcr := emu.PCR(7)
			Expect(strings.TrimSpace(out)).To(Equal(hex.EncodeToString(pcr[:])))

			root = NewRootCmd()
			out, err = executeCommand(root, nil, "pcrread", "7")
			Expect(err).ToNot(HaveOccurred())
			Expect(strings.TrimSpace(out)).To(Equal(hex.EncodeToString(pcr[:])))
		})

		It("validates its arguments", func() {
			_, err := executeCommand(root, nil, "pcrread", "24")
			Expect(err).To(MatchError(ContainSubstring("invalid PCR index")))
			root = NewRootCmd()
			_, err = executeCommand(root, nil, "extend", "1", "abcd")
			Expect(err).To(MatchError(ContainSubstring("hex-encoded")))
		})
	})

	Describe("seal and unseal", func() {
		It("round-trips stdin", func() {
			emu.SRKAuth = tpm.SecretFromPassword("srk")
			sealed, err := executeCommand(root, strings.NewReader("top secret"),
				"seal", "--srk-auth", "srk", "--data-auth", "pw", "--pcr", "0,1")
			Expect(err).ToNot(HaveOccurred())
			Expect(sealed).ToNot(ContainSubstring("top secret"))

			root = NewRootCmd()
			out, err := executeCommand(root, strings.NewReader(sealed), "unseal", "--srk-auth", "srk", "--data-auth", "pw")
			Expect(err).ToNot(HaveOccurred())
			Expect(out).To(Equal("top secret"))

			root = NewRootCmd()
			_, err = executeCommand(root, strings.NewReader(sealed), "unseal", "--srk-auth", "srk", "--data-auth", "wrong")
			Expect(errors.Is(err, tpmutil.ErrAuth2Fail)).To(BeTrue())
			Expect(emu.OpenSessions()).To(BeZero())
		})
	})

	Describe("pubkey", func() {
		It("prints the EK as PEM", func() {
			emu.OwnerAuth = tpm.SecretFromPassword("owner")
			out, err := executeCommand(root, nil, "pubkey", "ek", "--owner-auth", "owner")
			Expect(err).ToNot(HaveOccurred())
			block, _ := pem.Decode([]byte(out))
			Expect(block).ToNot(BeNil())
			Expect(block.Type).To(Equal("PUBLIC KEY"))
		})

		It("fails with the wrong owner password", func() {
			emu.OwnerAuth = tpm.SecretFromPassword("owner")
			_, err := executeCommand(root, nil, "pubkey", "srk")
			Expect(errors.Is(err, tpmutil.ErrAuthFail)).To(BeTrue())
		})
	})

	Describe("configuration", Label("config"), func() {
		It("uses the defaults", func() {
			_, err := executeCommand(root, nil, "random", "1")
			Expect(err).ToNot(HaveOccurred())
			Expect(seen.Retries).To(Equal(transport.DefaultRetries))
			Expect(seen.RetryDelay).To(Equal(transport.DefaultRetryDelay))
			Expect(seen.Transport).To(Equal(defaultTransport))
		})

		It("reads a config file and lets flags win", func() {
			dir, err := os.MkdirTemp("", "tpmj")
			Expect(err).ToNot(HaveOccurred())
			DeferCleanup(os.RemoveAll, dir)
			path := filepath.Join(dir, "tpmj.yaml")
			Expect(os.WriteFile(path, []byte("transport: unix\naddress: /run/swtpm.sock\nretries: 3\nretry-delay: 10ms\n"), 0600)).To(Succeed())
			_, err = executeCommand(root, nil, "random", "1", "--config", path, "--retries", "2")
			Expect(err).ToNot(HaveOccurred())
			Expect(seen.Transport).To(Equal(transportUnix))
			Expect(seen.Address).To(Equal("/run/swtpm.sock"))
			Expect(seen.Retries).To(Equal(2))
			Expect(seen.RetryDelay).To(Equal(10 * time.Millisecond))
		})

		It("reads TPMJ_ environment variables", func() {
			for k, v := range map[string]string{"TPMJ_RETRY_DELAY": "5ms", "TPMJ_OWNER_AUTH": "from-env"} {
				Expect(os.Setenv(k, v)).To(Succeed())
				DeferCleanup(os.Unsetenv, k)
			}
			_, err := executeCommand(root, nil, "random", "1")
			Expect(err).ToNot(HaveOccurred())
			Expect(seen.RetryDelay).To(Equal(5 * time.Millisecond))
			Expect(seen.OwnerSecret()).To(Equal(tpm.SecretFromPassword("from-env")))
		})

		It("rejects an unknown transport", func() {
			_, err := executeCommand(root, nil, "random", "1", "--transport", "carrier-pigeon")
			Expect(err).To(MatchError(ContainSubstring("unknown transport")))
		})

		It("logs exchanges with --debug", Label("flags"), func() {
			var errOut bytes.Buffer
			root.SetErr(&errOut)
			root.SetArgs([]string{"random", "4", "--debug"})
			root.SetOut(&bytes.Buffer{})
			Expect(root.Execute()).To(Succeed())
			Expect(errOut.String()).To(ContainSubstring("ordinal=0x00000046"))
		})
	})
})
