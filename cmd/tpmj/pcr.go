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
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/spf13/cobra"
)

func newRandomCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "random N",
		Args:  cobra.ExactArgs(1),
		Short: "Print N random bytes from the TPM in hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid byte count %q: %w", args[0], err)
			}
			return c.run(func(chip *tpm.TPM) error {
				b, err := chip.GetRandom(uint32(n))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(b))
				return err
			})
		},
	}
}

func parsePCR(s string) (uint32, error) {
	i, err := strconv.ParseUint(s, 10, 32)
	if err != nil || i >= tpm.NumPCRs {
		return 0, fmt.Errorf("invalid PCR index %q", s)
	}
	return uint32(i), nil
}

func newPCRReadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pcrread PCR",
		Args:  cobra.ExactArgs(1),
		Short: "Print the value of a PCR in hex",
		RunE: func(cmd *cobra.Command, args []string) error {
			pcr, err := parsePCR(args[0])
			if err != nil {
				return err
			}
			return c.run(func(chip *tpm.TPM) error {
				v, err := chip.PCRRead(pcr)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(v[:]))
				return err
			})
		},
	}
}

func newExtendCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "extend PCR DIGEST",
		Args:  cobra.ExactArgs(2),
		Short: "Extend a PCR with a 20-byte hex digest and print the new value",
		RunE: func(cmd *cobra.Command, args []string) error {
			pcr, err := parsePCR(args[0])
			if err != nil {
				return err
			}
			b, err := hex.DecodeString(args[1])
			if err != nil || len(b) != tpm.PCRSize {
				return fmt.Errorf("digest must be %d hex-encoded bytes", tpm.PCRSize)
			}
			var d tpmutil.Digest
			copy(d[:], b)
			return c.run(func(chip *tpm.TPM) error {
				v, err := chip.Extend(pcr, d)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(v[:]))
				return err
			})
		},
	}
}
