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
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/spf13/cobra"
)

func newSealCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seal",
		Args:  cobra.NoArgs,
		Short: "Seal stdin under the SRK and write the blob to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pcrs, _ := cmd.Flags().GetIntSlice("pcr")
			locality, _ := cmd.Flags().GetUint8("locality")
			dataAuth, _ := cmd.Flags().GetString("data-auth")
			data, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return c.run(func(chip *tpm.TPM) error {
				sealed, err := chip.Seal(locality, pcrs, data, c.cfg.SRKSecret(), tpm.SecretFromPassword(dataAuth))
				if err != nil {
					return err
				}
				c.log.WithField("bytes", len(sealed)).Debug("sealed")
				_, err = cmd.OutOrStdout().Write(sealed)
				return err
			})
		},
	}
	cmd.Flags().IntSlice("pcr", nil, "Bind the data to the current values of these PCRs")
	cmd.Flags().Uint8("locality", 0, "Locality the data is released at (0-4)")
	cmd.Flags().String("data-auth", "", "Password needed to unseal")
	return cmd
}

func newUnsealCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unseal",
		Args:  cobra.NoArgs,
		Short: "Unseal a blob read from stdin and write the data to stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dataAuth, _ := cmd.Flags().GetString("data-auth")
			sealed, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			return c.run(func(chip *tpm.TPM) error {
				data, err := chip.Unseal(sealed, c.cfg.SRKSecret(), tpm.SecretFromPassword(dataAuth))
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}
	cmd.Flags().String("data-auth", "", "Password given when sealing")
	return cmd
}

func newPubKeyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "pubkey ek|srk",
		Args:      cobra.ExactValidArgs(1),
		ValidArgs: []string{"ek", "srk"},
		Short:     "Print the public endorsement key or SRK as PEM, using owner authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			kh := tpm.KHEK
			if args[0] == "srk" {
				kh = tpm.KHSRK
			}
			return c.run(func(chip *tpm.TPM) error {
				s, err := chip.OSAP(tpm.ETOwner, tpm.KHOwner, c.cfg.OwnerSecret())
				if err != nil {
					return err
				}
				b, err := chip.OwnerReadInternalPub(kh, tpm.Authorization{Session: s})
				if err != nil {
					return err
				}
				return writePEM(cmd.OutOrStdout(), b)
			})
		},
	}
}

func writePEM(w io.Writer, tpmPub []byte) error {
	pk, err := tpm.UnmarshalRSAPublicKey(tpmPub)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return fmt.Errorf("encoding the public key: %w", err)
	}
	return pem.Encode(w, &pem.Block{Type: "PUBLIC KEY", Bytes: der})
}
