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
	"fmt"
	"io"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// chipInfo is what `tpmj info` reports.
type chipInfo struct {
	Manufacturer   string `yaml:"manufacturer"`
	ManufacturerID string `yaml:"manufacturerID"`
	Version        string `yaml:"version"`
	Infineon       bool   `yaml:"infineon"`
	Broadcom       bool   `yaml:"broadcom"`
}

func newInfoCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info",
		Args:  cobra.NoArgs,
		Short: "Print the TPM manufacturer and version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("output")
			if format != "text" && format != "yaml" {
				return fmt.Errorf("unknown output format %q", format)
			}
			return c.run(func(chip *tpm.TPM) error {
				info, err := readInfo(chip)
				if err != nil {
					return err
				}
				return writeInfo(cmd.OutOrStdout(), format, info)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format: text or yaml")
	return cmd
}

func readInfo(chip *tpm.TPM) (*chipInfo, error) {
	m, err := chip.Manufacturer()
	if err != nil {
		return nil, fmt.Errorf("reading the manufacturer: %w", err)
	}
	v, err := chip.Version()
	if err != nil {
		return nil, fmt.Errorf("reading the version: %w", err)
	}
	// Both are cached now, so these do not go back to the TPM.
	ifx, _ := chip.IsInfineon()
	brcm, _ := chip.IsBroadcom()
	return &chipInfo{
		Manufacturer:   tpm.ManufacturerString(m),
		ManufacturerID: fmt.Sprintf("0x%08x", m),
		Version:        v.String(),
		Infineon:       ifx,
		Broadcom:       brcm,
	}, nil
}

func writeInfo(w io.Writer, format string, info *chipInfo) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(info)
	}
	_, err := fmt.Fprintf(w, "Manufacturer: %s (%s)\nVersion:      %s\n", info.Manufacturer, info.ManufacturerID, info.Version)
	return err
}
