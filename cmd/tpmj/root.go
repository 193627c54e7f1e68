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
	"flag"
	"fmt"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli carries what every subcommand needs.
type cli struct {
	v   *viper.Viper
	log *logrus.Logger
	cfg *Config
}

// NewRootCmd builds the tpmj command tree with its own settings store.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), log: logrus.New()}
	cmd := &cobra.Command{
		Use:          "tpmj",
		Short:        "Talk to a TPM 1.2",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// glog complains when it logs before its flags are parsed; they
			// were parsed by cobra through the bridge below.
			if !flag.Parsed() {
				_ = flag.CommandLine.Parse(nil)
			}
			cfg, err := readConfig(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.log.SetOutput(cmd.ErrOrStderr())
			c.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			if cfg.Debug {
				c.log.SetLevel(logrus.DebugLevel)
			} else {
				c.log.SetLevel(logrus.WarnLevel)
			}
			return nil
		},
	}
	addGlobalFlags(cmd.PersistentFlags(), c.v)
	cmd.AddCommand(
		newInfoCmd(c),
		newRandomCmd(c),
		newPCRReadCmd(c),
		newExtendCmd(c),
		newSealCmd(c),
		newUnsealCmd(c),
		newPubKeyCmd(c),
	)
	return cmd
}

// openTPM opens and initializes the TPM the settings point at. The caller
// must Close it.
func (c *cli) openTPM() (*tpm.TPM, error) {
	d, err := openDriver(c.cfg)
	if err != nil {
		return nil, err
	}
	if c.cfg.Debug {
		d = transport.Debug(d, c.log)
	}
	chip := tpm.New(d, transport.Config{Retries: c.cfg.Retries, Delay: c.cfg.RetryDelay})
	if err := chip.Init(); err != nil {
		return nil, fmt.Errorf("opening %s transport: %w", c.cfg.Transport, err)
	}
	c.log.WithField("transport", c.cfg.Transport).Debug("TPM opened")
	return chip, nil
}

// closeTPM closes chip, logging a failure instead of masking the command's
// own result.
func (c *cli) closeTPM(chip *tpm.TPM) {
	if err := chip.Close(); err != nil {
		c.log.WithError(err).Warn("closing the TPM")
	}
}

// run opens the TPM, hands it to f and closes it again.
func (c *cli) run(f func(chip *tpm.TPM) error) error {
	chip, err := c.openTPM()
	if err != nil {
		return err
	}
	defer c.closeTPM(chip)
	return f(chip)
}
