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
	"strings"
	"time"

	"github.com/nalabelle/tpmj-sub002/tpm"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Transports understood by --transport.
const (
	transportDevice = "device"
	transportUnix   = "unix"
	transportTCP    = "tcp"
	transportMSSim  = "mssim"
	transportTBS    = "tbs"
)

// Config is the merged result of flags, TPMJ_* environment variables and the
// optional config file, in that order of precedence.
type Config struct {
	Device          string        `mapstructure:"device" yaml:"device"`
	Transport       string        `mapstructure:"transport" yaml:"transport"`
	Address         string        `mapstructure:"address" yaml:"address"`
	PlatformAddress string        `mapstructure:"platform-address" yaml:"platform-address"`
	Retries         int           `mapstructure:"retries" yaml:"retries"`
	RetryDelay      time.Duration `mapstructure:"retry-delay" yaml:"retry-delay"`
	Debug           bool          `mapstructure:"debug" yaml:"debug"`
	OwnerAuth       string        `mapstructure:"owner-auth" yaml:"owner-auth"`
	SRKAuth         string        `mapstructure:"srk-auth" yaml:"srk-auth"`
}

// OwnerSecret is the owner authorization data.
func (c *Config) OwnerSecret() tpmutil.Secret {
	return tpm.SecretFromPassword(c.OwnerAuth)
}

// SRKSecret is the SRK authorization data.
func (c *Config) SRKSecret() tpmutil.Secret {
	return tpm.SecretFromPassword(c.SRKAuth)
}

var configKeys = []string{
	"device", "transport", "address", "platform-address",
	"retries", "retry-delay", "debug", "owner-auth", "srk-auth",
}

func addGlobalFlags(f *pflag.FlagSet, v *viper.Viper) {
	f.String("config", "", "Read settings from this YAML file")
	f.String("device", defaultDevice, "TPM device file")
	f.String("transport", defaultTransport, "How to reach the TPM: device, unix, tcp, mssim or tbs")
	f.String("address", "", "Socket path (unix) or host:port (tcp, mssim)")
	f.String("platform-address", "", "host:port of the simulator platform port (mssim)")
	f.Int("retries", transport.DefaultRetries, "Times a command is repeated after an I/O failure")
	f.Duration("retry-delay", transport.DefaultRetryDelay, "Wait between retries")
	f.Bool("debug", false, "Log every TPM exchange")
	f.String("owner-auth", "", "Owner password; empty means the well-known secret")
	f.String("srk-auth", "", "SRK password; empty means the well-known secret")
	for _, k := range configKeys {
		_ = v.BindPFlag(k, f.Lookup(k))
	}
	_ = v.BindPFlag("config", f.Lookup("config"))

	// glog registers -v, -logtostderr and friends on the standard flag set.
	f.AddGoFlagSet(flag.CommandLine)
}

// readConfig merges the config file and the environment under the flags
// already bound to v.
func readConfig(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	// Set the prefix for vars so we get only the ones starting with TPMJ
	v.SetEnvPrefix("TPMJ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	switch cfg.Transport {
	case transportDevice, transportUnix, transportTCP, transportMSSim, transportTBS:
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must not be negative, got %d", cfg.Retries)
	}
	return cfg, nil
}
