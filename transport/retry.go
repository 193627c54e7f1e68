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
	"time"

	"github.com/golang/glog"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// Default retry policy.
const (
	DefaultRetries    = 1
	DefaultRetryDelay = 2000 * time.Millisecond
)

// Config controls how a Retrier handles I/O failures.
type Config struct {
	// Retries is how many times a failed exchange is repeated. Zero means
	// a single attempt.
	Retries int
	// Delay is how long to wait between attempts.
	Delay time.Duration
	// Sleep waits between attempts. Nil means time.Sleep.
	Sleep func(time.Duration)
}

// DefaultConfig returns one retry after two seconds.
func DefaultConfig() Config {
	return Config{Retries: DefaultRetries, Delay: DefaultRetryDelay}
}

// Retrier wraps a Driver with bounded retry on I/O failure, null-response
// detection and truncation of over-allocated device buffers. It is itself a
// Driver.
type Retrier struct {
	d   Driver
	cfg Config
}

// NewRetrier wraps d. Negative retry counts are treated as zero.
func NewRetrier(d Driver, cfg Config) *Retrier {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Retrier{d: d, cfg: cfg}
}

// Config returns the policy in effect.
func (r *Retrier) Config() Config {
	return r.cfg
}

// Init initializes the wrapped driver.
func (r *Retrier) Init() error {
	return r.d.Init()
}

// Cleanup releases the wrapped driver.
func (r *Retrier) Cleanup() error {
	return r.d.Cleanup()
}

// Transmit sends cmd, making at most Retries+1 attempts while the driver
// fails. The returned buffer is cut to the response's declared paramSize.
//
// Errors are always *tpmutil.Error: KindIO once retries are exhausted, or
// KindNullResponse if the driver returned no bytes. Errors a driver already
// classified as something other than KindIO, and ErrNotInitialized, are
// returned without retry.
func (r *Retrier) Transmit(cmd []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= r.cfg.Retries; attempt++ {
		if attempt > 0 {
			glog.Warningf("tpm: retrying command after I/O failure (attempt %d of %d): %v", attempt+1, r.cfg.Retries+1, lastErr)
			r.cfg.Sleep(r.cfg.Delay)
		}

		rsp, err := r.d.Transmit(cmd)
		if err != nil {
			var te *tpmutil.Error
			if errors.As(err, &te) && te.Kind != tpmutil.KindIO {
				return nil, err
			}
			if errors.Is(err, ErrNotInitialized) {
				return nil, &tpmutil.Error{Kind: tpmutil.KindIO, Request: cmd, Err: err}
			}
			lastErr = err
			continue
		}
		if len(rsp) == 0 {
			return nil, &tpmutil.Error{
				Kind:    tpmutil.KindNullResponse,
				Request: cmd,
				Err:     errors.New("driver returned no bytes"),
			}
		}
		return tpmutil.TruncateToParamSize(rsp), nil
	}
	return nil, &tpmutil.Error{Kind: tpmutil.KindIO, Request: cmd, Err: lastErr}
}
