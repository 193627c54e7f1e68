//go:build linux || darwin

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

package linuxtpm

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollNoTimeout blocks until the device is readable.
const pollNoTimeout time.Duration = -1

var errPollTimeout = errors.New("timed out waiting for the TPM response")

// poll blocks until the file descriptor is ready for reading, an error
// occurs or the timeout expires.
func poll(f *os.File, timeout time.Duration) error {
	ms := -1 // block indefinitely until data is available
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}
	pollFds := []unix.PollFd{
		{Fd: int32(f.Fd()), Events: unix.POLLIN},
	}
	for {
		n, err := unix.Poll(pollFds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return errPollTimeout
		}
		break
	}
	if re := pollFds[0].Revents; re&unix.POLLIN == 0 && re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return fmt.Errorf("polling the TPM device: revents 0x%x", re)
	}
	return nil
}
