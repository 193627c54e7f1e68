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

// Package tcp provides access to a TPM 1.2 emulator over TCP.
//
// Two framings are supported. RawProtocol carries bare TPM frames, the way
// swtpm's "--server type=tcp" does. MSSimProtocol wraps each frame in the
// TPM_SEND_COMMAND envelope of the TCG reference simulator and can drive its
// platform port (power, NV).
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nalabelle/tpmj-sub002/tpmutil"
	"github.com/nalabelle/tpmj-sub002/transport"
)

var (
	ErrPlatformFailed = errors.New("platform command failed")
	ErrTPMFailed      = errors.New("TPM command failed")
	ErrResponseTooBig = errors.New("response too big")
	ErrTransport      = errors.New("TCP transport error")
	ErrNoPlatform     = errors.New("no platform connection configured")
)

// Protocol selects the framing used on the command connection.
type Protocol int

const (
	// RawProtocol sends and receives bare TPM frames.
	RawProtocol Protocol = iota
	// MSSimProtocol uses the TCG reference simulator's TCP protocol.
	MSSimProtocol
)

func (p Protocol) String() string {
	switch p {
	case RawProtocol:
		return "raw"
	case MSSimProtocol:
		return "mssim"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// The de-facto TPM-over-TCP protocol is defined by the Reference Implementation.
// See https://github.com/TrustedComputingGroup/TPM/blob/main/TPMCmd/Simulator/include/TpmTcpProtocol.h
const (
	tpmSendCommand uint32 = 8
	tpmSessionEnd  uint32 = 20

	platformPowerOn    uint32 = 1
	platformPowerOff   uint32 = 2
	platformNVOn       uint32 = 11
	platformNVOff      uint32 = 12
	platformReset      uint32 = 17
	platformSessionEnd uint32 = 20
)

// Config provides the connection information for a running TCP TPM.
type Config struct {
	// CommandAddress is the full host:port address of the command server,
	// e.g. "localhost:2321".
	CommandAddress string
	// PlatformAddress is the host:port address of the MSSim platform
	// server, e.g. "localhost:2322". It may be empty.
	PlatformAddress string
	// Protocol is the framing spoken on the command connection.
	Protocol Protocol
	// Locality is sent with every MSSim command.
	Locality uint8
	// DialTimeout bounds each connection attempt. Zero means no timeout.
	DialTimeout time.Duration
}

// TPM is a transport.Driver over TCP. The connections are made by Init and
// torn down by Cleanup.
type TPM struct {
	cfg Config

	mu   sync.Mutex
	cmd  net.Conn
	plat net.Conn
}

var _ transport.Driver = (*TPM)(nil)

// Open returns a driver for the emulator described by cfg. It does not
// connect.
func Open(cfg Config) *TPM {
	return &TPM{cfg: cfg}
}

func (t *TPM) dial(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, t.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not dial %q: %w", addr, err)
	}
	return conn, nil
}

// Init connects to the command server and, for MSSim with a platform
// address, to the platform server.
func (t *TPM) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil {
		return nil
	}
	cmd, err := t.dial(t.cfg.CommandAddress)
	if err != nil {
		return fmt.Errorf("could not connect to command service: %w", err)
	}
	if t.cfg.Protocol == MSSimProtocol && t.cfg.PlatformAddress != "" {
		plat, err := t.dial(t.cfg.PlatformAddress)
		if err != nil {
			cmd.Close()
			return fmt.Errorf("could not connect to platform service: %w", err)
		}
		t.plat = plat
	}
	t.cmd = cmd
	return nil
}

type tpmCommandHeader struct {
	Command  uint32
	Locality uint8
	CmdLen   uint32
}

// Transmit implements transport.Driver.
func (t *TPM) Transmit(cmd []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil {
		return nil, transport.ErrNotInitialized
	}
	if t.cfg.Protocol == MSSimProtocol {
		return t.sendMSSim(cmd)
	}
	if _, err := t.cmd.Write(cmd); err != nil {
		return nil, fmt.Errorf("%w: could not send TPM command to service: %v", ErrTransport, err)
	}
	rsp, err := transport.ReadFrame(t.cmd)
	if err != nil {
		var te *tpmutil.Error
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: could not read TPM response from service: %v", ErrTransport, err)
	}
	return rsp, nil
}

func (t *TPM) sendMSSim(cmd []byte) ([]byte, error) {
	hdr := tpmCommandHeader{
		Command:  tpmSendCommand,
		Locality: t.cfg.Locality,
		CmdLen:   uint32(len(cmd)),
	}
	// Write the header followed by the request
	if err := binary.Write(t.cmd, binary.BigEndian, hdr); err != nil {
		return nil, fmt.Errorf("%w: could not send TPM command to service: %v", ErrTransport, err)
	}
	if _, err := t.cmd.Write(cmd); err != nil {
		return nil, fmt.Errorf("%w: could not send TPM command to service: %v", ErrTransport, err)
	}

	// Read the response
	var rspLen uint32
	if err := binary.Read(t.cmd, binary.BigEndian, &rspLen); err != nil {
		return nil, fmt.Errorf("%w: could not read TPM response from service: %v", ErrTransport, err)
	}
	if rspLen > tpmutil.MaxResponseSize {
		return nil, &tpmutil.Error{
			Kind: tpmutil.KindMalformedResponse,
			Err:  fmt.Errorf("%w: response (%v bytes) was bigger than max size (%v bytes)", ErrResponseTooBig, rspLen, tpmutil.MaxResponseSize),
		}
	}
	rsp := make([]byte, int(rspLen))
	if _, err := io.ReadFull(t.cmd, rsp); err != nil {
		return nil, fmt.Errorf("%w: could not read full TPM response: %v", ErrTransport, err)
	}
	// The server also provides a TCP error code at the end.
	var rspCode uint32
	if err := binary.Read(t.cmd, binary.BigEndian, &rspCode); err != nil {
		return nil, fmt.Errorf("%w: could not read TPM response code from service: %v", ErrTransport, err)
	}
	if rspCode != 0 {
		return nil, fmt.Errorf("%w: TPM_SEND_COMMAND returned %v", ErrTPMFailed, rspCode)
	}
	// An empty rsp is passed up as is. The simulator answers that way when
	// it is powered off.
	return rsp, nil
}

// Cleanup ends the MSSim sessions and closes both connections, reporting
// every failure.
func (t *TPM) Cleanup() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var result *multierror.Error
	if t.cmd != nil {
		if t.cfg.Protocol == MSSimProtocol {
			if err := binary.Write(t.cmd, binary.BigEndian, tpmSessionEnd); err != nil {
				result = multierror.Append(result, fmt.Errorf("ending command session: %w", err))
			}
		}
		if err := t.cmd.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing command connection: %w", err))
		}
		t.cmd = nil
	}
	if t.plat != nil {
		if err := binary.Write(t.plat, binary.BigEndian, platformSessionEnd); err != nil {
			result = multierror.Append(result, fmt.Errorf("ending platform session: %w", err))
		}
		if err := t.plat.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing platform connection: %w", err))
		}
		t.plat = nil
	}
	return result.ErrorOrNil()
}

// PowerOn powers on the simulated TPM and enables its NV memory.
// Note: This is distinct from sending the TPM_Startup command.
func (t *TPM) PowerOn() error {
	return t.platformCommands(platformPowerOn, platformNVOn)
}

// PowerOff powers off the simulated TPM.
func (t *TPM) PowerOff() error {
	return t.platformCommands(platformPowerOff, platformNVOff)
}

// Reset power-cycles the TPM if it is already on. If it is not already on,
// nothing happens.
func (t *TPM) Reset() error {
	return t.platformCommands(platformReset)
}

func (t *TPM) platformCommands(cmds ...uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.plat == nil {
		return ErrNoPlatform
	}
	var result *multierror.Error
	for _, c := range cmds {
		result = multierror.Append(result, t.sendBasicPlatformCommand(c))
	}
	return result.ErrorOrNil()
}

// sendBasicPlatformCommand sends a command to the platform service. This only
// supports 'basic' commands (i.e., send just a command code, receive just a
// response code).
func (t *TPM) sendBasicPlatformCommand(cmd uint32) error {
	if err := binary.Write(t.plat, binary.BigEndian, cmd); err != nil {
		return fmt.Errorf("could not write %v to platform service: %w", cmd, err)
	}
	var result uint32
	if err := binary.Read(t.plat, binary.BigEndian, &result); err != nil {
		return fmt.Errorf("could not read %v result from platform service: %w", cmd, err)
	}
	if result != 0 {
		return fmt.Errorf("%w: %v returned %v", ErrPlatformFailed, cmd, result)
	}
	return nil
}
