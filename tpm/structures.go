// Copyright (c) 2014, Google Inc. All rights reserved.
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

package tpm

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nalabelle/tpmj-sub002/tpmutil"
)

// A PCRMask represents a set of PCR choices, one bit per PCR out of the 24
// possible PCR values.
type PCRMask [3]byte

// SetPCR sets a PCR value as selected in a given mask.
func (pm *PCRMask) SetPCR(i int) error {
	if i >= NumPCRs || i < 0 {
		return errors.New("can't set PCR " + strconv.Itoa(i))
	}

	(*pm)[i/8] |= 1 << uint(i%8)
	return nil
}

// IsPCRSet checks to see if a given PCR is included in this mask.
func (pm PCRMask) IsPCRSet(i int) (bool, error) {
	if i >= NumPCRs || i < 0 {
		return false, errors.New("can't check PCR " + strconv.Itoa(i))
	}

	n := byte(1 << uint(i%8))
	return pm[i/8]&n == n, nil
}

// PCRs lists the selected PCR indices in ascending order.
func (pm PCRMask) PCRs() []int {
	var out []int
	for i := 0; i < NumPCRs; i++ {
		if pm[i/8]&(1<<uint(i%8)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

// NewPCRMask selects the given PCRs.
func NewPCRMask(pcrs ...int) (PCRMask, error) {
	var pm PCRMask
	for _, i := range pcrs {
		if err := pm.SetPCR(i); err != nil {
			return PCRMask{}, err
		}
	}
	return pm, nil
}

// A pcrSelection is the first element in the input a PCR composition, which is
// A pcrSelection, followed by the combined length of the PCR values,
// followed by the PCR values, all hashed under SHA-1.
type pcrSelection struct {
	Size uint16
	Mask PCRMask
}

// String returns a string representation of a pcrSelection
func (p pcrSelection) String() string {
	return fmt.Sprintf("pcrSelection{Size: %x, Mask: % x}", p.Size, p.Mask)
}

// pcrInfoLong stores detailed information about PCRs.
type pcrInfoLong struct {
	Tag              uint16
	LocAtCreation    byte
	LocAtRelease     byte
	PCRsAtCreation   pcrSelection
	PCRsAtRelease    pcrSelection
	DigestAtCreation tpmutil.Digest
	DigestAtRelease  tpmutil.Digest
}

// String returns a string representation of a pcrInfoLong.
func (pcri pcrInfoLong) String() string {
	return fmt.Sprintf("pcrInfoLong{Tag: %x, LocAtCreation: %x, LocAtRelease: %x, PCRsAtCreation: %s, PCRsAtRelease: %s, DigestAtCreation: % x, DigestAtRelease: % x}", pcri.Tag, pcri.LocAtCreation, pcri.LocAtRelease, pcri.PCRsAtCreation, pcri.PCRsAtRelease, pcri.DigestAtCreation, pcri.DigestAtRelease)
}

// A tpmStoredData holds sealed data from the TPM.
type tpmStoredData struct {
	Version uint32
	Info    []byte
	Enc     []byte
}

// String returns a string representation of a tpmStoredData.
func (tsd tpmStoredData) String() string {
	return fmt.Sprintf("tpmStoredData{Version: %x, Info: % x, Enc: % x}", tsd.Version, tsd.Info, tsd.Enc)
}

// An oiapResponse is a response to an OIAP command.
type oiapResponse struct {
	AuthHandle tpmutil.Handle
	NonceEven  tpmutil.Nonce
}

// String returns a string representation of an oiapResponse.
func (opr oiapResponse) String() string {
	return fmt.Sprintf("oiapResponse{AuthHandle: %x, NonceEven: % x}", opr.AuthHandle, opr.NonceEven)
}

// An osapCommand is a command sent for OSAP authentication.
type osapCommand struct {
	EntityType  EntityType
	EntityValue tpmutil.Handle
	OddOSAP     tpmutil.Nonce
}

// String returns a string representation of an osapCommand.
func (opc osapCommand) String() string {
	return fmt.Sprintf("osapCommand{EntityType: %x, EntityValue: %x, OddOSAP: % x}", opc.EntityType, opc.EntityValue, opc.OddOSAP)
}

// An osapResponse is a TPM reply to an osapCommand. A dsapResponse has the
// same layout, with EvenOSAP holding nonceEvenDSAP.
type osapResponse struct {
	AuthHandle tpmutil.Handle
	NonceEven  tpmutil.Nonce
	EvenOSAP   tpmutil.Nonce
}

// String returns a string representation of an osapResponse.
func (opr osapResponse) String() string {
	return fmt.Sprintf("osapResponse{AuthHandle: %x, NonceEven: % x, EvenOSAP: % x}", opr.AuthHandle, opr.NonceEven, opr.EvenOSAP)
}

// A dsapCommand opens a delegate-specific session.
type dsapCommand struct {
	EntityType  EntityType
	KeyHandle   tpmutil.Handle
	OddDSAP     tpmutil.Nonce
	EntityValue []byte
}

// String returns a string representation of a dsapCommand.
func (dpc dsapCommand) String() string {
	return fmt.Sprintf("dsapCommand{EntityType: %x, KeyHandle: %x, OddDSAP: % x, EntityValue: % x}", dpc.EntityType, dpc.KeyHandle, dpc.OddDSAP, dpc.EntityValue)
}

// Version is a TPM_VERSION: the specification version the chip implements
// and the manufacturer's firmware revision.
type Version struct {
	Major    byte
	Minor    byte
	RevMajor byte
	RevMinor byte
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d rev %d.%d", v.Major, v.Minor, v.RevMajor, v.RevMinor)
}

// capVersionInfo is the TPM_CAP_VERSION_INFO returned for CapVersionVal.
type capVersionInfo struct {
	Tag       uint16
	Version   Version
	SpecLevel uint16
	ErrataRev byte
	VendorID  [4]byte
	Vendor    tpmutil.U16Bytes
}
