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

import "github.com/nalabelle/tpmj-sub002/tpmutil"

const tagPCRInfoLong uint16 = 0x06

// Supported TPM operations.
const (
	ordOIAP                 tpmutil.Command = 0x0000000A
	ordOSAP                 tpmutil.Command = 0x0000000B
	ordDSAP                 tpmutil.Command = 0x00000011
	ordExtend               tpmutil.Command = 0x00000014
	ordPCRRead              tpmutil.Command = 0x00000015
	ordSeal                 tpmutil.Command = 0x00000017
	ordUnseal               tpmutil.Command = 0x00000018
	ordGetRandom            tpmutil.Command = 0x00000046
	ordGetCapability        tpmutil.Command = 0x00000065
	ordOwnerReadInternalPub tpmutil.Command = 0x00000081
	ordTerminateHandle      tpmutil.Command = 0x00000096
	ordFlushSpecific        tpmutil.Command = 0x000000BA
)

// EntityType selects the entity an OSAP or DSAP session authorizes.
type EntityType uint16

// Entity types
const (
	ETKeyHandle      EntityType = 0x0001
	ETOwner          EntityType = 0x0002
	ETData           EntityType = 0x0003
	ETSRK            EntityType = 0x0004
	ETKey            EntityType = 0x0005
	ETRevoke         EntityType = 0x0006
	ETDelOwnerBlob   EntityType = 0x0007
	ETDelRow         EntityType = 0x0008
	ETDelKeyBlob     EntityType = 0x0009
	ETCounter        EntityType = 0x000A
	ETNV             EntityType = 0x000B
	ETKeyAES         EntityType = 0x000C
	ETKeyDES         EntityType = 0x000D
	ETOwnerAES       EntityType = 0x000E
	ETOwnerDES       EntityType = 0x000F
	ETKeyXOR         EntityType = 0x0010
	ETReservedHandle EntityType = 0x0040
)

// ResourceType is the kind of handle passed to FlushSpecific.
type ResourceType uint32

// Resource types
const (
	RTKey      ResourceType = 0x00000001
	RTAuth     ResourceType = 0x00000002
	RTHash     ResourceType = 0x00000003
	RTTrans    ResourceType = 0x00000004
	RTContext  ResourceType = 0x00000005
	RTCounter  ResourceType = 0x00000006
	RTDelegate ResourceType = 0x00000007
	RTDAATPM   ResourceType = 0x00000008
	RTDAAV0    ResourceType = 0x00000009
	RTDAAV1    ResourceType = 0x0000000A
)

// Reserved key handles.
const (
	KHSRK       tpmutil.Handle = 0x40000000
	KHOwner     tpmutil.Handle = 0x40000001
	KHRevoke    tpmutil.Handle = 0x40000002
	KHTransport tpmutil.Handle = 0x40000003
	KHOperator  tpmutil.Handle = 0x40000004
	KHAdmin     tpmutil.Handle = 0x40000005
	KHEK        tpmutil.Handle = 0x40000006
)

// Capability areas.
const (
	CapOrd        uint32 = 0x00000001
	CapAlg        uint32 = 0x00000002
	CapPID        uint32 = 0x00000003
	CapFlag       uint32 = 0x00000004
	CapProperty   uint32 = 0x00000005
	CapVersion    uint32 = 0x00000006
	CapKeyHandle  uint32 = 0x00000007
	CapHandle     uint32 = 0x00000014
	CapVersionVal uint32 = 0x0000001A
)

// Capability properties, used with CapProperty.
const (
	CapPropPCR          uint32 = 0x00000101
	CapPropManufacturer uint32 = 0x00000103
	CapPropKeys         uint32 = 0x00000104
	CapPropAuthSess     uint32 = 0x0000010A
	CapPropMaxAuthSess  uint32 = 0x0000010D
	CapPropOwner        uint32 = 0x00000111
	CapPropInputBuffer  uint32 = 0x00000124
)

// Manufacturer IDs as reported for CapPropManufacturer.
const (
	ManufacturerInfineon uint32 = 0x49465800 // "IFX\0"
	ManufacturerBroadcom uint32 = 0x4252434d // "BRCM"
)

// PCRSize is the size of a PCR value: a SHA-1 digest.
const PCRSize = tpmutil.SecretSize

// NumPCRs is the number of PCRs a TPM 1.2 has.
const NumPCRs = 24

// storedDataVersion is the TPM_STRUCT_VER of a TPM_STORED_DATA blob.
const storedDataVersion uint32 = 0x01010000
