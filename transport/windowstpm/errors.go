// Copyright (c) 2018, Google Inc. All rights reserved.
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

// Package windowstpm implements the TPM 1.2 transport on Windows using the
// TPM Base Services in tbs.dll.
package windowstpm

import "fmt"

// TBS Error Codes:
// https://docs.microsoft.com/en-us/windows/desktop/TBS/tbs-return-codes
var errMap = map[uintptr]string{
	0x80284001: "An internal software error occurred.",
	0x80284002: "One or more parameter values are not valid.",
	0x80284003: "A specified output pointer is bad.",
	0x80284004: "The specified context handle does not refer to a valid context.",
	0x80284005: "The specified output buffer is too small.",
	0x80284006: "An error occurred while communicating with the TPM.",
	0x80284007: "A context parameter that is not valid was passed when attempting to create a TBS context.",
	0x80284008: "The TBS service is not running and could not be started.",
	0x80284009: "A new context could not be created because there are too many open contexts.",
	0x8028400A: "A new virtual resource could not be created because there are too many open virtual resources.",
	0x8028400B: "The TBS service has been started but is not yet running.",
	0x8028400C: "The physical presence interface is not supported.",
	0x8028400D: "The command was canceled.",
	0x8028400E: "The input or output buffer is too large.",
	0x8028400F: "A compatible Trusted Platform Module (TPM) Security Device cannot be found on this computer.",
	0x80284010: "The TBS service has been disabled.",
	0x80284011: "The TBS event log is not available.",
	0x80284012: "The caller does not have the appropriate rights to perform the requested operation.",
	0x80284013: "The TPM provisioning action is not allowed by the specified flags.",
	0x80284014: "The Physical Presence Interface of this firmware does not support the requested method.",
	0x80284015: "The requested TPM OwnerAuth value was not found.",
}

// Error is a TBS_RESULT other than TBS_SUCCESS.
type Error uintptr

func (e Error) Error() string {
	if description, ok := errMap[uintptr(e)]; ok {
		return fmt.Sprintf("TBS error 0x%X: %s", uintptr(e), description)
	}
	return fmt.Sprintf("unrecognized TBS error 0x%X", uintptr(e))
}

func tbsError(rc uintptr) error {
	if rc == 0 {
		return nil
	}
	return Error(rc)
}

// CommandPriority is used to determine which pending command to submit
// whenever the TPM is free:
// https://docs.microsoft.com/en-us/windows/desktop/tbs/command-scheduling
type CommandPriority uint32

const (
	LowPriority    CommandPriority = 100 // For low priority application use.
	NormalPriority CommandPriority = 200 // For normal priority application use.
	HighPriority   CommandPriority = 300 // For high priority application use.
	SystemPriority CommandPriority = 400 // For system tasks that access the TPM.
)
