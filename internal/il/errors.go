// SPDX-License-Identifier: MIT
package il

import "fmt"

// ErrorCode is an OMX_ERRORTYPE. ErrorNone is not an error; every other code
// satisfies the error interface.
type ErrorCode uint32

const (
	ErrorNone                               ErrorCode = 0
	ErrorInsufficientResources              ErrorCode = 0x80001000
	ErrorUndefined                          ErrorCode = 0x80001001
	ErrorInvalidComponentName               ErrorCode = 0x80001002
	ErrorComponentNotFound                  ErrorCode = 0x80001003
	ErrorInvalidComponent                   ErrorCode = 0x80001004
	ErrorBadParameter                       ErrorCode = 0x80001005
	ErrorNotImplemented                     ErrorCode = 0x80001006
	ErrorUnderflow                          ErrorCode = 0x80001007
	ErrorOverflow                           ErrorCode = 0x80001008
	ErrorHardware                           ErrorCode = 0x80001009
	ErrorInvalidState                       ErrorCode = 0x8000100A
	ErrorStreamCorrupt                      ErrorCode = 0x8000100B
	ErrorPortsNotCompatible                 ErrorCode = 0x8000100C
	ErrorResourcesLost                      ErrorCode = 0x8000100D
	ErrorNoMore                             ErrorCode = 0x8000100E
	ErrorVersionMismatch                    ErrorCode = 0x8000100F
	ErrorNotReady                           ErrorCode = 0x80001010
	ErrorTimeout                            ErrorCode = 0x80001011
	ErrorSameState                          ErrorCode = 0x80001012
	ErrorResourcesPreempted                 ErrorCode = 0x80001013
	ErrorPortUnresponsiveDuringAllocation   ErrorCode = 0x80001014
	ErrorPortUnresponsiveDuringDeallocation ErrorCode = 0x80001015
	ErrorPortUnresponsiveDuringStop         ErrorCode = 0x80001016
	ErrorIncorrectStateTransition           ErrorCode = 0x80001017
	ErrorIncorrectStateOperation            ErrorCode = 0x80001018
	ErrorUnsupportedSetting                 ErrorCode = 0x80001019
	ErrorUnsupportedIndex                   ErrorCode = 0x8000101A
	ErrorBadPortIndex                       ErrorCode = 0x8000101B
	ErrorPortUnpopulated                    ErrorCode = 0x8000101C
)

var errorNames = map[ErrorCode]string{
	ErrorNone:                               "None",
	ErrorInsufficientResources:              "InsufficientResources",
	ErrorUndefined:                          "Undefined",
	ErrorInvalidComponentName:               "InvalidComponentName",
	ErrorComponentNotFound:                  "ComponentNotFound",
	ErrorInvalidComponent:                   "InvalidComponent",
	ErrorBadParameter:                       "BadParameter",
	ErrorNotImplemented:                     "NotImplemented",
	ErrorUnderflow:                          "Underflow",
	ErrorOverflow:                           "Overflow",
	ErrorHardware:                           "Hardware",
	ErrorInvalidState:                       "InvalidState",
	ErrorStreamCorrupt:                      "StreamCorrupt",
	ErrorPortsNotCompatible:                 "PortsNotCompatible",
	ErrorResourcesLost:                      "ResourcesLost",
	ErrorNoMore:                             "NoMore",
	ErrorVersionMismatch:                    "VersionMismatch",
	ErrorNotReady:                           "NotReady",
	ErrorTimeout:                            "Timeout",
	ErrorSameState:                          "SameState",
	ErrorResourcesPreempted:                 "ResourcesPreempted",
	ErrorPortUnresponsiveDuringAllocation:   "PortUnresponsiveDuringAllocation",
	ErrorPortUnresponsiveDuringDeallocation: "PortUnresponsiveDuringDeallocation",
	ErrorPortUnresponsiveDuringStop:         "PortUnresponsiveDuringStop",
	ErrorIncorrectStateTransition:           "IncorrectStateTransition",
	ErrorIncorrectStateOperation:            "IncorrectStateOperation",
	ErrorUnsupportedSetting:                 "UnsupportedSetting",
	ErrorUnsupportedIndex:                   "UnsupportedIndex",
	ErrorBadPortIndex:                       "BadPortIndex",
	ErrorPortUnpopulated:                    "PortUnpopulated",
}

func (e ErrorCode) Error() string {
	if name, ok := errorNames[e]; ok {
		return fmt.Sprintf("omx error %s (0x%08x)", name, uint32(e))
	}
	return fmt.Sprintf("omx error 0x%08x", uint32(e))
}

// Err converts a raw return code into an error, nil for ErrorNone.
func Err(code uint32) error {
	if ErrorCode(code) == ErrorNone {
		return nil
	}
	return ErrorCode(code)
}
