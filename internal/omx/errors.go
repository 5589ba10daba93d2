// SPDX-License-Identifier: MIT
package omx

import "errors"

var (
	ErrNotInitialized   = errors.New("omx: component not initialized")
	ErrBuffersAllocated = errors.New("omx: port buffers already allocated")
	ErrNotSetup         = errors.New("omx: port not set up")
	ErrPortDisabled     = errors.New("omx: port disabled")
	ErrNoBuffer         = errors.New("omx: no buffer available")
	ErrWrongDirection   = errors.New("omx: operation not valid for port direction")
	ErrInvalidSharing   = errors.New("omx: buffer sharing requires client-allocated buffers")
	ErrUnknownLibrary   = errors.New("omx: unknown component library")
)
