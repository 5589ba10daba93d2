// SPDX-License-Identifier: MIT
/*
Package il describes the boundary between the buffer core and an OpenMAX IL
component implementation.

The numeric values of every enum in this package match the OpenMAX IL 1.1.2
headers so that the native binding can pass them through unchanged. Nothing
here knows about ports, pools or adapters; those live in package omx.
*/
package il

import "fmt"

// State is the lifecycle state of a component.
type State uint32

const (
	StateInvalid State = iota
	StateLoaded
	StateIdle
	StateExecuting
	StatePause
	StateWaitForResources
)

func (s State) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateLoaded:
		return "Loaded"
	case StateIdle:
		return "Idle"
	case StateExecuting:
		return "Executing"
	case StatePause:
		return "Pause"
	case StateWaitForResources:
		return "WaitForResources"
	default:
		return fmt.Sprintf("State(%d)", uint32(s))
	}
}

// Command is a request sent to a component with SendCommand.
type Command uint32

const (
	CommandStateSet Command = iota
	CommandFlush
	CommandPortDisable
	CommandPortEnable
	CommandMarkBuffer
)

func (c Command) String() string {
	switch c {
	case CommandStateSet:
		return "StateSet"
	case CommandFlush:
		return "Flush"
	case CommandPortDisable:
		return "PortDisable"
	case CommandPortEnable:
		return "PortEnable"
	case CommandMarkBuffer:
		return "MarkBuffer"
	default:
		return fmt.Sprintf("Command(%d)", uint32(c))
	}
}

// Event is the kind of notification a component delivers through
// Callbacks.EventHandler.
type Event uint32

const (
	EventCmdComplete Event = iota
	EventError
	EventMark
	EventPortSettingsChanged
	EventBufferFlag
	EventResourcesAcquired
	EventComponentResumed
	EventDynamicResourcesAvailable
	EventPortFormatDetected
)

func (e Event) String() string {
	switch e {
	case EventCmdComplete:
		return "CmdComplete"
	case EventError:
		return "Error"
	case EventMark:
		return "Mark"
	case EventPortSettingsChanged:
		return "PortSettingsChanged"
	case EventBufferFlag:
		return "BufferFlag"
	case EventResourcesAcquired:
		return "ResourcesAcquired"
	case EventComponentResumed:
		return "ComponentResumed"
	case EventDynamicResourcesAvailable:
		return "DynamicResourcesAvailable"
	case EventPortFormatDetected:
		return "PortFormatDetected"
	default:
		return fmt.Sprintf("Event(%d)", uint32(e))
	}
}

// Direction of a port as reported by the component.
type Direction uint32

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	switch d {
	case DirInput:
		return "input"
	case DirOutput:
		return "output"
	default:
		return fmt.Sprintf("Direction(%d)", uint32(d))
	}
}

// BufferFlags is the nFlags field of a buffer header.
type BufferFlags uint32

const (
	FlagEOS         BufferFlags = 0x00000001
	FlagStartTime   BufferFlags = 0x00000002
	FlagDecodeOnly  BufferFlags = 0x00000004
	FlagDataCorrupt BufferFlags = 0x00000008
	FlagEndOfFrame  BufferFlags = 0x00000010
	FlagSyncFrame   BufferFlags = 0x00000020
	FlagExtraData   BufferFlags = 0x00000040
	FlagCodecConfig BufferFlags = 0x00000080
)

// Index identifies a parameter or config structure.
type Index uint32

const (
	IndexParamStandardComponentRole Index = 0x01000017
	IndexParamPortDefinition        Index = 0x02000001
)

// PortAll addresses every port of a component in port commands.
const PortAll uint32 = 0xFFFFFFFF

// RoleLength is the size of the role string field (OMX_MAX_STRINGNAME_SIZE).
const RoleLength = 128

// BufferHeader is the component-side view of one buffer. The client owns the
// header between a *BufferDone callback and the next Empty/FillThisBuffer;
// the component owns it in between.
type BufferHeader struct {
	Buffer    []byte // backing storage; len(Buffer) is the allocated length
	AllocLen  uint32
	FilledLen uint32
	Offset    uint32
	Flags     BufferFlags
	Timestamp int64 // ticks, microseconds

	InputPortIndex  uint32
	OutputPortIndex uint32

	AppPrivate      any // owned by the client
	PlatformPrivate any // owned by the component implementation
}

// Payload returns the filled region of the header's storage.
func (h *BufferHeader) Payload() []byte {
	end := int(h.Offset) + int(h.FilledLen)
	if end > len(h.Buffer) {
		end = len(h.Buffer)
	}
	if int(h.Offset) >= end {
		return nil
	}
	return h.Buffer[h.Offset:end]
}

// PortDefinition is the subset of OMX_PARAM_PORTDEFINITIONTYPE the core
// negotiates. Format carries the domain-specific remainder untouched.
type PortDefinition struct {
	Index             uint32
	Direction         Direction
	BufferCountActual uint32
	BufferCountMin    uint32
	BufferSize        uint32
	Enabled           bool
	Populated         bool
	Format            []byte
}

// RoleParam builds the OMX_PARAM_COMPONENTROLETYPE structure for role.
func RoleParam(role string) []byte {
	const size = 8 + RoleLength
	p := make([]byte, size)
	putUint32(p[0:], size)
	p[4], p[5] = 1, 1 // version 1.1
	copy(p[8:8+RoleLength-1], role)
	return p
}

// RoleFromParam extracts the role string from a structure built by RoleParam.
func RoleFromParam(p []byte) string {
	if len(p) < 8 {
		return ""
	}
	name := p[8:]
	for i, c := range name {
		if c == 0 {
			return string(name[:i])
		}
	}
	return string(name)
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
