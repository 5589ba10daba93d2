// SPDX-License-Identifier: MIT
package il

// Callbacks receives asynchronous notifications from a component. They are
// invoked on a goroutine (or foreign thread) owned by the implementation and
// must not block on anything the implementation itself is waiting for.
type Callbacks interface {
	EventHandler(event Event, data1, data2 uint32, eventData any)
	EmptyBufferDone(header *BufferHeader)
	FillBufferDone(header *BufferHeader)
}

// Component is one instantiated IL component (an OMX_HANDLETYPE).
type Component interface {
	Name() string
	SendCommand(cmd Command, param uint32) error
	GetState() (State, error)

	GetParameter(index Index, data []byte) error
	SetParameter(index Index, data []byte) error
	GetConfig(index Index, data []byte) error
	SetConfig(index Index, data []byte) error

	GetPortDefinition(port uint32) (PortDefinition, error)
	SetPortDefinition(def PortDefinition) error

	AllocateBuffer(port uint32, appPrivate any, size uint32) (*BufferHeader, error)
	UseBuffer(port uint32, appPrivate any, data []byte) (*BufferHeader, error)
	FreeBuffer(port uint32, header *BufferHeader) error

	EmptyThisBuffer(header *BufferHeader) error
	FillThisBuffer(header *BufferHeader) error
}

// Library is a loaded component implementation (the OMX core entry points of
// one shared object).
type Library interface {
	Init() error
	Deinit() error
	GetHandle(name string, cb Callbacks) (Component, error)
	FreeHandle(c Component) error
}
