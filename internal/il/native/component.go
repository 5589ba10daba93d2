//go:build (linux || darwin) && (amd64 || arm64)

// SPDX-License-Identifier: MIT
package native

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"

	"omx/internal/il"
)

// cComponent mirrors OMX_COMPONENTTYPE.
type cComponent struct {
	size                   uint32
	version                [4]byte
	componentPrivate       uintptr
	applicationPrivate     uintptr
	getComponentVersion    uintptr
	sendCommand            uintptr
	getParameter           uintptr
	setParameter           uintptr
	getConfig              uintptr
	setConfig              uintptr
	getExtensionIndex      uintptr
	getState               uintptr
	componentTunnelRequest uintptr
	useBuffer              uintptr
	allocateBuffer         uintptr
	freeBuffer             uintptr
	emptyThisBuffer        uintptr
	fillThisBuffer         uintptr
	setCallbacks           uintptr
	componentDeInit        uintptr
	useEGLImage            uintptr
	componentRoleEnum      uintptr
}

// cBufferHeader mirrors OMX_BUFFERHEADERTYPE.
type cBufferHeader struct {
	size              uint32
	version           [4]byte
	buffer            *byte
	allocLen          uint32
	filledLen         uint32
	offset            uint32
	appPrivate        uintptr
	platformPrivate   uintptr
	inputPortPrivate  uintptr
	outputPortPrivate uintptr
	markTarget        uintptr
	markData          uintptr
	tickCount         uint32
	timestamp         int64
	flags             uint32
	outputPortIndex   uint32
	inputPortIndex    uint32
}

var (
	handles    sync.Map // uintptr -> *component
	nextHandle atomic.Uintptr

	thunkOnce            sync.Once
	eventHandlerThunk    uintptr
	emptyBufferDoneThunk uintptr
	fillBufferDoneThunk  uintptr
)

func initThunks() {
	thunkOnce.Do(func() {
		eventHandlerThunk = purego.NewCallback(func(_ unsafe.Pointer, app uintptr, event, d1, d2 uintptr, _ unsafe.Pointer) uintptr {
			if c := lookup(app); c != nil {
				c.cb.EventHandler(il.Event(uint32(event)), uint32(d1), uint32(d2), nil)
			}
			return 0
		})
		emptyBufferDoneThunk = purego.NewCallback(func(_ unsafe.Pointer, app uintptr, hdr unsafe.Pointer) uintptr {
			if c := lookup(app); c != nil {
				if h := c.done((*cBufferHeader)(hdr)); h != nil {
					c.cb.EmptyBufferDone(h)
				}
			}
			return 0
		})
		fillBufferDoneThunk = purego.NewCallback(func(_ unsafe.Pointer, app uintptr, hdr unsafe.Pointer) uintptr {
			if c := lookup(app); c != nil {
				if h := c.done((*cBufferHeader)(hdr)); h != nil {
					c.cb.FillBufferDone(h)
				}
			}
			return 0
		})
	})
}

func lookup(id uintptr) *component {
	v, ok := handles.Load(id)
	if !ok {
		return nil
	}
	return v.(*component)
}

// buffer ties a client header to the C header the component sees. cbuf is
// the C memory the component reads and writes; for client-supplied storage
// it is a staging copy that is synchronized around every hand-over.
type buffer struct {
	port    uint32
	header  *il.BufferHeader
	c       *cBufferHeader
	cbuf    []byte
	staging unsafe.Pointer
}

func sameStorage(a, b []byte) bool {
	return len(a) > 0 && len(b) > 0 && unsafe.SliceData(a) == unsafe.SliceData(b)
}

// toC publishes the client's view of the buffer before it is handed over.
func (b *buffer) toC() {
	h := b.header
	off := min(int(h.Offset), len(b.cbuf))
	end := min(int(h.Offset)+int(h.FilledLen), len(h.Buffer))
	n := 0
	if end > off {
		if sameStorage(h.Buffer, b.cbuf) {
			n = min(end, len(b.cbuf)) - off
		} else {
			n = copy(b.cbuf[off:], h.Buffer[off:end])
		}
	}
	b.c.offset = uint32(off)
	b.c.filledLen = uint32(n)
	b.c.flags = uint32(h.Flags)
	b.c.timestamp = h.Timestamp
}

// fromC reads back what the component did with the buffer.
func (b *buffer) fromC() {
	h := b.header
	off := min(int(b.c.offset), len(b.cbuf))
	end := min(off+int(b.c.filledLen), len(b.cbuf))
	n := end - off
	if !sameStorage(h.Buffer, b.cbuf) && n > 0 {
		if off < len(h.Buffer) {
			n = copy(h.Buffer[off:], b.cbuf[off:end])
		} else {
			n = 0
		}
	}
	h.Offset = uint32(off)
	h.FilledLen = uint32(n)
	h.Flags = il.BufferFlags(b.c.flags)
	h.Timestamp = b.c.timestamp
}

type component struct {
	name string
	cb   il.Callbacks
	id   uintptr

	handle unsafe.Pointer

	sendCommandFn     func(h unsafe.Pointer, cmd, param uint32, data unsafe.Pointer) uint32
	getParameterFn    func(h unsafe.Pointer, index uint32, p unsafe.Pointer) uint32
	setParameterFn    func(h unsafe.Pointer, index uint32, p unsafe.Pointer) uint32
	getConfigFn       func(h unsafe.Pointer, index uint32, p unsafe.Pointer) uint32
	setConfigFn       func(h unsafe.Pointer, index uint32, p unsafe.Pointer) uint32
	getStateFn        func(h unsafe.Pointer, state *uint32) uint32
	useBufferFn       func(h unsafe.Pointer, out **cBufferHeader, port uint32, app uintptr, size uint32, data unsafe.Pointer) uint32
	allocateBufferFn  func(h unsafe.Pointer, out **cBufferHeader, port uint32, app uintptr, size uint32) uint32
	freeBufferFn      func(h unsafe.Pointer, port uint32, hdr *cBufferHeader) uint32
	emptyThisBufferFn func(h unsafe.Pointer, hdr *cBufferHeader) uint32
	fillThisBufferFn  func(h unsafe.Pointer, hdr *cBufferHeader) uint32

	mu      sync.Mutex
	buffers map[*cBufferHeader]*buffer
}

func newComponent(name string, cb il.Callbacks) *component {
	c := &component{
		name:    name,
		cb:      cb,
		id:      nextHandle.Add(1),
		buffers: make(map[*cBufferHeader]*buffer),
	}
	handles.Store(c.id, c)
	return c
}

func (c *component) bind(handle unsafe.Pointer) {
	c.handle = handle
	vt := (*cComponent)(handle)
	purego.RegisterFunc(&c.sendCommandFn, vt.sendCommand)
	purego.RegisterFunc(&c.getParameterFn, vt.getParameter)
	purego.RegisterFunc(&c.setParameterFn, vt.setParameter)
	purego.RegisterFunc(&c.getConfigFn, vt.getConfig)
	purego.RegisterFunc(&c.setConfigFn, vt.setConfig)
	purego.RegisterFunc(&c.getStateFn, vt.getState)
	purego.RegisterFunc(&c.useBufferFn, vt.useBuffer)
	purego.RegisterFunc(&c.allocateBufferFn, vt.allocateBuffer)
	purego.RegisterFunc(&c.freeBufferFn, vt.freeBuffer)
	purego.RegisterFunc(&c.emptyThisBufferFn, vt.emptyThisBuffer)
	purego.RegisterFunc(&c.fillThisBufferFn, vt.fillThisBuffer)
}

func (c *component) forget() {
	handles.Delete(c.id)
}

// release drops the callback route and the staging memory of buffers the
// client never freed.
func (c *component) release() {
	c.forget()
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch, b := range c.buffers {
		if b.staging != nil {
			cFree(b.staging)
		}
		delete(c.buffers, ch)
	}
	c.handle = nil
}

func (c *component) done(ch *cBufferHeader) *il.BufferHeader {
	c.mu.Lock()
	b, ok := c.buffers[ch]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	b.fromC()
	return b.header
}

func (c *component) Name() string { return c.name }

func (c *component) SendCommand(cmd il.Command, param uint32) error {
	return check(c.sendCommandFn(c.handle, uint32(cmd), param, nil))
}

func (c *component) GetState() (il.State, error) {
	var s uint32
	if err := check(c.getStateFn(c.handle, &s)); err != nil {
		return il.StateInvalid, err
	}
	return il.State(s), nil
}

func (c *component) GetParameter(index il.Index, data []byte) error {
	if len(data) == 0 {
		return il.ErrorBadParameter
	}
	return check(c.getParameterFn(c.handle, uint32(index), unsafe.Pointer(unsafe.SliceData(data))))
}

func (c *component) SetParameter(index il.Index, data []byte) error {
	if len(data) == 0 {
		return il.ErrorBadParameter
	}
	return check(c.setParameterFn(c.handle, uint32(index), unsafe.Pointer(unsafe.SliceData(data))))
}

func (c *component) GetConfig(index il.Index, data []byte) error {
	if len(data) == 0 {
		return il.ErrorBadParameter
	}
	return check(c.getConfigFn(c.handle, uint32(index), unsafe.Pointer(unsafe.SliceData(data))))
}

func (c *component) SetConfig(index il.Index, data []byte) error {
	if len(data) == 0 {
		return il.ErrorBadParameter
	}
	return check(c.setConfigFn(c.handle, uint32(index), unsafe.Pointer(unsafe.SliceData(data))))
}

func (c *component) portDefinition(port uint32) ([]byte, error) {
	p := encodePortDefinition(il.PortDefinition{Index: port})
	if err := c.GetParameter(il.IndexParamPortDefinition, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *component) GetPortDefinition(port uint32) (il.PortDefinition, error) {
	p, err := c.portDefinition(port)
	if err != nil {
		return il.PortDefinition{}, err
	}
	return decodePortDefinition(p), nil
}

// SetPortDefinition writes the buffer requirements of def. The domain
// format is kept as the component reported it unless def carries one.
func (c *component) SetPortDefinition(def il.PortDefinition) error {
	cur, err := c.portDefinition(def.Index)
	if err != nil {
		return err
	}
	next := decodePortDefinition(cur)
	next.BufferCountActual = def.BufferCountActual
	next.BufferSize = def.BufferSize
	if def.Format != nil {
		next.Format = def.Format
	}
	return c.SetParameter(il.IndexParamPortDefinition, encodePortDefinition(next))
}

func (c *component) track(port uint32, ch *cBufferHeader, h *il.BufferHeader, staging unsafe.Pointer, cbuf []byte) *il.BufferHeader {
	b := &buffer{port: port, header: h, c: ch, cbuf: cbuf, staging: staging}
	h.AllocLen = ch.allocLen
	h.InputPortIndex = ch.inputPortIndex
	h.OutputPortIndex = ch.outputPortIndex
	h.PlatformPrivate = b

	c.mu.Lock()
	c.buffers[ch] = b
	c.mu.Unlock()
	return h
}

func (c *component) AllocateBuffer(port uint32, appPrivate any, size uint32) (*il.BufferHeader, error) {
	var ch *cBufferHeader
	if err := check(c.allocateBufferFn(c.handle, &ch, port, c.id, size)); err != nil {
		return nil, err
	}
	cbuf := unsafe.Slice(ch.buffer, ch.allocLen)
	return c.track(port, ch, &il.BufferHeader{Buffer: cbuf, AppPrivate: appPrivate}, nil, cbuf), nil
}

func (c *component) UseBuffer(port uint32, appPrivate any, data []byte) (*il.BufferHeader, error) {
	if len(data) == 0 {
		return nil, il.ErrorBadParameter
	}
	staging := cMalloc(uintptr(len(data)))
	if staging == nil {
		return nil, il.ErrorInsufficientResources
	}
	var ch *cBufferHeader
	if err := check(c.useBufferFn(c.handle, &ch, port, c.id, uint32(len(data)), staging)); err != nil {
		cFree(staging)
		return nil, err
	}
	cbuf := unsafe.Slice((*byte)(staging), len(data))
	return c.track(port, ch, &il.BufferHeader{Buffer: data, AppPrivate: appPrivate}, staging, cbuf), nil
}

func (c *component) FreeBuffer(port uint32, h *il.BufferHeader) error {
	b, ok := h.PlatformPrivate.(*buffer)
	if !ok {
		return il.ErrorBadParameter
	}
	if err := check(c.freeBufferFn(c.handle, port, b.c)); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.buffers, b.c)
	c.mu.Unlock()
	if b.staging != nil {
		cFree(b.staging)
	}
	h.PlatformPrivate = nil
	return nil
}

func (c *component) EmptyThisBuffer(h *il.BufferHeader) error {
	b, ok := h.PlatformPrivate.(*buffer)
	if !ok {
		return il.ErrorBadParameter
	}
	b.toC()
	return check(c.emptyThisBufferFn(c.handle, b.c))
}

func (c *component) FillThisBuffer(h *il.BufferHeader) error {
	b, ok := h.PlatformPrivate.(*buffer)
	if !ok {
		return il.ErrorBadParameter
	}
	b.c.offset = 0
	b.c.filledLen = 0
	b.c.flags = 0
	return check(c.fillThisBufferFn(c.handle, b.c))
}
