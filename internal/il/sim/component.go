// SPDX-License-Identifier: MIT
package sim

import (
	"fmt"
	"slices"
	"sync"

	"omx/internal/il"
)

const (
	defaultBufferCount = 4
	defaultBufferMin   = 2
	defaultBufferSize  = 1024
)

type port struct {
	def     il.PortDefinition
	headers map[*il.BufferHeader]bool
	owned   map[*il.BufferHeader]bool
	pending []*il.BufferHeader
	held    []*il.BufferHeader

	hold      bool
	enabling  bool
	disabling bool
	failAfter int
	allocs    int
}

func newPort(index uint32, dir il.Direction) *port {
	return &port{
		def: il.PortDefinition{
			Index:             index,
			Direction:         dir,
			BufferCountActual: defaultBufferCount,
			BufferCountMin:    defaultBufferMin,
			BufferSize:        defaultBufferSize,
			Enabled:           true,
		},
		headers:   make(map[*il.BufferHeader]bool),
		owned:     make(map[*il.BufferHeader]bool),
		failAfter: -1,
	}
}

func (p *port) populated() bool {
	return len(p.headers) >= int(p.def.BufferCountActual)
}

// Component is a simulated component instance.
type Component struct {
	name string
	cb   il.Callbacks
	disp *dispatcher

	mu         sync.Mutex
	state      il.State
	target     il.State
	role       string
	ports      []*port
	params     map[il.Index][]byte
	configs    map[il.Index][]byte
	consumed   int
	eosSent    bool
	violations []string
}

func newPassthrough(name string, cb il.Callbacks) *Component {
	return &Component{
		name:    name,
		cb:      cb,
		disp:    newDispatcher(),
		state:   il.StateLoaded,
		target:  il.StateLoaded,
		ports:   []*port{newPort(0, il.DirInput), newPort(1, il.DirOutput)},
		params:  make(map[il.Index][]byte),
		configs: make(map[il.Index][]byte),
	}
}

func (c *Component) close() {
	c.disp.close()
}

func (c *Component) Name() string { return c.name }

func (c *Component) GetState() (il.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *Component) SendCommand(cmd il.Command, param uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cmd == il.CommandStateSet {
		return c.setStateLocked(il.State(param))
	}

	indexes, err := c.portsLocked(param)
	if err != nil {
		return err
	}
	switch cmd {
	case il.CommandFlush:
		for _, i := range indexes {
			c.returnLocked(i, true)
			c.postCommandLocked(il.CommandFlush, i)
		}
	case il.CommandPortDisable:
		for _, i := range indexes {
			c.disableLocked(i)
		}
	case il.CommandPortEnable:
		for _, i := range indexes {
			c.enableLocked(i)
		}
	default:
		return il.ErrorUnsupportedSetting
	}
	return nil
}

func (c *Component) portsLocked(param uint32) ([]uint32, error) {
	if param == il.PortAll {
		all := make([]uint32, len(c.ports))
		for i := range all {
			all[i] = uint32(i)
		}
		return all, nil
	}
	if int(param) >= len(c.ports) {
		return nil, il.ErrorBadPortIndex
	}
	return []uint32{param}, nil
}

func (c *Component) portLocked(index uint32) (*port, error) {
	if int(index) >= len(c.ports) {
		return nil, il.ErrorBadPortIndex
	}
	return c.ports[index], nil
}

func (c *Component) setStateLocked(s il.State) error {
	if c.target != c.state {
		return il.ErrorIncorrectStateTransition
	}
	if s == c.state {
		return il.ErrorSameState
	}

	switch {
	case c.state == il.StateLoaded && s == il.StateIdle:
		c.target = s
		c.checkTransitionLocked()
	case c.state == il.StateIdle && s == il.StateLoaded:
		c.target = s
		c.checkTransitionLocked()
	case (c.state == il.StateIdle || c.state == il.StatePause) && s == il.StateExecuting:
		c.completeLocked(s)
		c.processLocked()
	case (c.state == il.StateIdle || c.state == il.StateExecuting) && s == il.StatePause:
		c.completeLocked(s)
	case (c.state == il.StateExecuting || c.state == il.StatePause) && s == il.StateIdle:
		for i := range c.ports {
			c.returnLocked(uint32(i), true)
		}
		c.completeLocked(s)
	case s == il.StateInvalid:
		c.completeLocked(s)
	default:
		return il.ErrorIncorrectStateTransition
	}
	return nil
}

func (c *Component) checkTransitionLocked() {
	switch {
	case c.state == il.StateLoaded && c.target == il.StateIdle:
		for _, p := range c.ports {
			if p.def.Enabled && !p.populated() {
				return
			}
		}
		c.completeLocked(il.StateIdle)
	case c.state == il.StateIdle && c.target == il.StateLoaded:
		for _, p := range c.ports {
			if len(p.headers) > 0 {
				return
			}
		}
		c.completeLocked(il.StateLoaded)
	}
}

func (c *Component) completeLocked(s il.State) {
	c.state = s
	c.target = s
	c.postCommandLocked(il.CommandStateSet, uint32(s))
}

func (c *Component) postCommandLocked(cmd il.Command, data uint32) {
	c.disp.post(func() { c.cb.EventHandler(il.EventCmdComplete, uint32(cmd), data, nil) })
}

// returnLocked hands every buffer the component owns on port i back to the
// client. Held buffers are included only when withHeld is set.
func (c *Component) returnLocked(i uint32, withHeld bool) {
	p := c.ports[i]
	back := p.pending
	p.pending = nil
	if withHeld {
		back = append(back, p.held...)
		p.held = nil
	}
	if p.def.Direction == il.DirInput {
		c.consumed = 0
		c.eosSent = false
	}
	for _, h := range back {
		if p.def.Direction == il.DirOutput {
			h.FilledLen = 0
			h.Offset = 0
		}
		c.doneLocked(p, h)
	}
}

// doneLocked gives h back to the client.
func (c *Component) doneLocked(p *port, h *il.BufferHeader) {
	delete(p.owned, h)
	if p.def.Direction == il.DirInput {
		c.disp.post(func() { c.cb.EmptyBufferDone(h) })
	} else {
		c.disp.post(func() { c.cb.FillBufferDone(h) })
	}
}

func (c *Component) disableLocked(i uint32) {
	p := c.ports[i]
	p.def.Enabled = false
	p.enabling = false
	c.returnLocked(i, false)
	if len(p.headers) == 0 {
		c.postCommandLocked(il.CommandPortDisable, i)
		return
	}
	p.disabling = true
}

func (c *Component) enableLocked(i uint32) {
	p := c.ports[i]
	p.def.Enabled = true
	p.disabling = false
	if (c.state == il.StateLoaded && c.target == il.StateLoaded) || p.populated() {
		c.postCommandLocked(il.CommandPortEnable, i)
		return
	}
	p.enabling = true
}

func (c *Component) AllocateBuffer(index uint32, appPrivate any, size uint32) (*il.BufferHeader, error) {
	return c.register(index, appPrivate, size, nil)
}

func (c *Component) UseBuffer(index uint32, appPrivate any, data []byte) (*il.BufferHeader, error) {
	if data == nil {
		return nil, il.ErrorBadParameter
	}
	return c.register(index, appPrivate, uint32(len(data)), data)
}

func (c *Component) register(index uint32, appPrivate any, size uint32, data []byte) (*il.BufferHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(index)
	if err != nil {
		return nil, err
	}
	populating := c.state == il.StateLoaded && c.target == il.StateIdle && p.def.Enabled
	if !populating && !p.enabling {
		return nil, il.ErrorIncorrectStateOperation
	}
	if size < p.def.BufferSize {
		return nil, il.ErrorBadParameter
	}
	if p.failAfter >= 0 && p.allocs >= p.failAfter {
		return nil, il.ErrorInsufficientResources
	}
	if data == nil {
		data = make([]byte, size)
	}

	h := &il.BufferHeader{
		Buffer:     data,
		AllocLen:   size,
		AppPrivate: appPrivate,
	}
	if p.def.Direction == il.DirInput {
		h.InputPortIndex = index
	} else {
		h.OutputPortIndex = index
	}
	p.headers[h] = true
	p.allocs++

	if p.enabling && p.populated() {
		p.enabling = false
		c.postCommandLocked(il.CommandPortEnable, index)
	}
	c.checkTransitionLocked()
	return h, nil
}

func (c *Component) FreeBuffer(index uint32, h *il.BufferHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(index)
	if err != nil {
		return err
	}
	if !p.headers[h] {
		return il.ErrorBadParameter
	}
	if p.owned[h] {
		c.violations = append(c.violations, fmt.Sprintf("port %d: freed a buffer the component still owns", index))
		delete(p.owned, h)
		p.pending = slices.DeleteFunc(p.pending, func(x *il.BufferHeader) bool { return x == h })
		p.held = slices.DeleteFunc(p.held, func(x *il.BufferHeader) bool { return x == h })
	}
	delete(p.headers, h)

	if p.disabling && len(p.headers) == 0 {
		p.disabling = false
		c.postCommandLocked(il.CommandPortDisable, index)
	}
	c.checkTransitionLocked()
	return nil
}

func (c *Component) EmptyThisBuffer(h *il.BufferHeader) error {
	return c.queue(h, h.InputPortIndex, il.DirInput)
}

func (c *Component) FillThisBuffer(h *il.BufferHeader) error {
	return c.queue(h, h.OutputPortIndex, il.DirOutput)
}

func (c *Component) queue(h *il.BufferHeader, index uint32, dir il.Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(index)
	if err != nil {
		return err
	}
	if !p.headers[h] || p.def.Direction != dir || p.owned[h] {
		return il.ErrorBadParameter
	}
	switch c.state {
	case il.StateIdle, il.StateExecuting, il.StatePause:
	default:
		return il.ErrorIncorrectStateOperation
	}
	if !p.def.Enabled {
		return il.ErrorIncorrectStateOperation
	}

	p.owned[h] = true
	if p.hold {
		p.held = append(p.held, h)
		return nil
	}
	p.pending = append(p.pending, h)
	if c.state == il.StateExecuting {
		c.processLocked()
	}
	return nil
}

// processLocked copies queued input into queued output buffers. An input
// buffer larger than an output buffer spans several outputs; only the first
// carries its timestamp. End of stream rides on the last output of the
// input that carried it, or on an empty output if the input was empty.
func (c *Component) processLocked() {
	if c.state != il.StateExecuting || len(c.ports) < 2 {
		return
	}
	in, out := c.ports[0], c.ports[1]

	for len(in.pending) > 0 {
		h := in.pending[0]
		payload := h.Payload()
		eos := h.Flags&il.FlagEOS != 0

		if c.consumed < len(payload) {
			if len(out.pending) == 0 {
				return
			}
			o := out.pending[0]
			out.pending = out.pending[1:]

			n := copy(o.Buffer, payload[c.consumed:])
			o.Offset = 0
			o.FilledLen = uint32(n)
			o.Flags = h.Flags & il.FlagCodecConfig
			o.Timestamp = -1
			if c.consumed == 0 {
				o.Timestamp = h.Timestamp
			}
			c.consumed += n
			if eos && c.consumed == len(payload) {
				o.Flags |= il.FlagEOS
				c.eosSent = true
			}
			c.doneLocked(out, o)
			continue
		}

		if eos && !c.eosSent {
			if len(out.pending) == 0 {
				return
			}
			o := out.pending[0]
			out.pending = out.pending[1:]
			o.Offset = 0
			o.FilledLen = 0
			o.Flags = il.FlagEOS
			o.Timestamp = h.Timestamp
			c.doneLocked(out, o)
		}

		in.pending = in.pending[1:]
		c.consumed = 0
		c.eosSent = false
		c.doneLocked(in, h)
		if eos {
			outIndex := out.def.Index
			c.disp.post(func() {
				c.cb.EventHandler(il.EventBufferFlag, outIndex, uint32(il.FlagEOS), nil)
			})
		}
	}
}

func (c *Component) GetParameter(index il.Index, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var src []byte
	switch index {
	case il.IndexParamStandardComponentRole:
		src = il.RoleParam(c.role)
	default:
		p, ok := c.params[index]
		if !ok {
			return il.ErrorUnsupportedIndex
		}
		src = p
	}
	if len(data) < len(src) {
		return il.ErrorBadParameter
	}
	copy(data, src)
	return nil
}

func (c *Component) SetParameter(index il.Index, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index == il.IndexParamStandardComponentRole {
		if c.state != il.StateLoaded {
			return il.ErrorIncorrectStateOperation
		}
		c.role = il.RoleFromParam(data)
		return nil
	}
	c.params[index] = slices.Clone(data)
	return nil
}

func (c *Component) GetConfig(index il.Index, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.configs[index]
	if !ok {
		return il.ErrorUnsupportedIndex
	}
	if len(data) < len(v) {
		return il.ErrorBadParameter
	}
	copy(data, v)
	return nil
}

func (c *Component) SetConfig(index il.Index, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configs[index] = slices.Clone(data)
	return nil
}

func (c *Component) GetPortDefinition(index uint32) (il.PortDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(index)
	if err != nil {
		return il.PortDefinition{}, err
	}
	def := p.def
	def.Populated = p.populated()
	def.Format = slices.Clone(p.def.Format)
	return def, nil
}

func (c *Component) SetPortDefinition(def il.PortDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(def.Index)
	if err != nil {
		return err
	}
	if c.state != il.StateLoaded && p.def.Enabled {
		return il.ErrorIncorrectStateOperation
	}
	if def.BufferCountActual < p.def.BufferCountMin {
		return il.ErrorBadParameter
	}
	p.def.BufferCountActual = def.BufferCountActual
	if def.BufferSize > 0 {
		p.def.BufferSize = def.BufferSize
	}
	if def.Format != nil {
		p.def.Format = slices.Clone(def.Format)
	}
	return nil
}
