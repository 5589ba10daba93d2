// SPDX-License-Identifier: MIT
package sim

import (
	"slices"

	"omx/internal/il"
)

// SetHold makes the component keep every buffer it receives on port without
// processing it. Held buffers survive a port disable; a flush or a move to
// Idle still returns them.
func (c *Component) SetHold(index uint32, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, err := c.portLocked(index); err == nil {
		p.hold = on
	}
}

// ReturnHeld gives every held buffer of port back to the client.
func (c *Component) ReturnHeld(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(index)
	if err != nil {
		return
	}
	held := p.held
	p.held = nil
	for _, h := range held {
		if p.def.Direction == il.DirOutput {
			h.FilledLen = 0
		}
		c.doneLocked(p, h)
	}
}

// Fail reports an unrecoverable error to the client.
func (c *Component) Fail(code il.ErrorCode) {
	c.disp.post(func() { c.cb.EventHandler(il.EventError, uint32(code), 0, nil) })
}

// ChangeSettings replaces the buffer requirements of a port and tells the
// client about it.
func (c *Component) ChangeSettings(def il.PortDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.portLocked(def.Index)
	if err != nil {
		return
	}
	if def.BufferCountActual > 0 {
		p.def.BufferCountActual = max(def.BufferCountActual, p.def.BufferCountMin)
	}
	if def.BufferSize > 0 {
		p.def.BufferSize = def.BufferSize
	}
	if def.Format != nil {
		p.def.Format = slices.Clone(def.Format)
	}
	index := def.Index
	c.disp.post(func() {
		c.cb.EventHandler(il.EventPortSettingsChanged, index, uint32(il.IndexParamPortDefinition), nil)
	})
}

// FailAllocation lets the next after registrations on port succeed and
// fails every one after that. A negative count turns it off.
func (c *Component) FailAllocation(index uint32, after int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, err := c.portLocked(index); err == nil {
		p.failAfter = after
		p.allocs = 0
	}
}

// Violations lists every free of a buffer the component still owned.
func (c *Component) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.violations)
}

// Owned returns how many buffers of port the component currently owns.
func (c *Component) Owned(index uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, err := c.portLocked(index); err == nil {
		return len(p.owned)
	}
	return 0
}

// Held returns how many buffers of port are held back.
func (c *Component) Held(index uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, err := c.portLocked(index); err == nil {
		return len(p.held)
	}
	return 0
}

// Buffers returns how many buffers are registered on port.
func (c *Component) Buffers(index uint32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, err := c.portLocked(index); err == nil {
		return len(p.headers)
	}
	return 0
}

// Role returns the standard component role last set.
func (c *Component) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}
