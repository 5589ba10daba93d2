// SPDX-License-Identifier: MIT
package omx

import (
	"fmt"
	"strings"

	"omx/internal/il"
)

// Allocation selects who provides the storage behind a port's buffers.
type Allocation int

const (
	// AllocClient registers storage owned by this side with UseBuffer.
	AllocClient Allocation = iota
	// AllocComponent asks the component for storage with AllocateBuffer.
	AllocComponent
)

func (a Allocation) String() string {
	switch a {
	case AllocClient:
		return "client"
	case AllocComponent:
		return "component"
	default:
		return fmt.Sprintf("Allocation(%d)", int(a))
	}
}

// ParseAllocation converts a configuration name to an Allocation.
func ParseAllocation(s string) (Allocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client":
		return AllocClient, nil
	case "component":
		return AllocComponent, nil
	default:
		return 0, fmt.Errorf("unknown buffer allocation %q", s)
	}
}

// Sharing is the buffer-sharing mode of a port.
type Sharing int

const (
	// SharingOff copies payloads into and out of port-owned storage.
	SharingOff Sharing = iota
	// SharingOn hands adapter buffers to the component without copying.
	SharingOn
	// SharingCompliant binds adapter storage to each slot once at allocation
	// and never re-points a header afterwards.
	SharingCompliant
)

func (s Sharing) String() string {
	switch s {
	case SharingOff:
		return "off"
	case SharingOn:
		return "on"
	case SharingCompliant:
		return "compliant"
	default:
		return fmt.Sprintf("Sharing(%d)", int(s))
	}
}

// ParseSharing converts a configuration name to a Sharing mode.
func ParseSharing(s string) (Sharing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off":
		return SharingOff, nil
	case "on":
		return SharingOn, nil
	case "compliant":
		return SharingCompliant, nil
	default:
		return 0, fmt.Errorf("unknown buffer sharing mode %q", s)
	}
}

// sharingPolicy is the per-mode behavior of a port. Methods run on the
// adapter side except returned, which runs on the component's callback
// goroutine.
type sharingPolicy interface {
	// allocate obtains one header for slot d.
	allocate(p *Port, d *Descriptor, comp il.Component) (*il.BufferHeader, error)
	// prepareSend loads b into d and returns the number of bytes taken.
	prepareSend(p *Port, d *Descriptor, b *Buffer) int
	// prepareRecv turns a filled d into an adapter buffer. It reports
	// whether the port should hand d straight back to the component.
	prepareRecv(p *Port, d *Descriptor) (*Buffer, bool)
	// discard drops whatever d carried for an empty output buffer.
	discard(p *Port, d *Descriptor)
	// returned runs when the component gives d back.
	returned(p *Port, d *Descriptor)
	// primeAtStart reports whether output slot i of n is handed to the
	// component by StartBuffers.
	primeAtStart(p *Port, i, n int) bool
}

func policyFor(s Sharing) sharingPolicy {
	switch s {
	case SharingOn:
		return sharedPolicy{}
	case SharingCompliant:
		return compliantPolicy{}
	default:
		return copyPolicy{}
	}
}

// copyPolicy implements SharingOff.
type copyPolicy struct{}

func (copyPolicy) allocate(p *Port, d *Descriptor, comp il.Component) (*il.BufferHeader, error) {
	if p.allocation == AllocComponent {
		return comp.AllocateBuffer(p.index, d, p.size)
	}
	return comp.UseBuffer(p.index, d, make([]byte, p.size))
}

func (copyPolicy) prepareSend(_ *Port, d *Descriptor, b *Buffer) int {
	return copyIn(d, b)
}

func (copyPolicy) prepareRecv(_ *Port, d *Descriptor) (*Buffer, bool) {
	payload := d.header.Payload()
	b := NewBuffer(len(payload))
	copy(b.Data, payload)
	return b, true
}

func (copyPolicy) discard(*Port, *Descriptor)  {}
func (copyPolicy) returned(*Port, *Descriptor) {}

func (copyPolicy) primeAtStart(*Port, int, int) bool { return true }

// sharedPolicy implements SharingOn. Each slot borrows an adapter buffer;
// input slots borrow the buffer being sent, output slots borrow a fresh
// buffer that is handed to the adapter once filled.
type sharedPolicy struct{}

func (sharedPolicy) allocate(p *Port, d *Descriptor, comp il.Component) (*il.BufferHeader, error) {
	b, err := p.newBuffer()
	if err != nil {
		return nil, err
	}
	d.hold(adopt(b))
	return comp.UseBuffer(p.index, d, b.Data)
}

func (sharedPolicy) prepareSend(_ *Port, d *Descriptor, b *Buffer) int {
	d.hold(Borrow(b))
	d.bind(b)
	d.header.FilledLen = uint32(len(b.Data))
	return len(b.Data)
}

func (sharedPolicy) prepareRecv(p *Port, d *Descriptor) (*Buffer, bool) {
	payload := d.header.Payload()
	b := d.lease.transfer()
	if b == nil {
		b = NewBuffer(len(payload))
		copy(b.Data, payload)
	} else {
		b.Data = payload
	}
	reprime(p, d)
	return b, true
}

func (sharedPolicy) discard(p *Port, d *Descriptor) {
	d.drop()
	reprime(p, d)
}

func (sharedPolicy) returned(p *Port, d *Descriptor) {
	if p.direction == il.DirInput {
		d.drop()
	}
}

func (sharedPolicy) primeAtStart(*Port, int, int) bool { return true }

// reprime gives an output slot a new adapter buffer to be filled.
func reprime(p *Port, d *Descriptor) {
	b, err := p.newBuffer()
	if err != nil {
		p.log.Warnf("buffer %d: %v; falling back to a plain allocation", d.index, err)
		b = NewBuffer(int(p.size))
	}
	d.hold(adopt(b))
	d.bind(b)
}

// compliantPolicy implements SharingCompliant. Storage is bound once. A
// received buffer is a view of that storage and the slot returns to the
// component when the view is released. The last p.reserved output slots are
// parked for the adapter at start instead of being handed to the component.
type compliantPolicy struct{}

func (compliantPolicy) allocate(p *Port, d *Descriptor, comp il.Component) (*il.BufferHeader, error) {
	return sharedPolicy{}.allocate(p, d, comp)
}

func (compliantPolicy) prepareSend(_ *Port, d *Descriptor, b *Buffer) int {
	return copyIn(d, b)
}

func (compliantPolicy) prepareRecv(p *Port, d *Descriptor) (*Buffer, bool) {
	return p.view(d, d.header.Payload()), false
}

func (compliantPolicy) discard(*Port, *Descriptor)  {}
func (compliantPolicy) returned(*Port, *Descriptor) {}

func (compliantPolicy) primeAtStart(p *Port, i, n int) bool {
	return i < n-p.reserved
}

func copyIn(d *Descriptor, b *Buffer) int {
	h := d.header
	n := copy(h.Buffer, b.Data)
	h.Offset = 0
	h.FilledLen = uint32(n)
	return n
}
