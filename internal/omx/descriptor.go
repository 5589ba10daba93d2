// SPDX-License-Identifier: MIT
package omx

import (
	"time"

	"omx/internal/il"
)

// Descriptor pairs one component buffer header with the adapter buffer it
// currently borrows, if any. header.AppPrivate points back at the
// descriptor so callbacks can find it.
type Descriptor struct {
	index  int
	port   *Port
	header *il.BufferHeader
	lease  *Lease

	// guarded by port.mu
	live   bool
	inHW   bool
	sentAt time.Time
}

// Index returns the slot of the descriptor in its port's pool.
func (d *Descriptor) Index() int { return d.index }

// Header returns the component buffer header.
func (d *Descriptor) Header() *il.BufferHeader { return d.header }

// hold installs l as the borrowed buffer, dropping the previous one first.
func (d *Descriptor) hold(l *Lease) {
	prev := d.lease
	prev.Release()
	d.lease = l
}

// drop releases the borrowed buffer, if any.
func (d *Descriptor) drop() {
	d.lease.Release()
}

// bind points the header at b's storage.
func (d *Descriptor) bind(b *Buffer) {
	d.header.Buffer = b.Data
	d.header.AllocLen = uint32(len(b.Data))
	d.header.Offset = 0
	d.header.FilledLen = 0
}

func (d *Descriptor) reset() {
	d.header.FilledLen = 0
	d.header.Offset = 0
	d.header.Flags = 0
}

func descriptorOf(h *il.BufferHeader) *Descriptor {
	if h == nil {
		return nil
	}
	d, _ := h.AppPrivate.(*Descriptor)
	return d
}
