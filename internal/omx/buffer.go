// SPDX-License-Identifier: MIT
package omx

import (
	"fmt"
	"sync/atomic"
	"time"
)

// NoTimestamp marks a Buffer without a presentation time.
const NoTimestamp time.Duration = -1

// Buffer is an adapter-visible, reference-counted block of media data.
// A new Buffer holds one reference owned by whoever created it; the release
// function runs once, when the last reference is dropped.
type Buffer struct {
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	CodecData bool

	refs atomic.Int32
	free func(*Buffer)
}

// NewBuffer allocates a zeroed Buffer of size bytes.
func NewBuffer(size int) *Buffer {
	return WrapBuffer(make([]byte, size), nil)
}

// WrapBuffer makes a Buffer over data. free, if set, is called when the last
// reference goes away.
func WrapBuffer(data []byte, free func(*Buffer)) *Buffer {
	b := &Buffer{
		Data:      data,
		Timestamp: NoTimestamp,
		Duration:  NoTimestamp,
		free:      free,
	}
	b.refs.Store(1)
	return b
}

// Ref adds a reference.
func (b *Buffer) Ref() *Buffer {
	if b.refs.Add(1) <= 1 {
		panic("omx: Ref on a released buffer")
	}
	return b
}

// Unref drops a reference.
func (b *Buffer) Unref() {
	switch n := b.refs.Add(-1); {
	case n == 0:
		if b.free != nil {
			b.free(b)
		}
	case n < 0:
		panic(fmt.Sprintf("omx: buffer over-released (refs=%d)", n))
	}
}

// Slice returns a Buffer over b.Data[off:] that keeps b alive until it is
// itself released. The slice carries no timestamp.
func (b *Buffer) Slice(off int) *Buffer {
	parent := b.Ref()
	s := WrapBuffer(b.Data[off:], func(*Buffer) { parent.Unref() })
	s.CodecData = b.CodecData
	return s
}

// Refs returns the current reference count.
func (b *Buffer) Refs() int32 {
	return b.refs.Load()
}

// Lease is exactly one reference to a Buffer held on behalf of the
// component. Releasing a lease more than once is a no-op, so the reference
// it stands for is dropped exactly once.
type Lease struct {
	buf  *Buffer
	done atomic.Bool
}

// Borrow takes a new reference on b.
func Borrow(b *Buffer) *Lease {
	return &Lease{buf: b.Ref()}
}

// adopt wraps a reference the caller already owns.
func adopt(b *Buffer) *Lease {
	return &Lease{buf: b}
}

// Buffer returns the leased buffer.
func (l *Lease) Buffer() *Buffer {
	return l.buf
}

// Release drops the leased reference. It reports whether this call did it.
func (l *Lease) Release() bool {
	if l == nil || !l.done.CompareAndSwap(false, true) {
		return false
	}
	l.buf.Unref()
	return true
}

// transfer ends the lease without dropping its reference, which now belongs
// to the caller. It returns nil if the lease was already consumed.
func (l *Lease) transfer() *Buffer {
	if l == nil || !l.done.CompareAndSwap(false, true) {
		return nil
	}
	return l.buf
}

// Released reports whether the lease has been consumed.
func (l *Lease) Released() bool {
	return l == nil || l.done.Load()
}
