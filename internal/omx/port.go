// SPDX-License-Identifier: MIT
package omx

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"omx/internal/il"
	applog "omx/internal/log"
)

// noTicks is the header timestamp of a buffer without a presentation time.
const noTicks int64 = -1

// turnaroundSamples is the number of recent component round trips kept per
// port.
const turnaroundSamples = 128

// BufferAllocFunc supplies adapter-visible storage for a port's buffers.
type BufferAllocFunc func(p *Port, size int) (*Buffer, error)

// Port is one data port of a Core. The pool of descriptors exists between
// AllocateBuffers and FreeBuffers; the pending queue carries descriptors the
// component has handed back.
type Port struct {
	core  *Core
	log   *applog.Logger
	queue *Queue[*Descriptor]

	mu        sync.Mutex
	returned  *sync.Cond
	index     uint32
	direction il.Direction
	count     uint32
	size      uint32
	ready     bool

	allocation  Allocation
	sharing     Sharing
	policy      sharingPolicy
	reserved    int
	bufferAlloc BufferAllocFunc

	descs   []*Descriptor
	parked  []*Descriptor
	inHW    int
	primed  bool
	enabled bool

	eos atomic.Bool

	sent       uint64
	back       uint64
	bytes      uint64
	turnaround [turnaroundSamples]time.Duration
	samples    int
}

func newPort(c *Core, index uint32) *Port {
	p := &Port{
		core:    c,
		log:     c.log.With(strconv.FormatUint(uint64(index), 10)),
		queue:   NewQueue[*Descriptor](),
		index:   index,
		policy:  policyFor(SharingOff),
		enabled: true,
	}
	p.returned = sync.NewCond(&p.mu)
	return p
}

// Setup records the negotiated direction, buffer count and size. It fails
// while buffers are allocated.
func (p *Port) Setup(dir il.Direction, count, size, index uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.descs) > 0 {
		p.log.Errorf("setup while %d buffers are allocated", len(p.descs))
		return ErrBuffersAllocated
	}
	p.direction = dir
	p.count = count
	p.size = size
	p.index = index
	p.ready = true
	p.log.Debugf("setup %s port: %d x %d bytes", dir, count, size)
	return nil
}

// SetupFromDefinition sets the port up from the component's definition.
func (p *Port) SetupFromDefinition(def il.PortDefinition) error {
	return p.Setup(def.Direction, def.BufferCountActual, def.BufferSize, def.Index)
}

// Definition reads the component's current definition of this port.
func (p *Port) Definition() (il.PortDefinition, error) {
	comp := p.core.component()
	if comp == nil {
		return il.PortDefinition{}, ErrNotInitialized
	}
	return comp.GetPortDefinition(p.Index())
}

// SetDefinition writes def to the component.
func (p *Port) SetDefinition(def il.PortDefinition) error {
	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}
	if err := comp.SetPortDefinition(def); err != nil {
		return fmt.Errorf("set definition of port %d: %w", def.Index, err)
	}
	return nil
}

// SetAllocation selects who provides buffer storage.
func (p *Port) SetAllocation(a Allocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.descs) > 0 {
		return ErrBuffersAllocated
	}
	if a == AllocComponent && p.sharing != SharingOff {
		return ErrInvalidSharing
	}
	p.allocation = a
	return nil
}

// SetSharing selects the buffer-sharing mode. reserved is the number of
// trailing output slots parked for the adapter under SharingCompliant.
func (p *Port) SetSharing(s Sharing, reserved int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.descs) > 0 {
		return ErrBuffersAllocated
	}
	if s != SharingOff && p.allocation == AllocComponent {
		return ErrInvalidSharing
	}
	if reserved < 0 || (s != SharingCompliant && reserved != 0) {
		return fmt.Errorf("%w: %d reserved buffers with sharing %s", ErrInvalidSharing, reserved, s)
	}
	p.sharing = s
	p.policy = policyFor(s)
	p.reserved = reserved
	return nil
}

// SetBufferAlloc overrides how adapter-visible storage is obtained in the
// sharing modes.
func (p *Port) SetBufferAlloc(fn BufferAllocFunc) {
	p.mu.Lock()
	p.bufferAlloc = fn
	p.mu.Unlock()
}

func (p *Port) newBuffer() (*Buffer, error) {
	p.mu.Lock()
	fn, size := p.bufferAlloc, int(p.size)
	p.mu.Unlock()

	if fn == nil {
		return NewBuffer(size), nil
	}
	b, err := fn(p, size)
	if err != nil {
		return nil, err
	}
	if b == nil || len(b.Data) < size {
		return nil, fmt.Errorf("buffer source returned less than %d bytes", size)
	}
	return b, nil
}

// AllocateBuffers creates the pool. It does nothing if the pool exists. On
// failure every slot allocated so far is freed again and the pool stays
// empty.
func (p *Port) AllocateBuffers() error {
	p.mu.Lock()
	if len(p.descs) > 0 {
		p.mu.Unlock()
		return nil
	}
	if !p.ready {
		p.mu.Unlock()
		return ErrNotSetup
	}
	count := int(p.count)
	policy := p.policy
	p.mu.Unlock()

	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}

	descs := make([]*Descriptor, 0, count)
	for i := 0; i < count; i++ {
		d := &Descriptor{index: i, port: p, live: true}
		h, err := policy.allocate(p, d, comp)
		if err != nil {
			d.drop()
			p.log.Errorf("allocating buffer %d of %d: %v", i+1, count, err)
			p.rollback(comp, descs)
			return fmt.Errorf("allocate buffer %d on port %d: %w", i, p.Index(), err)
		}
		h.AppPrivate = d
		d.header = h
		descs = append(descs, d)
	}

	p.mu.Lock()
	p.descs = descs
	p.primed = false
	p.mu.Unlock()

	p.log.Debugf("allocated %d buffers (%s, sharing %s)", count, p.allocation, p.sharing)
	return nil
}

func (p *Port) rollback(comp il.Component, descs []*Descriptor) {
	for _, d := range descs {
		if err := comp.FreeBuffer(p.index, d.header); err != nil {
			p.log.Warnf("rollback of buffer %d: %v", d.index, err)
		}
		d.drop()
	}
}

// FreeBuffers waits until the component has handed back every buffer and
// then frees the pool. With a latched error the wait ends early and buffers
// still held by the component are left alone.
func (p *Port) FreeBuffers() error {
	p.mu.Lock()
	if len(p.descs) == 0 {
		p.mu.Unlock()
		return nil
	}
	for p.inHW > 0 && p.core.Err() == nil {
		p.log.Debugf("waiting for %d buffers", p.inHW)
		p.returned.Wait()
	}

	descs := p.descs
	var free []*Descriptor
	for _, d := range descs {
		d.live = false
		if !d.inHW {
			free = append(free, d)
		}
	}
	leaked := len(descs) - len(free)
	p.descs = nil
	p.parked = nil
	p.primed = false
	p.mu.Unlock()

	if leaked > 0 {
		p.log.Warnf("leaving %d buffers held by the component", leaked)
	}

	for {
		if _, ok := p.queue.TryPop(); !ok {
			break
		}
	}

	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}
	var errs []error
	for _, d := range free {
		d.drop()
		if err := comp.FreeBuffer(p.index, d.header); err != nil {
			errs = append(errs, fmt.Errorf("free buffer %d: %w", d.index, err))
		}
	}
	p.log.Debugf("freed %d buffers", len(free))
	return errors.Join(errs...)
}

// StartBuffers primes the pool once after allocation. Input slots become
// available to Send; output slots go to the component to be filled, apart
// from slots the sharing mode parks for the adapter.
func (p *Port) StartBuffers() error {
	p.mu.Lock()
	if !p.enabled || p.primed || len(p.descs) == 0 {
		p.mu.Unlock()
		return nil
	}
	p.primed = true
	descs := append([]*Descriptor(nil), p.descs...)
	dir := p.direction
	policy := p.policy
	p.mu.Unlock()

	if dir == il.DirInput {
		for _, d := range descs {
			p.queue.Push(d)
		}
		return nil
	}

	var errs []error
	for i, d := range descs {
		if !policy.primeAtStart(p, i, len(descs)) {
			p.mu.Lock()
			p.parked = append(p.parked, d)
			p.mu.Unlock()
			continue
		}
		if err := p.releaseOutput(d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TakeReserved hands the adapter the output slots parked at start. Each
// buffer returns its slot to the component when released.
func (p *Port) TakeReserved() []*Buffer {
	p.mu.Lock()
	parked := p.parked
	p.parked = nil
	p.mu.Unlock()

	bufs := make([]*Buffer, 0, len(parked))
	for _, d := range parked {
		bufs = append(bufs, p.view(d, d.header.Buffer))
	}
	return bufs
}

// view wraps data, which lies in d's storage. Releasing the view gives d
// back to the component.
func (p *Port) view(d *Descriptor, data []byte) *Buffer {
	return WrapBuffer(data, func(*Buffer) {
		if err := p.releaseOutput(d); err != nil && !errors.Is(err, ErrPortDisabled) {
			p.log.Warnf("recycling buffer %d: %v", d.index, err)
		}
	})
}

// release hands d to the component.
func (p *Port) release(d *Descriptor) error {
	p.mu.Lock()
	if !d.live {
		p.mu.Unlock()
		return ErrPortDisabled
	}
	d.inHW = true
	d.sentAt = time.Now()
	p.inHW++
	p.sent++
	p.bytes += uint64(d.header.FilledLen)
	dir := p.direction
	p.mu.Unlock()

	comp := p.core.component()
	var err error
	switch {
	case comp == nil:
		err = ErrNotInitialized
	case dir == il.DirInput:
		err = comp.EmptyThisBuffer(d.header)
	default:
		err = comp.FillThisBuffer(d.header)
	}
	if err != nil {
		p.mu.Lock()
		if d.inHW {
			d.inHW = false
			p.inHW--
		}
		p.mu.Unlock()
		p.returned.Broadcast()
		return fmt.Errorf("release buffer %d: %w", d.index, err)
	}
	return nil
}

func (p *Port) releaseOutput(d *Descriptor) error {
	d.reset()
	return p.release(d)
}

// PushBuffer takes back a descriptor the component has finished with. It is
// called from the component's callback goroutine.
//
// The descriptor is queued in the same critical section that stops counting
// it as held, so a FreeBuffers woken by the return always finds it in the
// queue and a Send cannot release it before the count drops.
func (p *Port) PushBuffer(d *Descriptor) {
	p.mu.Lock()
	policy, live := p.policy, d.live
	p.mu.Unlock()

	if live {
		policy.returned(p, d)
	} else {
		d.drop()
	}

	p.mu.Lock()
	if d.live {
		p.queue.Push(d)
	}
	if d.inHW {
		d.inHW = false
		p.inHW--
		p.back++
		p.turnaround[p.samples%turnaroundSamples] = time.Since(d.sentAt)
		p.samples++
	}
	p.mu.Unlock()
	p.returned.Broadcast()
}

// Send passes one buffer to the component and returns how many bytes of it
// were taken. It blocks until an input slot is free. ErrNoBuffer means the
// port is paused and the call may be retried.
func (p *Port) Send(b *Buffer) (int, error) {
	d, err := p.request()
	if err != nil {
		return 0, err
	}

	n := p.currentPolicy().prepareSend(p, d, b)
	h := d.header
	h.Flags = 0
	if b.CodecData {
		h.Flags |= il.FlagCodecConfig
	}
	h.Timestamp = p.toTicks(b.Timestamp)

	if err := p.release(d); err != nil {
		p.requeue(d)
		return 0, err
	}
	p.log.Debugf("sent %d of %d bytes in buffer %d", n, len(b.Data), d.index)
	return n, nil
}

// SendEOS passes an empty buffer flagged end of stream.
func (p *Port) SendEOS() error {
	d, err := p.request()
	if err != nil {
		return err
	}
	d.reset()
	d.header.Flags = il.FlagEOS
	d.header.Timestamp = noTicks

	if err := p.release(d); err != nil {
		p.requeue(d)
		return err
	}
	p.log.Debugf("sent end of stream in buffer %d", d.index)
	return nil
}

func (p *Port) request() (*Descriptor, error) {
	if p.Direction() != il.DirInput {
		return nil, ErrWrongDirection
	}
	if err := p.core.Err(); err != nil {
		return nil, err
	}
	if !p.Enabled() {
		return nil, ErrPortDisabled
	}
	for {
		d, ok := p.queue.Pop()
		if !ok {
			if err := p.core.Err(); err != nil {
				return nil, err
			}
			if !p.Enabled() {
				return nil, ErrPortDisabled
			}
			return nil, ErrNoBuffer
		}
		if p.alive(d) {
			return d, nil
		}
		p.log.Debugf("dropping freed buffer %d", d.index)
	}
}

// requeue puts back a slot Send could not hand over. Freed slots stay out.
func (p *Port) requeue(d *Descriptor) {
	if p.alive(d) {
		p.queue.Push(d)
	}
}

func (p *Port) alive(d *Descriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return d.live
}

// Recv blocks until the component has filled a buffer. It returns io.EOF
// once end of stream has been received, and ErrPortDisabled (or the latched
// component error) when the port stops delivering.
func (p *Port) Recv() (*Buffer, error) {
	if p.Direction() != il.DirOutput {
		return nil, ErrWrongDirection
	}
	for {
		if p.eos.CompareAndSwap(true, false) {
			return nil, io.EOF
		}
		if !p.Enabled() {
			return nil, p.cancelErr()
		}
		d, ok := p.queue.Pop()
		if !ok {
			return nil, p.cancelErr()
		}
		if !p.alive(d) {
			p.log.Debugf("dropping freed buffer %d", d.index)
			continue
		}

		h := d.header
		eos := h.Flags&il.FlagEOS != 0
		if h.FilledLen == 0 {
			p.currentPolicy().discard(p, d)
			p.recycle(d)
			if eos {
				p.log.Debugf("end of stream")
				return nil, io.EOF
			}
			continue
		}

		b, recycle := p.currentPolicy().prepareRecv(p, d)
		b.Timestamp = p.fromTicks(h.Timestamp)
		b.CodecData = h.Flags&il.FlagCodecConfig != 0
		if recycle {
			p.recycle(d)
		}
		if eos {
			p.eos.Store(true)
		}
		return b, nil
	}
}

func (p *Port) recycle(d *Descriptor) {
	if err := p.releaseOutput(d); err != nil && !errors.Is(err, ErrPortDisabled) {
		p.log.Warnf("recycling buffer %d: %v", d.index, err)
	}
}

func (p *Port) cancelErr() error {
	if err := p.core.Err(); err != nil {
		return err
	}
	return ErrPortDisabled
}

func (p *Port) toTicks(ts time.Duration) int64 {
	if !p.core.UseTimestamps() || ts == NoTimestamp {
		return noTicks
	}
	return int64(ts / time.Microsecond)
}

func (p *Port) fromTicks(ticks int64) time.Duration {
	if !p.core.UseTimestamps() || ticks == noTicks {
		return NoTimestamp
	}
	return time.Duration(ticks) * time.Microsecond
}

// Pause stops delivery through the pending queue without discarding it.
func (p *Port) Pause() {
	p.queue.Disable()
	// Taken so a FreeBuffers that has just checked for a latched error is
	// already waiting when the broadcast goes out.
	p.mu.Lock()
	p.returned.Broadcast()
	p.mu.Unlock()
}

// Resume restarts delivery on an enabled port.
func (p *Port) Resume() {
	if p.Enabled() {
		p.queue.Enable()
	}
}

// Flush returns every buffer to the adapter side. Filled output that is
// still queued is dropped and handed back to the component first.
func (p *Port) Flush() error {
	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}

	if p.Direction() == il.DirOutput {
		dropped := 0
		for {
			d, ok := p.queue.TryPop()
			if !ok {
				break
			}
			if !p.alive(d) {
				continue
			}
			p.currentPolicy().discard(p, d)
			p.recycle(d)
			dropped++
		}
		if dropped > 0 {
			p.log.Debugf("flush dropped %d queued buffers", dropped)
		}
	}

	if err := comp.SendCommand(il.CommandFlush, p.Index()); err != nil {
		return fmt.Errorf("flush port %d: %w", p.Index(), err)
	}
	return p.core.waitSem(p.core.flushSem)
}

// Enable brings the port back into data flow.
func (p *Port) Enable() error {
	if p.Enabled() {
		return nil
	}
	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}

	if err := comp.SendCommand(il.CommandPortEnable, p.Index()); err != nil {
		return fmt.Errorf("enable port %d: %w", p.Index(), err)
	}
	if p.core.State() != il.StateLoaded {
		if err := p.AllocateBuffers(); err != nil {
			return err
		}
	}
	if err := p.core.waitSem(p.core.portSem); err != nil {
		return err
	}

	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
	p.queue.Enable()
	p.core.notify(Event{Kind: EventPortEnabled, Port: p.Index()})

	if p.core.State() == il.StateExecuting {
		return p.StartBuffers()
	}
	return nil
}

// Disable takes the port out of data flow and frees its buffers once the
// component has given them all back.
func (p *Port) Disable() error {
	if !p.Enabled() {
		return nil
	}
	comp := p.core.component()
	if comp == nil {
		return ErrNotInitialized
	}

	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	p.queue.Disable()

	if err := comp.SendCommand(il.CommandPortDisable, p.Index()); err != nil {
		return fmt.Errorf("disable port %d: %w", p.Index(), err)
	}
	if err := p.FreeBuffers(); err != nil {
		return err
	}
	if err := p.core.waitSem(p.core.portSem); err != nil {
		return err
	}
	p.eos.Store(false)
	p.core.notify(Event{Kind: EventPortDisabled, Port: p.Index()})
	return nil
}

// Finish disables the port for good and wakes anything blocked on it.
func (p *Port) Finish() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
	p.queue.Close()
	p.returned.Broadcast()
}

func (p *Port) currentPolicy() sharingPolicy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// Index returns the component port index.
func (p *Port) Index() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Direction returns the direction recorded by Setup.
func (p *Port) Direction() il.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.direction
}

// BufferCount returns the negotiated number of buffers.
func (p *Port) BufferCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// BufferSize returns the negotiated buffer size.
func (p *Port) BufferSize() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Sharing returns the buffer-sharing mode.
func (p *Port) Sharing() Sharing {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sharing
}

// Enabled reports whether the port takes part in data flow.
func (p *Port) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Buffers returns the size of the allocated pool.
func (p *Port) Buffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.descs)
}

// Held returns how many buffers the component currently owns.
func (p *Port) Held() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inHW
}

// Queued returns how many buffers wait in the pending queue.
func (p *Port) Queued() int {
	return p.queue.Len()
}

// Err returns the component's latched error.
func (p *Port) Err() error {
	return p.core.Err()
}

// PortStats is a snapshot of a port's buffer traffic.
type PortStats struct {
	Port       uint32
	Direction  il.Direction
	Buffers    int
	Held       int
	Queued     int
	Sent       uint64
	Returned   uint64
	Bytes      uint64
	Turnaround []time.Duration
}

// Stats returns the traffic counters and the most recent component round
// trip times, oldest first.
func (p *Port) Stats() PortStats {
	p.mu.Lock()
	s := PortStats{
		Port:      p.index,
		Direction: p.direction,
		Buffers:   len(p.descs),
		Held:      p.inHW,
		Sent:      p.sent,
		Returned:  p.back,
		Bytes:     p.bytes,
	}
	n := min(p.samples, turnaroundSamples)
	s.Turnaround = make([]time.Duration, 0, n)
	for i := p.samples - n; i < p.samples; i++ {
		s.Turnaround = append(s.Turnaround, p.turnaround[i%turnaroundSamples])
	}
	p.mu.Unlock()

	s.Queued = p.queue.Len()
	return s
}
