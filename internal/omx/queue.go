// SPDX-License-Identifier: MIT
package omx

import (
	"sync"

	"omx/pkg/bitint"
)

const minQueueRing = 8

// Queue is an unbounded FIFO whose Pop blocks while the queue is empty.
// Disabling the queue wakes every blocked Pop and makes further Pops fail
// without discarding what is queued. A closed queue stays disabled.
type Queue[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	ring    []T // power-of-two length
	head    int
	n       int
	enabled bool
	closed  bool
}

// NewQueue returns an empty, enabled queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{ring: make([]T, minQueueRing), enabled: true}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v and wakes one waiter. Pushing never blocks and works on a
// disabled queue.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	if q.n == len(q.ring) {
		q.grow()
	}
	q.ring[(q.head+q.n)&bitint.Mask(len(q.ring))] = v
	q.n++
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *Queue[T]) grow() {
	ring := make([]T, bitint.NextPowerOfTwo(len(q.ring)+1))
	mask := bitint.Mask(len(q.ring))
	for i := 0; i < q.n; i++ {
		ring[i] = q.ring[(q.head+i)&mask]
	}
	q.ring = ring
	q.head = 0
}

// Pop removes the oldest item, waiting for one if necessary. It returns false
// as soon as the queue is (or becomes) disabled.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.enabled && q.n == 0 {
		q.cond.Wait()
	}
	if !q.enabled {
		var zero T
		return zero, false
	}
	return q.shift(), true
}

// TryPop removes the oldest item without waiting, regardless of whether the
// queue is enabled.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		var zero T
		return zero, false
	}
	return q.shift(), true
}

func (q *Queue[T]) shift() T {
	var zero T
	v := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) & bitint.Mask(len(q.ring))
	q.n--
	return v
}

// Enable lets Pop deliver items again. It has no effect after Close.
func (q *Queue[T]) Enable() {
	q.mu.Lock()
	if !q.closed {
		q.enabled = true
	}
	q.mu.Unlock()
}

// Disable makes every current and future Pop return false.
func (q *Queue[T]) Disable() {
	q.mu.Lock()
	q.enabled = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Close disables the queue permanently.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.enabled = false
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Enabled reports whether Pop currently delivers items.
func (q *Queue[T]) Enabled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enabled
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}
