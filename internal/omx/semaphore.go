// SPDX-License-Identifier: MIT
package omx

import (
	"context"
	"sync"
)

// Semaphore is a counting semaphore that starts at zero. Up is called from
// component callbacks; Down blocks the adapter until a matching Up.
type Semaphore struct {
	mu    sync.Mutex
	count int
	wake  chan struct{}
}

// NewSemaphore returns a semaphore with a count of zero.
func NewSemaphore() *Semaphore {
	return &Semaphore{wake: make(chan struct{})}
}

// Up increments the count and wakes all waiters; one of them wins.
func (s *Semaphore) Up() {
	s.mu.Lock()
	s.count++
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
}

// Down waits until the count is positive and decrements it.
func (s *Semaphore) Down() {
	_ = s.DownContext(context.Background())
}

// DownContext is Down that gives up when ctx is done.
func (s *Semaphore) DownContext(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.count > 0 {
			s.count--
			s.mu.Unlock()
			return nil
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// TryDown decrements the count if it is positive.
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count > 0 {
		s.count--
		return true
	}
	return false
}

// Count returns the number of pending Ups.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
