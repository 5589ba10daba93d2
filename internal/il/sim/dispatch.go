// SPDX-License-Identifier: MIT
package sim

import "sync"

// dispatcher runs posted callbacks one at a time, in order, on its own
// goroutine. Posting never blocks.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fns    []func()
	closed bool
	done   chan struct{}
}

func newDispatcher() *dispatcher {
	d := &dispatcher{done: make(chan struct{})}
	d.cond = sync.NewCond(&d.mu)
	go d.run()
	return d
}

func (d *dispatcher) post(fn func()) {
	d.mu.Lock()
	if !d.closed {
		d.fns = append(d.fns, fn)
	}
	d.mu.Unlock()
	d.cond.Signal()
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.fns) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.fns) == 0 {
			d.mu.Unlock()
			return
		}
		fn := d.fns[0]
		d.fns[0] = nil
		d.fns = d.fns[1:]
		d.mu.Unlock()

		fn()
	}
}

// close runs what is already posted and stops the goroutine. It must not be
// called from a callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cond.Broadcast()
	<-d.done
}
