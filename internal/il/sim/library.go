// SPDX-License-Identifier: MIT
/*
Package sim is an IL core implemented in Go. Its components behave like
hardware components: they own buffers between Empty/FillThisBuffer and the
matching callback, acknowledge commands asynchronously and deliver every
callback from their own goroutine.

It backs the "sim" library name of the command line and is the component the
buffer core is tested against, so it also carries a few controls a real
component does not have: holding buffers back, raising errors and settings
changes on demand, and recording frees of buffers the component still owns.
*/
package sim

import (
	"slices"
	"sync"

	"omx/internal/il"
)

// LibraryName is the registry name the command line maps to this package.
const LibraryName = "sim"

// Passthrough names a component with input port 0 and output port 1 that
// copies input payloads to output buffers.
const Passthrough = "OMX.sim.passthrough"

// Library is an IL core hosting simulated components.
type Library struct {
	mu      sync.Mutex
	inits   int
	handles []*Component
}

// New returns a library that has not been initialized yet.
func New() *Library {
	return &Library{}
}

func (l *Library) Init() error {
	l.mu.Lock()
	l.inits++
	l.mu.Unlock()
	return nil
}

func (l *Library) Deinit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inits == 0 {
		return il.ErrorNotReady
	}
	l.inits--
	return nil
}

// Inits returns the number of Init calls not yet matched by Deinit.
func (l *Library) Inits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inits
}

func (l *Library) GetHandle(name string, cb il.Callbacks) (il.Component, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inits == 0 {
		return nil, il.ErrorNotReady
	}
	if cb == nil {
		return nil, il.ErrorBadParameter
	}
	switch name {
	case Passthrough:
		c := newPassthrough(name, cb)
		l.handles = append(l.handles, c)
		return c, nil
	default:
		return nil, il.ErrorComponentNotFound
	}
}

func (l *Library) FreeHandle(comp il.Component) error {
	c, ok := comp.(*Component)
	if !ok {
		return il.ErrorBadParameter
	}

	l.mu.Lock()
	i := slices.Index(l.handles, c)
	if i < 0 {
		l.mu.Unlock()
		return il.ErrorBadParameter
	}
	l.handles = slices.Delete(l.handles, i, i+1)
	l.mu.Unlock()

	c.close()
	return nil
}

// Components returns the live component instances.
func (l *Library) Components() []*Component {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.handles)
}
