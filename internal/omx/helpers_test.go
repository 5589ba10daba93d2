package omx

import (
	"testing"
	"time"

	"omx/internal/il"
	"omx/internal/il/sim"
)

const waitLimit = 2 * time.Second

type fixture struct {
	lib  *sim.Library
	reg  *Registry
	core *Core
	comp *sim.Component
	in   *Port
	out  *Port
}

func simLoader(lib *sim.Library) Loader {
	return func(name string) (il.Library, error) {
		if name != sim.LibraryName {
			return nil, ErrUnknownLibrary
		}
		return lib, nil
	}
}

// newCore returns an initialized Core on a passthrough component with no
// ports set up. Teardown runs on cleanup.
func newCore(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	lib := sim.New()
	reg := NewRegistry(simLoader(lib))
	c := New(reg, Options{
		Library:      sim.LibraryName,
		Component:    sim.Passthrough,
		StateTimeout: timeout,
	})
	if err := c.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	comps := lib.Components()
	if len(comps) != 1 {
		t.Fatalf("got %d components, want 1", len(comps))
	}

	t.Cleanup(func() {
		c.Stop()
		c.Unload()
		c.Close()
	})
	return &fixture{lib: lib, reg: reg, core: c, comp: comps[0]}
}

// newFixture returns a Core with input port 0 and output port 1 set up for
// four 1024 byte buffers each.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := newCore(t, waitLimit)
	f.in = f.core.Port(0)
	f.out = f.core.Port(1)
	if err := f.in.Setup(il.DirInput, 4, 1024, 0); err != nil {
		t.Fatalf("input Setup() error = %v", err)
	}
	if err := f.out.Setup(il.DirOutput, 4, 1024, 1); err != nil {
		t.Fatalf("output Setup() error = %v", err)
	}
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.core.Prepare(); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if err := f.core.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := f.core.State(); got != il.StateExecuting {
		t.Fatalf("state after Start() = %s, want Executing", got)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitLimit)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitLimit):
		t.Fatalf("timed out waiting for result")
	}
	var zero T
	return zero
}

func heldDescriptors(p *Port) []*Descriptor {
	p.mu.Lock()
	defer p.mu.Unlock()
	var held []*Descriptor
	for _, d := range p.descs {
		if d.inHW {
			held = append(held, d)
		}
	}
	return held
}

func payload(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}
