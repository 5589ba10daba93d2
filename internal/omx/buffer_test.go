package omx

import (
	"errors"
	"testing"

	"omx/internal/il"
)

func TestBufferRefcount(t *testing.T) {
	frees := 0
	b := WrapBuffer(make([]byte, 8), func(*Buffer) { frees++ })
	if b.Timestamp != NoTimestamp {
		t.Errorf("new buffer timestamp = %v, want none", b.Timestamp)
	}

	b.Ref()
	b.Unref()
	if frees != 0 {
		t.Fatal("buffer freed while referenced")
	}
	b.Unref()
	if frees != 1 {
		t.Fatalf("buffer freed %d times, want 1", frees)
	}

	defer func() {
		if recover() == nil {
			t.Error("over-release did not panic")
		}
	}()
	b.Unref()
}

func TestLeaseReleasesOnce(t *testing.T) {
	frees := 0
	b := WrapBuffer(nil, func(*Buffer) { frees++ })

	l := Borrow(b)
	if b.Refs() != 2 {
		t.Fatalf("Borrow() refs = %d, want 2", b.Refs())
	}
	if !l.Release() {
		t.Error("first Release() reported no release")
	}
	if l.Release() {
		t.Error("second Release() reported a release")
	}
	if b.Refs() != 1 || !l.Released() {
		t.Errorf("refs = %d released = %v after Release()", b.Refs(), l.Released())
	}
	if l.transfer() != nil {
		t.Error("transfer() of a released lease returned a buffer")
	}

	b.Unref()
	if frees != 1 {
		t.Errorf("buffer freed %d times, want 1", frees)
	}

	var nilLease *Lease
	if nilLease.Release() || !nilLease.Released() {
		t.Error("nil lease is not treated as released")
	}
}

func TestLeaseTransfer(t *testing.T) {
	b := NewBuffer(4)
	l := adopt(b)
	if got := l.transfer(); got != b {
		t.Fatal("transfer() did not return the leased buffer")
	}
	if l.Release() {
		t.Error("Release() after transfer() dropped a reference")
	}
	if b.Refs() != 1 {
		t.Errorf("refs after transfer = %d, want 1", b.Refs())
	}
}

func TestDescriptorHoldReleasesPrevious(t *testing.T) {
	d := &Descriptor{header: &il.BufferHeader{}}
	a, b := NewBuffer(4), NewBuffer(4)

	d.hold(Borrow(a))
	d.hold(Borrow(b))
	if a.Refs() != 1 {
		t.Errorf("previous buffer refs = %d, want 1", a.Refs())
	}
	if b.Refs() != 2 {
		t.Errorf("held buffer refs = %d, want 2", b.Refs())
	}
	d.drop()
	d.drop()
	if b.Refs() != 1 {
		t.Errorf("held buffer refs after drop = %d, want 1", b.Refs())
	}
}

func TestBufferSlice(t *testing.T) {
	frees := 0
	parent := WrapBuffer([]byte("abcdef"), func(*Buffer) { frees++ })
	parent.CodecData = true

	s := parent.Slice(2)
	if string(s.Data) != "cdef" || !s.CodecData || s.Timestamp != NoTimestamp {
		t.Errorf("Slice(2) = %q codec=%v ts=%v", s.Data, s.CodecData, s.Timestamp)
	}
	parent.Unref()
	if frees != 0 {
		t.Fatal("parent freed while a slice was alive")
	}
	s.Unref()
	if frees != 1 {
		t.Errorf("parent freed %d times, want 1", frees)
	}
}

type fakeLibrary struct {
	inits, deinits, closes int
	initErr                error
}

func (f *fakeLibrary) Init() error                                       { f.inits++; return f.initErr }
func (f *fakeLibrary) Deinit() error                                     { f.deinits++; return nil }
func (f *fakeLibrary) Close() error                                      { f.closes++; return nil }
func (f *fakeLibrary) FreeHandle(il.Component) error                     { return nil }
func (f *fakeLibrary) GetHandle(string, il.Callbacks) (il.Component, error) { return nil, il.ErrorNotImplemented }

func TestRegistry(t *testing.T) {
	lib := &fakeLibrary{}
	loads := 0
	reg := NewRegistry(func(name string) (il.Library, error) {
		loads++
		if name != "fake" {
			return nil, ErrUnknownLibrary
		}
		return lib, nil
	})

	a, err := reg.Acquire("fake")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	b, err := reg.Acquire("fake")
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if a != b || loads != 1 || lib.inits != 1 {
		t.Fatalf("second Acquire() reloaded: same=%v loads=%d inits=%d", a == b, loads, lib.inits)
	}

	reg.Release(a)
	if lib.deinits != 0 || reg.Clients("fake") != 1 {
		t.Fatalf("Release() of one client unloaded the library")
	}
	reg.Release(b)
	if lib.deinits != 1 || lib.closes != 1 || reg.Clients("fake") != 0 {
		t.Errorf("last Release(): deinits=%d closes=%d clients=%d", lib.deinits, lib.closes, reg.Clients("fake"))
	}

	if _, err := reg.Acquire("other"); !errors.Is(err, ErrUnknownLibrary) {
		t.Errorf("Acquire(other) error = %v", err)
	}

	lib.initErr = il.ErrorInsufficientResources
	if _, err := reg.Acquire("fake"); !errors.Is(err, il.ErrorInsufficientResources) {
		t.Errorf("Acquire() with failing Init error = %v", err)
	}
	if reg.Clients("fake") != 0 {
		t.Error("failed Acquire() left a client behind")
	}
}
