//go:build (linux || darwin) && (amd64 || arm64)

// SPDX-License-Identifier: MIT

/*
Package native binds an OpenMAX IL core shared object (libomxil-bellagio,
libopenmaxil and friends) through purego, without cgo.

Components hold on to buffer memory between Empty/FillThisBuffer and the
matching callback, so every buffer the client supplies is mirrored in C
memory owned by this package and synchronized around those calls. Callbacks
find their component through an integer handle passed as the application
data pointer; no Go pointer is ever handed to the library.
*/
package native

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"omx/internal/il"
	applog "omx/internal/log"
)

var (
	libcOnce sync.Once
	libcErr  error

	cMalloc func(size uintptr) unsafe.Pointer
	cFree   func(p unsafe.Pointer)
)

func loadLibc() error {
	libcOnce.Do(func() {
		name := "libc.so.6"
		if runtime.GOOS == "darwin" {
			name = "/usr/lib/libSystem.B.dylib"
		}
		h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			libcErr = fmt.Errorf("failed to load libc: %w", err)
			return
		}
		purego.RegisterLibFunc(&cMalloc, h, "malloc")
		purego.RegisterLibFunc(&cFree, h, "free")
	})
	return libcErr
}

// Library is an IL core loaded from a shared object.
type Library struct {
	path   string
	handle uintptr

	omxInit       func() uint32
	omxDeinit     func() uint32
	omxGetHandle  func(out *unsafe.Pointer, name *byte, appData uintptr, callbacks unsafe.Pointer) uint32
	omxFreeHandle func(handle unsafe.Pointer) uint32

	// OMX_CALLBACKTYPE in C memory, shared by every handle of the library.
	callbacks unsafe.Pointer
}

// Open loads the IL core at path.
func Open(path string) (*Library, error) {
	if err := loadLibc(); err != nil {
		return nil, err
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	l := &Library{path: path, handle: h}
	if err := l.register(); err != nil {
		purego.Dlclose(h)
		return nil, err
	}

	initThunks()
	l.callbacks = cMalloc(3 * unsafe.Sizeof(uintptr(0)))
	if l.callbacks == nil {
		purego.Dlclose(h)
		return nil, il.ErrorInsufficientResources
	}
	table := unsafe.Slice((*uintptr)(l.callbacks), 3)
	table[0], table[1], table[2] = eventHandlerThunk, emptyBufferDoneThunk, fillBufferDoneThunk

	applog.Debugf("native: opened %s", path)
	return l, nil
}

func (l *Library) register() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s is not an IL core: %v", l.path, r)
		}
	}()
	purego.RegisterLibFunc(&l.omxInit, l.handle, "OMX_Init")
	purego.RegisterLibFunc(&l.omxDeinit, l.handle, "OMX_Deinit")
	purego.RegisterLibFunc(&l.omxGetHandle, l.handle, "OMX_GetHandle")
	purego.RegisterLibFunc(&l.omxFreeHandle, l.handle, "OMX_FreeHandle")
	return nil
}

func (l *Library) Init() error {
	return check(l.omxInit())
}

func (l *Library) Deinit() error {
	return check(l.omxDeinit())
}

func (l *Library) GetHandle(name string, cb il.Callbacks) (il.Component, error) {
	if cb == nil {
		return nil, il.ErrorBadParameter
	}
	cname, err := cString(name)
	if err != nil {
		return nil, err
	}
	defer cFree(unsafe.Pointer(cname))

	c := newComponent(name, cb)
	var handle unsafe.Pointer
	if err := check(l.omxGetHandle(&handle, cname, c.id, l.callbacks)); err != nil {
		c.forget()
		return nil, fmt.Errorf("OMX_GetHandle(%s): %w", name, err)
	}
	c.bind(handle)
	return c, nil
}

func (l *Library) FreeHandle(comp il.Component) error {
	c, ok := comp.(*component)
	if !ok {
		return il.ErrorBadParameter
	}
	err := check(l.omxFreeHandle(c.handle))
	c.release()
	return err
}

// Close unloads the shared object. Every handle must have been freed.
func (l *Library) Close() error {
	if l.callbacks != nil {
		cFree(l.callbacks)
		l.callbacks = nil
	}
	if l.handle == 0 {
		return nil
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

func cString(s string) (*byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return nil, errors.New("native: name contains NUL")
		}
	}
	p := cMalloc(uintptr(len(s) + 1))
	if p == nil {
		return nil, il.ErrorInsufficientResources
	}
	b := unsafe.Slice((*byte)(p), len(s)+1)
	copy(b, s)
	b[len(s)] = 0
	return (*byte)(p), nil
}

var _ il.Library = (*Library)(nil)

// Load opens the IL core at path for the registry.
func Load(path string) (il.Library, error) {
	return Open(path)
}
