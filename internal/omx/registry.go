// SPDX-License-Identifier: MIT
package omx

import (
	"fmt"
	"io"
	"sync"

	"omx/internal/il"
	applog "omx/internal/log"
)

// Loader resolves a library name to a component implementation.
type Loader func(name string) (il.Library, error)

// Imp is one loaded implementation shared by every Core that named it.
type Imp struct {
	name    string
	lib     il.Library
	clients int
}

// Name returns the library name the implementation was loaded under.
func (i *Imp) Name() string { return i.name }

// Library returns the loaded implementation.
func (i *Imp) Library() il.Library { return i.lib }

// Registry hands out reference-counted implementations. The first Acquire of
// a name loads and initializes the library; the last Release deinitializes
// and, if the library is an io.Closer, unloads it. One Registry is created by
// whoever constructs Cores and passed to each of them.
type Registry struct {
	mu     sync.Mutex
	loader Loader
	imps   map[string]*Imp
}

// NewRegistry returns an empty registry that loads libraries with loader.
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader: loader,
		imps:   make(map[string]*Imp),
	}
}

// Acquire returns the implementation for name, loading it if needed.
func (r *Registry) Acquire(name string) (*Imp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if imp, ok := r.imps[name]; ok {
		imp.clients++
		return imp, nil
	}

	if r.loader == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLibrary, name)
	}
	lib, err := r.loader(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}
	if err := lib.Init(); err != nil {
		if c, ok := lib.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("failed to init %s: %w", name, err)
	}

	applog.Debugf("registry: loaded %s", name)
	imp := &Imp{name: name, lib: lib, clients: 1}
	r.imps[name] = imp
	return imp, nil
}

// Release drops one client of imp.
func (r *Registry) Release(imp *Imp) {
	if imp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	imp.clients--
	if imp.clients > 0 {
		return
	}
	delete(r.imps, imp.name)

	if err := imp.lib.Deinit(); err != nil {
		applog.Warnf("registry: deinit %s: %v", imp.name, err)
	}
	if c, ok := imp.lib.(io.Closer); ok {
		if err := c.Close(); err != nil {
			applog.Warnf("registry: close %s: %v", imp.name, err)
		}
	}
	applog.Debugf("registry: unloaded %s", imp.name)
}

// Clients returns how many Cores currently hold name.
func (r *Registry) Clients(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if imp, ok := r.imps[name]; ok {
		return imp.clients
	}
	return 0
}
