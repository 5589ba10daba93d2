// SPDX-License-Identifier: MIT
/*
Package pipeline drives one IL component as a filter: buffers read from a
Source are pushed to its input port and whatever the component produces on
its output port is written to a Sink.

The filter owns the component's lifecycle and reacts to port settings
changes by reallocating the output pool while data keeps flowing.
*/
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"omx/internal/config"
	applog "omx/internal/log"
	"omx/internal/omx"
)

// pausedRetry is how long Pull waits before looking at a paused but still
// enabled output port again.
const pausedRetry = 5 * time.Millisecond

// Filter is a component with one input and one output port.
type Filter struct {
	core *omx.Core
	in   *omx.Port
	out  *omx.Port
	log  *applog.Logger

	mu     sync.Mutex
	codec  []byte
	reconf chan struct{} // non-nil while the output port is being reconfigured
	wg     sync.WaitGroup
}

// NewFilter loads the configured component and sets its ports up. The
// component is left in Loaded.
func NewFilter(reg *omx.Registry, cfg *config.Config) (*Filter, error) {
	core := omx.New(reg, omx.Options{
		Library:      cfg.Component.Library,
		Component:    cfg.Component.Name,
		Role:         cfg.Component.Role,
		StateTimeout: cfg.Component.StateTimeout,
	})
	core.SetUseTimestamps(cfg.Component.UseTimestamps)
	if err := core.Init(); err != nil {
		return nil, err
	}

	f := &Filter{
		core: core,
		in:   core.Port(cfg.InputPort.Index),
		out:  core.Port(cfg.OutputPort.Index),
		log:  applog.New("filter").With(core.Name()),
	}
	if err := configurePort(f.in, cfg.InputPort); err != nil {
		core.Close()
		return nil, fmt.Errorf("input port: %w", err)
	}
	if err := configurePort(f.out, cfg.OutputPort); err != nil {
		core.Close()
		return nil, fmt.Errorf("output port: %w", err)
	}
	core.SetSettingsChangedFunc(f.settingsChanged)
	return f, nil
}

// configurePort applies the configured buffer requirements, if any, and
// sets p up from what the component then reports.
func configurePort(p *omx.Port, pc config.PortConfig) error {
	def, err := p.Definition()
	if err != nil {
		return err
	}
	if pc.BufferCount > 0 || pc.BufferSize > 0 {
		if pc.BufferCount > 0 {
			def.BufferCountActual = pc.BufferCount
		}
		if pc.BufferSize > 0 {
			def.BufferSize = pc.BufferSize
		}
		if err := p.SetDefinition(def); err != nil {
			return err
		}
		if def, err = p.Definition(); err != nil {
			return err
		}
	}
	if err := p.SetupFromDefinition(def); err != nil {
		return err
	}

	alloc, err := omx.ParseAllocation(pc.Allocation)
	if err != nil {
		return err
	}
	if err := p.SetAllocation(alloc); err != nil {
		return err
	}
	sharing, err := omx.ParseSharing(pc.Sharing)
	if err != nil {
		return err
	}
	return p.SetSharing(sharing, pc.Reserved)
}

// Core returns the component core.
func (f *Filter) Core() *omx.Core { return f.core }

// Input returns the input port.
func (f *Filter) Input() *omx.Port { return f.in }

// Output returns the output port.
func (f *Filter) Output() *omx.Port { return f.out }

// SetObserver forwards component events to o.
func (f *Filter) SetObserver(o omx.Observer) {
	f.core.SetObserver(o)
}

// SetCodecData queues out-of-band configuration that goes to the
// component ahead of the next pushed buffer.
func (f *Filter) SetCodecData(data []byte) {
	f.mu.Lock()
	f.codec = append([]byte(nil), data...)
	f.mu.Unlock()
}

// Start allocates buffers and moves the component to Executing.
func (f *Filter) Start() error {
	if err := f.core.Prepare(); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	if err := f.core.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	f.log.Infof("started")
	return nil
}

// Push sends all of b, spreading it over as many input buffers as needed.
// The caller keeps its reference to b.
func (f *Filter) Push(b *omx.Buffer) error {
	f.mu.Lock()
	codec := f.codec
	f.codec = nil
	f.mu.Unlock()

	if codec != nil {
		cb := omx.WrapBuffer(codec, nil)
		cb.CodecData = true
		err := f.sendAll(cb)
		cb.Unref()
		if err != nil {
			return fmt.Errorf("codec data: %w", err)
		}
	}
	return f.sendAll(b)
}

func (f *Filter) sendAll(b *omx.Buffer) error {
	n, err := f.in.Send(b)
	if err != nil {
		return err
	}
	for n < len(b.Data) {
		rest := b.Slice(n)
		m, err := f.in.Send(rest)
		rest.Unref()
		if err != nil {
			return err
		}
		n += m
	}
	return nil
}

// EndOfStream tells the component no more input follows.
func (f *Filter) EndOfStream() error {
	return f.in.SendEOS()
}

// Pull returns the next output buffer, riding through output
// reconfiguration. It returns io.EOF after end of stream.
func (f *Filter) Pull(ctx context.Context) (*omx.Buffer, error) {
	for {
		b, err := f.out.Recv()
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, omx.ErrPortDisabled) {
			return nil, err
		}

		f.mu.Lock()
		reconf := f.reconf
		f.mu.Unlock()
		if reconf == nil {
			if !f.out.Enabled() {
				return nil, err
			}
			// Paused by a flush, or not yet resumed by Enable.
			timer := time.NewTimer(pausedRetry)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			continue
		}
		select {
		case <-reconf:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// settingsChanged runs on the component's callback goroutine, so the
// reconfiguration itself happens elsewhere.
func (f *Filter) settingsChanged(_ *omx.Core, port uint32) {
	if port != f.out.Index() {
		f.log.Warnf("ignoring settings change on port %d", port)
		return
	}

	f.mu.Lock()
	if f.reconf != nil {
		f.mu.Unlock()
		return
	}
	done := make(chan struct{})
	f.reconf = done
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.reconfigure(); err != nil {
			f.log.Errorf("reconfigure output: %v", err)
		}
		f.mu.Lock()
		f.reconf = nil
		f.mu.Unlock()
		close(done)
	}()
}

func (f *Filter) reconfigure() error {
	if err := f.out.Disable(); err != nil {
		return err
	}
	def, err := f.out.Definition()
	if err != nil {
		return err
	}
	if err := f.out.SetupFromDefinition(def); err != nil {
		return err
	}
	f.log.Infof("output now %d x %d bytes", def.BufferCountActual, def.BufferSize)
	return f.out.Enable()
}

// Abort unblocks every Push and Pull in progress.
func (f *Filter) Abort() {
	f.in.Finish()
	f.out.Finish()
}

// Close stops the component, frees its buffers and unloads it.
func (f *Filter) Close() error {
	f.wg.Wait()
	var errs []error
	if err := f.core.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := f.core.Unload(); err != nil {
		errs = append(errs, err)
	}
	if err := f.core.Close(); err != nil {
		errs = append(errs, err)
	}
	f.log.Infof("closed")
	return errors.Join(errs...)
}
