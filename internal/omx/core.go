// SPDX-License-Identifier: MIT
/*
Package omx drives one OpenMAX IL component: its lifecycle state machine,
the buffer pools of its ports and the traffic between the adapter and the
component.

Every state change is requested by the adapter and confirmed by the
component through a callback. Callbacks arrive on a goroutine the component
owns; the Core only posts them into queues, semaphores and the state
broadcast, so no adapter code runs while the component holds a lock, with
the exception of the settings-changed hook.
*/
package omx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"omx/internal/il"
	applog "omx/internal/log"
)

// DefaultStateTimeout bounds every wait for a state transition.
const DefaultStateTimeout = 100 * time.Second

// Options name the component a Core drives.
type Options struct {
	Library      string        // registry name of the implementation
	Component    string        // component name, e.g. OMX.sim.passthrough
	Role         string        // optional standard component role
	StateTimeout time.Duration // zero means DefaultStateTimeout
}

// SettingsChangedFunc is called when the component reports new settings on
// a port. It runs on the component's callback goroutine.
type SettingsChangedFunc func(c *Core, port uint32)

// Core is one component instance.
type Core struct {
	registry *Registry
	opts     Options
	name     string
	log      *applog.Logger

	mu      sync.Mutex
	state   il.State
	err     error
	changed chan struct{}
	imp     *Imp
	comp    il.Component
	ports   map[uint32]*Port
	order   []uint32

	useTimestamps   bool
	settingsChanged SettingsChangedFunc
	observer        Observer

	fatal    context.Context
	setFatal context.CancelCauseFunc
	doneSem  *Semaphore
	flushSem *Semaphore
	portSem  *Semaphore
}

// New creates a Core in the Invalid state. Nothing is loaded until Init.
func New(registry *Registry, opts Options) *Core {
	if opts.StateTimeout <= 0 {
		opts.StateTimeout = DefaultStateTimeout
	}
	name := fmt.Sprintf("%s#%s", opts.Component, uuid.NewString()[:8])
	fatal, setFatal := context.WithCancelCause(context.Background())

	return &Core{
		registry:      registry,
		opts:          opts,
		name:          name,
		log:           applog.New(name),
		state:         il.StateInvalid,
		changed:       make(chan struct{}),
		ports:         make(map[uint32]*Port),
		useTimestamps: true,
		fatal:         fatal,
		setFatal:      setFatal,
		doneSem:       NewSemaphore(),
		flushSem:      NewSemaphore(),
		portSem:       NewSemaphore(),
	}
}

// Name returns the instance name used in logs and events.
func (c *Core) Name() string { return c.name }

// Init loads the implementation, obtains a component handle and, if one is
// configured, sets the component role. On success the state is Loaded.
func (c *Core) Init() error {
	c.mu.Lock()
	if c.comp != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	imp, err := c.registry.Acquire(c.opts.Library)
	if err != nil {
		c.log.Errorf("init: %v", err)
		return err
	}
	comp, err := imp.Library().GetHandle(c.opts.Component, callbacks{c})
	if err != nil {
		c.registry.Release(imp)
		c.log.Errorf("init: get handle %s: %v", c.opts.Component, err)
		return fmt.Errorf("get handle %s: %w", c.opts.Component, err)
	}
	if c.opts.Role != "" {
		if err := comp.SetParameter(il.IndexParamStandardComponentRole, il.RoleParam(c.opts.Role)); err != nil {
			imp.Library().FreeHandle(comp)
			c.registry.Release(imp)
			return fmt.Errorf("set role %q: %w", c.opts.Role, err)
		}
	}

	c.mu.Lock()
	c.imp = imp
	c.comp = comp
	c.mu.Unlock()
	c.log.Infof("initialized %s from %s", c.opts.Component, imp.Name())
	c.setState(il.StateLoaded)
	return nil
}

// Deinit releases the handle and the implementation. It does nothing unless
// the component is Loaded or Invalid.
func (c *Core) Deinit() error {
	c.mu.Lock()
	if c.comp == nil {
		c.mu.Unlock()
		return nil
	}
	if c.state != il.StateLoaded && c.state != il.StateInvalid {
		c.log.Warnf("deinit skipped in state %s", c.state)
		c.mu.Unlock()
		return nil
	}
	comp, imp := c.comp, c.imp
	c.comp, c.imp = nil, nil
	c.mu.Unlock()

	err := imp.Library().FreeHandle(comp)
	c.registry.Release(imp)
	c.setState(il.StateInvalid)
	if err != nil {
		return fmt.Errorf("free handle: %w", err)
	}
	return nil
}

// Handle returns the component, initializing the Core on first use.
func (c *Core) Handle() (il.Component, error) {
	if comp := c.component(); comp != nil {
		return comp, nil
	}
	if err := c.Init(); err != nil {
		return nil, err
	}
	return c.component(), nil
}

func (c *Core) component() il.Component {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comp
}

// Prepare moves the component from Loaded to Idle and allocates the buffers
// of every enabled port. The component acknowledges Idle only once its
// enabled ports are populated, so the request goes out first.
func (c *Core) Prepare() error {
	if err := c.changeState(il.StateIdle); err != nil {
		return err
	}
	for _, p := range c.Ports() {
		if !p.Enabled() {
			continue
		}
		if err := p.AllocateBuffers(); err != nil {
			return err
		}
	}
	return c.waitForState(il.StateIdle)
}

// Start moves the component to Executing and primes every port.
func (c *Core) Start() error {
	if err := c.changeState(il.StateExecuting); err != nil {
		return err
	}
	if err := c.waitForState(il.StateExecuting); err != nil {
		return err
	}
	if c.State() != il.StateExecuting {
		return nil
	}
	var errs []error
	for _, p := range c.Ports() {
		errs = append(errs, p.StartBuffers())
	}
	return errors.Join(errs...)
}

// Pause moves the component to Pause.
func (c *Core) Pause() error {
	if err := c.changeState(il.StatePause); err != nil {
		return err
	}
	return c.waitForState(il.StatePause)
}

// Stop moves an Executing or paused component back to Idle.
func (c *Core) Stop() error {
	switch c.State() {
	case il.StateExecuting, il.StatePause:
	default:
		return nil
	}
	if err := c.changeState(il.StateIdle); err != nil {
		return err
	}
	return c.waitForState(il.StateIdle)
}

// Unload frees every port's buffers and, unless the component is Invalid,
// moves it back to Loaded.
func (c *Core) Unload() error {
	state := c.State()
	switch state {
	case il.StateIdle, il.StateWaitForResources, il.StateInvalid:
	default:
		return nil
	}
	if state != il.StateInvalid {
		if err := c.changeState(il.StateLoaded); err != nil {
			return err
		}
	}
	var errs []error
	for _, p := range c.Ports() {
		errs = append(errs, p.FreeBuffers())
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if state == il.StateInvalid {
		return nil
	}
	return c.waitForState(il.StateLoaded)
}

// Port returns the port with the given index, creating it on first use.
func (c *Core) Port(index uint32) *Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.ports[index]; ok {
		return p
	}
	p := newPort(c, index)
	c.ports[index] = p
	c.order = append(c.order, index)
	return p
}

// Ports returns the ports created so far in creation order.
func (c *Core) Ports() []*Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	ports := make([]*Port, 0, len(c.order))
	for _, i := range c.order {
		ports = append(ports, c.ports[i])
	}
	return ports
}

// portFor finds the port a callback refers to by its component index.
func (c *Core) portFor(index uint32) *Port {
	for _, p := range c.Ports() {
		if p.Index() == index {
			return p
		}
	}
	return nil
}

// FlushStart stops delivery on every port.
func (c *Core) FlushStart() {
	for _, p := range c.Ports() {
		p.Pause()
	}
}

// FlushStop flushes every port and then resumes delivery.
func (c *Core) FlushStop() error {
	ports := c.Ports()
	var errs []error
	for _, p := range ports {
		if p.Enabled() {
			errs = append(errs, p.Flush())
		}
	}
	for _, p := range ports {
		p.Resume()
	}
	return errors.Join(errs...)
}

// SetDone signals the done semaphore, as end of stream would.
func (c *Core) SetDone() {
	c.doneSem.Up()
}

// WaitForDone blocks until end of stream has been reached, ctx is done or
// the component has failed.
func (c *Core) WaitForDone(ctx context.Context) error {
	return c.waitSemContext(ctx, c.doneSem)
}

// State returns the last state the component confirmed.
func (c *Core) State() il.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the latched component error, if any.
func (c *Core) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// UseTimestamps reports whether buffer timestamps are passed through.
func (c *Core) UseTimestamps() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useTimestamps
}

// SetUseTimestamps turns timestamp conversion on or off.
func (c *Core) SetUseTimestamps(on bool) {
	c.mu.Lock()
	c.useTimestamps = on
	c.mu.Unlock()
}

// SetSettingsChangedFunc installs the settings-changed hook.
func (c *Core) SetSettingsChangedFunc(fn SettingsChangedFunc) {
	c.mu.Lock()
	c.settingsChanged = fn
	c.mu.Unlock()
}

// SetObserver installs an observer for Core events.
func (c *Core) SetObserver(o Observer) {
	c.mu.Lock()
	c.observer = o
	c.mu.Unlock()
}

// Close finishes every port and deinitializes the component.
func (c *Core) Close() error {
	for _, p := range c.Ports() {
		p.Finish()
	}
	err := c.Deinit()

	c.mu.Lock()
	c.ports = make(map[uint32]*Port)
	c.order = nil
	c.mu.Unlock()
	return err
}

func (c *Core) changeState(s il.State) error {
	comp := c.component()
	if comp == nil {
		return ErrNotInitialized
	}
	c.log.Debugf("changing state %s -> %s", c.State(), s)
	if err := comp.SendCommand(il.CommandStateSet, uint32(s)); err != nil {
		return fmt.Errorf("request state %s: %w", s, err)
	}
	return nil
}

// waitForState waits for the next state the component confirms. A timeout
// or a state other than target is logged and left for the caller to notice
// through State; only a latched error is returned.
func (c *Core) waitForState(target il.State) error {
	c.mu.Lock()
	state, err, changed := c.state, c.err, c.changed
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if state == target {
		return nil
	}
	if state == il.StateInvalid {
		c.log.Errorf("wrong state received: %s, expected %s", state, target)
		return nil
	}

	timer := time.NewTimer(c.opts.StateTimeout)
	defer timer.Stop()

	select {
	case <-changed:
	case <-timer.C:
		c.log.Errorf("timed out waiting for state %s (still %s)", target, c.State())
		return nil
	}

	c.mu.Lock()
	state, err = c.state, c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if state != target {
		c.log.Errorf("wrong state received: %s, expected %s", state, target)
	}
	return nil
}

func (c *Core) setState(s il.State) {
	c.mu.Lock()
	c.state = s
	c.broadcastLocked()
	c.mu.Unlock()
	c.notify(Event{Kind: EventState, State: s})
}

func (c *Core) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// latch records err unless an error is already latched, stops every port
// and wakes every waiter.
func (c *Core) latch(err error) {
	c.mu.Lock()
	first := c.err == nil
	if first {
		c.err = err
	}
	c.broadcastLocked()
	c.mu.Unlock()

	c.setFatal(err)
	for _, p := range c.Ports() {
		p.Pause()
	}
	if first {
		c.notify(Event{Kind: EventError, Err: err})
	}
}

func (c *Core) waitSem(s *Semaphore) error {
	return c.waitSemContext(context.Background(), s)
}

// waitSemContext takes s, giving up when ctx is done or an error is latched.
func (c *Core) waitSemContext(ctx context.Context, s *Semaphore) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(c.fatal, func() { cancel(context.Cause(c.fatal)) })
	defer stop()

	if err := s.DownContext(ctx); err != nil {
		return context.Cause(ctx)
	}
	return nil
}

func (c *Core) notify(e Event) {
	c.mu.Lock()
	o := c.observer
	c.mu.Unlock()
	if o == nil {
		return
	}
	e.Component = c.name
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	o.Observe(e)
}

// callbacks receives the component's notifications.
type callbacks struct {
	c *Core
}

func (cb callbacks) EventHandler(event il.Event, data1, data2 uint32, _ any) {
	c := cb.c
	switch event {
	case il.EventCmdComplete:
		switch il.Command(data1) {
		case il.CommandStateSet:
			c.log.Debugf("state %s confirmed", il.State(data2))
			c.setState(il.State(data2))
		case il.CommandFlush:
			c.log.Debugf("port %d flushed", data2)
			c.flushSem.Up()
			c.notify(Event{Kind: EventFlushed, Port: data2})
		case il.CommandPortEnable, il.CommandPortDisable:
			c.log.Debugf("%s complete on port %d", il.Command(data1), data2)
			c.portSem.Up()
		}
	case il.EventBufferFlag:
		if il.BufferFlags(data2)&il.FlagEOS != 0 {
			c.log.Debugf("end of stream on port %d", data1)
			c.doneSem.Up()
			c.notify(Event{Kind: EventEOS, Port: data1})
		}
	case il.EventPortSettingsChanged:
		c.log.Infof("settings changed on port %d", data1)
		c.notify(Event{Kind: EventSettingsChanged, Port: data1})
		c.mu.Lock()
		fn := c.settingsChanged
		c.mu.Unlock()
		if fn != nil {
			fn(c, data1)
		}
	case il.EventError:
		err := il.ErrorCode(data1)
		c.log.Errorf("component error: %v", err)
		c.latch(err)
	default:
		c.log.Debugf("unhandled event %s (%d, %d)", event, data1, data2)
	}
}

func (cb callbacks) EmptyBufferDone(h *il.BufferHeader) {
	cb.bufferDone(h, h.InputPortIndex)
}

func (cb callbacks) FillBufferDone(h *il.BufferHeader) {
	cb.bufferDone(h, h.OutputPortIndex)
}

func (cb callbacks) bufferDone(h *il.BufferHeader, index uint32) {
	p := cb.c.portFor(index)
	d := descriptorOf(h)
	if p == nil || d == nil {
		cb.c.log.Warnf("buffer returned for unknown port %d", index)
		return
	}
	p.PushBuffer(d)
}
