package sim

import (
	"errors"
	"testing"
	"time"

	"omx/internal/il"
)

type event struct {
	kind   il.Event
	d1, d2 uint32
}

type recorder struct {
	events chan event
	empty  chan *il.BufferHeader
	fill   chan *il.BufferHeader
}

func newRecorder() *recorder {
	return &recorder{
		events: make(chan event, 64),
		empty:  make(chan *il.BufferHeader, 64),
		fill:   make(chan *il.BufferHeader, 64),
	}
}

func (r *recorder) EventHandler(e il.Event, d1, d2 uint32, _ any) {
	r.events <- event{e, d1, d2}
}
func (r *recorder) EmptyBufferDone(h *il.BufferHeader) { r.empty <- h }
func (r *recorder) FillBufferDone(h *il.BufferHeader)  { r.fill <- h }

func next[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func expectState(t *testing.T, r *recorder, s il.State) {
	t.Helper()
	e := next(t, r.events)
	if e.kind != il.EventCmdComplete || il.Command(e.d1) != il.CommandStateSet || il.State(e.d2) != s {
		t.Fatalf("got event %+v, want state %s complete", e, s)
	}
}

func open(t *testing.T) (*Library, *Component, *recorder) {
	t.Helper()
	lib := New()
	if err := lib.Init(); err != nil {
		t.Fatal(err)
	}
	r := newRecorder()
	comp, err := lib.GetHandle(Passthrough, r)
	if err != nil {
		t.Fatalf("GetHandle() error = %v", err)
	}
	t.Cleanup(func() { lib.FreeHandle(comp) })
	return lib, comp.(*Component), r
}

// toExecuting allocates four buffers on each port, inputs twice the output
// size, and moves c to Executing.
func toExecuting(t *testing.T, c *Component, r *recorder) (in, out []*il.BufferHeader) {
	t.Helper()
	if err := c.SendCommand(il.CommandStateSet, uint32(il.StateIdle)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < defaultBufferCount; i++ {
		h, err := c.AllocateBuffer(0, nil, 2*defaultBufferSize)
		if err != nil {
			t.Fatal(err)
		}
		in = append(in, h)
		h, err = c.UseBuffer(1, nil, make([]byte, defaultBufferSize))
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, h)
	}
	expectState(t, r, il.StateIdle)
	if err := c.SendCommand(il.CommandStateSet, uint32(il.StateExecuting)); err != nil {
		t.Fatal(err)
	}
	expectState(t, r, il.StateExecuting)
	return in, out
}

func TestLibraryHandles(t *testing.T) {
	lib := New()
	if _, err := lib.GetHandle(Passthrough, newRecorder()); !errors.Is(err, il.ErrorNotReady) {
		t.Errorf("GetHandle() before Init error = %v", err)
	}
	lib.Init()
	if _, err := lib.GetHandle("OMX.sim.none", newRecorder()); !errors.Is(err, il.ErrorComponentNotFound) {
		t.Errorf("GetHandle(unknown) error = %v", err)
	}
	comp, err := lib.GetHandle(Passthrough, newRecorder())
	if err != nil {
		t.Fatal(err)
	}
	if len(lib.Components()) != 1 {
		t.Fatal("component not tracked")
	}
	if err := lib.FreeHandle(comp); err != nil {
		t.Fatal(err)
	}
	if err := lib.FreeHandle(comp); !errors.Is(err, il.ErrorBadParameter) {
		t.Errorf("second FreeHandle() error = %v", err)
	}
	lib.Deinit()
	if err := lib.Deinit(); !errors.Is(err, il.ErrorNotReady) {
		t.Errorf("unbalanced Deinit() error = %v", err)
	}
}

func TestIdleWaitsForPopulation(t *testing.T) {
	_, c, r := open(t)

	if _, err := c.AllocateBuffer(0, nil, defaultBufferSize); !errors.Is(err, il.ErrorIncorrectStateOperation) {
		t.Fatalf("AllocateBuffer() in Loaded error = %v", err)
	}
	if err := c.SendCommand(il.CommandStateSet, uint32(il.StateIdle)); err != nil {
		t.Fatal(err)
	}
	if err := c.SendCommand(il.CommandStateSet, uint32(il.StateExecuting)); !errors.Is(err, il.ErrorIncorrectStateTransition) {
		t.Errorf("command during a transition error = %v", err)
	}
	if _, err := c.AllocateBuffer(0, nil, 16); !errors.Is(err, il.ErrorBadParameter) {
		t.Errorf("undersized AllocateBuffer() error = %v", err)
	}

	var headers []*il.BufferHeader
	for i := 0; i < defaultBufferCount; i++ {
		h, _ := c.AllocateBuffer(0, nil, defaultBufferSize)
		headers = append(headers, h)
	}
	if s, _ := c.GetState(); s != il.StateLoaded {
		t.Fatalf("state with output unpopulated = %s", s)
	}
	for i := 0; i < defaultBufferCount; i++ {
		c.AllocateBuffer(1, nil, defaultBufferSize)
	}
	expectState(t, r, il.StateIdle)

	if err := c.SendCommand(il.CommandStateSet, uint32(il.StateIdle)); !errors.Is(err, il.ErrorSameState) {
		t.Errorf("same state error = %v", err)
	}
	def, _ := c.GetPortDefinition(0)
	if !def.Populated {
		t.Error("port 0 not reported populated")
	}

	c.SendCommand(il.CommandStateSet, uint32(il.StateLoaded))
	for _, h := range headers {
		c.FreeBuffer(0, h)
	}
	if s, _ := c.GetState(); s != il.StateIdle {
		t.Fatalf("state with output still allocated = %s", s)
	}
}

func TestPassthroughSplitsInput(t *testing.T) {
	_, c, r := open(t)
	in, out := toExecuting(t, c, r)

	for _, h := range out[:2] {
		if err := c.FillThisBuffer(h); err != nil {
			t.Fatal(err)
		}
	}
	h := in[0]
	for i := range h.Buffer {
		h.Buffer[i] = byte(i)
	}
	h.FilledLen = 1500
	h.Timestamp = 1000
	h.Flags = il.FlagEOS
	if err := c.EmptyThisBuffer(h); err != nil {
		t.Fatal(err)
	}
	if err := c.EmptyThisBuffer(h); !errors.Is(err, il.ErrorBadParameter) {
		t.Errorf("second EmptyThisBuffer() of an owned header error = %v", err)
	}

	first := next(t, r.fill)
	second := next(t, r.fill)
	if first.FilledLen != 1024 || first.Timestamp != 1000 || first.Flags&il.FlagEOS != 0 {
		t.Errorf("first output = len %d ts %d flags %v", first.FilledLen, first.Timestamp, first.Flags)
	}
	if second.FilledLen != 1500-1024 || second.Timestamp != -1 || second.Flags&il.FlagEOS == 0 {
		t.Errorf("second output = len %d ts %d flags %v", second.FilledLen, second.Timestamp, second.Flags)
	}
	if second.Buffer[0] != byte(1024%256) {
		t.Errorf("second output starts with %d", second.Buffer[0])
	}
	if got := next(t, r.empty); got != h {
		t.Error("input not returned")
	}
	e := next(t, r.events)
	if e.kind != il.EventBufferFlag || e.d1 != 1 || il.BufferFlags(e.d2)&il.FlagEOS == 0 {
		t.Errorf("got event %+v, want end of stream on port 1", e)
	}
}

func TestFlushReturnsHeld(t *testing.T) {
	_, c, r := open(t)
	_, out := toExecuting(t, c, r)

	c.SetHold(1, true)
	c.FillThisBuffer(out[0])
	c.FillThisBuffer(out[1])
	if c.Held(1) != 2 || c.Owned(1) != 2 {
		t.Fatalf("held %d owned %d", c.Held(1), c.Owned(1))
	}

	if err := c.SendCommand(il.CommandFlush, 1); err != nil {
		t.Fatal(err)
	}
	next(t, r.fill)
	next(t, r.fill)
	e := next(t, r.events)
	if e.kind != il.EventCmdComplete || il.Command(e.d1) != il.CommandFlush || e.d2 != 1 {
		t.Errorf("got event %+v, want flush complete", e)
	}
	if c.Owned(1) != 0 {
		t.Errorf("component still owns %d buffers", c.Owned(1))
	}
}

func TestDisableKeepsHeldBuffers(t *testing.T) {
	_, c, r := open(t)
	_, out := toExecuting(t, c, r)

	c.SetHold(1, true)
	c.FillThisBuffer(out[0])
	c.SendCommand(il.CommandPortDisable, 1)

	for _, h := range out[1:] {
		c.FreeBuffer(1, h)
	}
	select {
	case e := <-r.events:
		t.Fatalf("port disabled with a buffer still held: %+v", e)
	case <-time.After(20 * time.Millisecond):
	}

	c.ReturnHeld(1)
	if h := next(t, r.fill); h != out[0] || h.FilledLen != 0 {
		t.Fatal("held buffer not returned empty")
	}
	c.FreeBuffer(1, out[0])
	e := next(t, r.events)
	if e.kind != il.EventCmdComplete || il.Command(e.d1) != il.CommandPortDisable {
		t.Errorf("got event %+v, want port disable complete", e)
	}
	if len(c.Violations()) != 0 {
		t.Errorf("violations = %v", c.Violations())
	}
}

func TestFreeOwnedBufferIsViolation(t *testing.T) {
	_, c, r := open(t)
	_, out := toExecuting(t, c, r)

	c.SetHold(1, true)
	c.FillThisBuffer(out[0])
	c.SendCommand(il.CommandPortDisable, 1)
	c.FreeBuffer(1, out[0])
	if len(c.Violations()) != 1 {
		t.Errorf("violations = %v, want one", c.Violations())
	}
}

func TestRoleAndSettings(t *testing.T) {
	_, c, r := open(t)

	if err := c.SetParameter(il.IndexParamStandardComponentRole, il.RoleParam("audio_decoder.pcm")); err != nil {
		t.Fatal(err)
	}
	if c.Role() != "audio_decoder.pcm" {
		t.Errorf("Role() = %q", c.Role())
	}

	c.ChangeSettings(il.PortDefinition{Index: 1, BufferSize: 4096, BufferCountActual: 1})
	e := next(t, r.events)
	if e.kind != il.EventPortSettingsChanged || e.d1 != 1 {
		t.Errorf("got event %+v, want settings changed on port 1", e)
	}
	def, _ := c.GetPortDefinition(1)
	if def.BufferSize != 4096 || def.BufferCountActual != defaultBufferMin {
		t.Errorf("definition after change = %+v", def)
	}

	c.Fail(il.ErrorHardware)
	e = next(t, r.events)
	if e.kind != il.EventError || il.ErrorCode(e.d1) != il.ErrorHardware {
		t.Errorf("got event %+v, want hardware error", e)
	}
}
