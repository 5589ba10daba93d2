// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"omx/internal/il"
	"omx/internal/omx"
)

const waitLimit = 2 * time.Second

// recordingTransport keeps everything sent to it.
type recordingTransport struct {
	mu     sync.Mutex
	sent   []any
	err    error
	closed bool
}

func (r *recordingTransport) Send(data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return r.err
}

func (r *recordingTransport) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return r.err
}

func TestNewMessage(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		event omx.Event
		want  Message
	}{
		{
			"state",
			omx.Event{Kind: omx.EventState, Component: "c", State: il.StateIdle, Time: now},
			Message{Type: "state", Component: "c", State: "Idle", Time: now},
		},
		{
			"port",
			omx.Event{Kind: omx.EventPortDisabled, Component: "c", Port: 1, Time: now},
			Message{Type: "port-disabled", Component: "c", Port: 1, Time: now},
		},
		{
			"error",
			omx.Event{Kind: omx.EventError, Component: "c", Err: il.ErrorHardware, Time: now},
			Message{Type: "error", Component: "c", Error: il.ErrorHardware.Error(), Time: now},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMessage(tt.event); got != tt.want {
				t.Errorf("NewMessage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMulti(t *testing.T) {
	a := &recordingTransport{}
	b := &recordingTransport{err: errors.New("unreachable")}
	m := Multi{a, b}

	if err := m.Send("x"); err == nil {
		t.Error("Send() should report the failing transport")
	}
	if len(a.sent) != 1 || len(b.sent) != 1 {
		t.Errorf("sent %d and %d, want one each", len(a.sent), len(b.sent))
	}
	if err := m.Close(); err == nil {
		t.Error("Close() should report the failing transport")
	}
	if !a.closed || !b.closed {
		t.Error("Close() should close every transport")
	}
}

func TestLoggingTransport(t *testing.T) {
	lt := NewLoggingTransport(0)
	if err := lt.Send(Message{Type: "state"}); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if err := lt.Send(func() {}); err != nil {
		t.Errorf("Send() of an unmarshalable value error = %v", err)
	}
	if err := lt.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func dialMonitor(t *testing.T, wst *WebSocketTransport) *websocket.Conn {
	t.Helper()
	url := "ws://" + wst.Addr().String() + EventsPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error = %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(waitLimit)
	for wst.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestWebSocketForwardsEvents(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWebSocketTransport() error = %v", err)
	}
	defer wst.Close()
	conn := dialMonitor(t, wst)

	f := NewForwarder(wst)
	f.Observe(omx.Event{Kind: omx.EventState, Component: "OMX.sim.passthrough#1", State: il.StateExecuting})
	f.Observe(omx.Event{Kind: omx.EventEOS, Component: "OMX.sim.passthrough#1", Port: 1})

	conn.SetReadDeadline(time.Now().Add(waitLimit))
	var got []Message
	for len(got) < 2 {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("ReadJSON() error = %v", err)
		}
		got = append(got, m)
	}
	if got[0].Type != "state" || got[0].State != "Executing" {
		t.Errorf("first message = %+v, want the Executing state change", got[0])
	}
	if got[1].Type != "eos" || got[1].Port != 1 {
		t.Errorf("second message = %+v, want end of stream on port 1", got[1])
	}
}

func TestWebSocketDropsClosedClients(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWebSocketTransport() error = %v", err)
	}
	defer wst.Close()

	conn := dialMonitor(t, wst)
	conn.Close()

	deadline := time.Now().Add(waitLimit)
	for wst.Clients() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed client was never dropped")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWebSocketClose(t *testing.T) {
	wst, err := NewWebSocketTransport("127.0.0.1:0")
	if err != nil {
		t.Fatalf("NewWebSocketTransport() error = %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := wst.Send("late"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send() after Close = %v, want ErrClosed", err)
	}
}
