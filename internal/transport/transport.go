// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"time"

	applog "omx/internal/log"
	"omx/internal/omx"
)

// Transport defines a generic interface for sending events or statistics.
// Implementations must be safe for concurrent use and must not block the
// caller for long: Send may run on a component's callback goroutine.
type Transport interface {
	Send(data any) error
	Close() error
}

// Message is the JSON form of an omx.Event.
type Message struct {
	Type      string    `json:"type"`
	Component string    `json:"component"`
	Port      uint32    `json:"port"`
	State     string    `json:"state,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// NewMessage converts e. Port is only meaningful for port events.
func NewMessage(e omx.Event) Message {
	m := Message{
		Type:      e.Kind.String(),
		Component: e.Component,
		Port:      e.Port,
		Time:      e.Time,
	}
	if e.Kind == omx.EventState {
		m.State = e.State.String()
	}
	if e.Err != nil {
		m.Error = e.Err.Error()
	}
	return m
}

// Forwarder observes a Core and sends every event to a Transport.
type Forwarder struct {
	t Transport
}

func NewForwarder(t Transport) *Forwarder {
	return &Forwarder{t: t}
}

func (f *Forwarder) Observe(e omx.Event) {
	if err := f.t.Send(NewMessage(e)); err != nil {
		applog.Debugf("transport: dropping %s event: %v", e.Kind, err)
	}
}

var _ omx.Observer = (*Forwarder)(nil)

// Multi sends to every transport in turn.
type Multi []Transport

func (m Multi) Send(data any) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
