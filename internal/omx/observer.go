// SPDX-License-Identifier: MIT
package omx

import (
	"time"

	"omx/internal/il"
)

// EventKind is the kind of a Core notification.
type EventKind int

const (
	EventState EventKind = iota
	EventError
	EventEOS
	EventFlushed
	EventPortEnabled
	EventPortDisabled
	EventSettingsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	case EventFlushed:
		return "flushed"
	case EventPortEnabled:
		return "port-enabled"
	case EventPortDisabled:
		return "port-disabled"
	case EventSettingsChanged:
		return "settings-changed"
	default:
		return "unknown"
	}
}

// Event describes something that happened to a Core.
type Event struct {
	Kind      EventKind
	Component string
	Port      uint32
	State     il.State
	Err       error
	Time      time.Time
}

// Observer receives Core events. Observe may be called from the component's
// callback goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
