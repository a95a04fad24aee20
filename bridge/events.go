package bridge

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names an acquisition event
type EventKind string

// events emitted by a Registry
const (
	EventOpened   EventKind = "opened"
	EventClosed   EventKind = "closed"
	EventStarted  EventKind = "started"
	EventStopped  EventKind = "stopped"
	EventFinished EventKind = "finished"
	EventAborted  EventKind = "aborted"
	EventFaulted  EventKind = "faulted"
	EventStats    EventKind = "stats"
)

// Event describes a change in a session's acquisition
type Event struct {
	Kind   EventKind `json:"kind"`
	Handle Handle    `json:"handle"`
	Run    uuid.UUID `json:"run"`
	Mode   Mode      `json:"mode"`
	Seq    uint64    `json:"seq"`
	FPS    float64   `json:"fps"`
	Time   time.Time `json:"time"`
	Err    string    `json:"err,omitempty"`
}

// Observer receives events.  Observe may be called with the registry lock
// held, from the SDK's callback thread, and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the Observer interface
type ObserverFunc func(Event)

// Observe calls f(e)
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

func (r *Registry) emit(e Event) {
	if e.Time.IsZero() {
		e.Time = r.now()
	}
	for _, o := range r.observers {
		o.Observe(e)
	}
}
