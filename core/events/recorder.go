package events

import (
	"sync"

	"workchain/core/types"
)

// Carrier is implemented by emitted events that wrap a canonical payload.
type Carrier interface {
	Event() *types.Event
}

// Recorder retains the most recent canonical event payloads in memory so the
// gateway can serve a bounded event feed without an external indexer.
type Recorder struct {
	mu     sync.RWMutex
	max    int
	events []*types.Event
}

// NewRecorder creates a recorder retaining at most max events. A non-positive
// max falls back to a default window of 512 entries.
func NewRecorder(max int) *Recorder {
	if max <= 0 {
		max = 512
	}
	return &Recorder{max: max}
}

// Emit implements the Emitter interface. Events that do not carry a canonical
// payload are recorded by type only.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	payload := &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
	if carrier, ok := evt.(Carrier); ok {
		if inner := carrier.Event(); inner != nil {
			payload = inner
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, payload)
	if len(r.events) > r.max {
		r.events = r.events[len(r.events)-r.max:]
	}
}

// List returns up to limit of the most recent events, newest last. A
// non-positive limit returns the full retained window.
func (r *Recorder) List(limit int) []*types.Event {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	events := r.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]*types.Event, len(events))
	copy(out, events)
	return out
}
