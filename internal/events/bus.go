// Package events carries routing, pipeline, and maintenance notifications
// from the engines to their observers (SSE clients, tests). Publishing never
// blocks: a subscriber that falls behind loses events instead of stalling
// the publisher.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType tags an Event so stream consumers can switch on it.
type EventType string

const (
	EventRouteSuccess      EventType = "route_success"
	EventRouteError        EventType = "route_error"
	EventPipelineStarted   EventType = "pipeline_started"
	EventPipelineCompleted EventType = "pipeline_completed"
	EventPipelineFailed    EventType = "pipeline_failed"
	EventRegistryReloaded  EventType = "registry_reloaded"
	EventMaintenance       EventType = "maintenance"
)

// Event is a single orchestration event published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Set on route_* events.
	Model     string  `json:"model,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Score     float64 `json:"score,omitempty"`
	ErrorMsg  string  `json:"error_msg,omitempty"`

	// Set on pipeline_* events.
	Agent string `json:"agent,omitempty"`
	Mode  string `json:"mode,omitempty"`
	Task  string `json:"task,omitempty"`

	// Set on maintenance events.
	Op      string `json:"op,omitempty"`
	Shard   string `json:"shard,omitempty"`
	Removed int64  `json:"removed,omitempty"`
}

// JSON renders the event for an SSE data field.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber is one registered listener. Read events from C. The channel is
// never closed; consumers stop by selecting on their own cancellation.
type Subscriber struct {
	C  chan Event
	id uint64
}

// Bus fans events out to subscribers. The zero value is not usable; call
// NewBus.
type Bus struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]*Subscriber
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscriber)}
}

// Subscribe registers a listener whose channel holds bufSize events
// (64 when non-positive).
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	s := &Subscriber{C: make(chan Event, bufSize), id: b.next}
	b.subs[s.id] = s
	return s
}

// Unsubscribe detaches s. Events already buffered on s.C stay readable.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
}

// Publish stamps a missing timestamp and offers e to every subscriber,
// dropping it wherever a buffer is full.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.C <- e:
		default:
		}
	}
}

// SubscriberCount reports how many listeners are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
