// Package events is a small publish/subscribe bus for operational
// events. The agent loop publishes one event per step of a run; the
// usage audit and the /v1/events websocket subscribe. Publishing on a
// nil *Bus is a no-op, so components need no guard checks.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceAgent     = "agent"
	SourceAPI       = "api"
	SourceConnwatch = "connwatch"
)

// Kinds published by the agent. Every agent event carries run_id and
// conversation_id in Data.
const (
	// KindRunStart: mode, input_len.
	KindRunStart = "run_start"
	// KindLLMCall: iter, messages, est_tokens.
	KindLLMCall = "llm_call"
	// KindLLMResponse: iter, ok, duration_ms, chars_in, chars_out, error.
	KindLLMResponse = "llm_response"
	// KindToolCall: iter, tool, args.
	KindToolCall = "tool_call"
	// KindToolDone: iter, tool, ok, duration_ms, error.
	KindToolDone = "tool_done"
	// KindRunComplete: outcome, iterations, elapsed_ms.
	KindRunComplete = "run_complete"
)

// KindSessionReset is published by the API when a conversation is
// cleared. Data: conversation_id.
const KindSessionReset = "session_reset"

// Kinds published by connwatch on reachability transitions. Data:
// service, and error for KindServiceDown.
const (
	KindServiceReady = "service_ready"
	KindServiceDown  = "service_down"
)

// Event is a single operational event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Each subscriber has a buffered
// channel; when it is full the subscriber misses the event and the
// publisher carries on.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
	now  func() time.Time
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[<-chan Event]chan Event),
		now:  time.Now,
	}
}

// Publish delivers e to every subscriber that has room for it.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit publishes an event stamped with the current time.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	if b == nil {
		return
	}
	b.Publish(Event{Timestamp: b.now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel with room for bufSize pending events. Call
// Unsubscribe when done with it.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes the subscription and closes its channel. Unknown
// or already removed channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
