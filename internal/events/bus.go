// Package events defines the structured stream events a turn emits and
// a publish/subscribe bus for operational observability. Stream events
// flow to the caller through a Sink; bus events flow from components
// (engine, executor, API server, device backend) to subscribers such
// as the WebSocket feed. The bus is nil-safe: calling Publish on a nil
// *Bus is a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published a bus event.
const (
	// SourceEngine identifies events from the streaming engine.
	SourceEngine = "engine"
	// SourceExecutor identifies events from tool execution.
	SourceExecutor = "executor"
	// SourceAPI identifies events from the HTTP API server.
	SourceAPI = "api"
	// SourceDevices identifies events from the MQTT device backend.
	SourceDevices = "devices"
)

// Kind constants describe the type of bus event within a source.
const (
	// KindTurnStart signals the beginning of a turn.
	// Data: request_id, conversation_id, model.
	KindTurnStart = "turn_start"
	// KindLLMCall signals the start of an LLM call.
	// Data: request_id, round, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse signals completion of an LLM call.
	// Data: request_id, round, model, tokens_in, tokens_out.
	KindLLMResponse = "llm_response"
	// KindToolCall signals the start of a tool execution.
	// Data: request_id, tool, cached.
	KindToolCall = "tool_call"
	// KindToolDone signals completion of a tool execution.
	// Data: request_id, tool, ok, duration_ms, attempts.
	KindToolDone = "tool_done"
	// KindSafeguardTrip signals a supervisor intervention.
	// Data: request_id, reason, elapsed_ms.
	KindSafeguardTrip = "safeguard_trip"
	// KindChainAdvance signals a chaining round was accepted.
	// Data: request_id, depth, action_type.
	KindChainAdvance = "chain_advance"
	// KindTurnComplete signals the end of a turn.
	// Data: request_id, rounds, tool_calls, elapsed_ms.
	KindTurnComplete = "turn_complete"

	// KindDeviceCommand signals an MQTT command publish.
	// Data: device_id, command, qos.
	KindDeviceCommand = "device_command"
	// KindDeviceState signals a device shadow update.
	// Data: device_id.
	KindDeviceState = "device_state"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// NewBus creates an event bus ready for use.
func NewBus() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop rather than block the engine.
		}
	}
}

// Emit is shorthand for Publish with the common fields filled in.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// WebSocket consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
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
