package events

import (
	"fmt"
	"strings"
)

// StreamType identifies the variant of a StreamEvent.
type StreamType string

// Stream event types, in rough lifecycle order. A turn emits zero or
// more non-terminal events followed by exactly one of TypeError or
// TypeEnd. Nothing follows a terminal event.
const (
	// TypeIntent carries the classified intent of the user request,
	// emitted before generation starts when classification is enabled.
	TypeIntent StreamType = "intent"
	// TypePlan carries a short natural-language execution plan.
	TypePlan StreamType = "plan"
	// TypeThinking is an incremental fragment of model reasoning.
	TypeThinking StreamType = "thinking"
	// TypeContent is an incremental fragment of the user-visible answer.
	TypeContent StreamType = "content"
	// TypeToolCallStart fires when a tool execution begins.
	TypeToolCallStart StreamType = "tool_call_start"
	// TypeToolCallEnd fires when a tool execution finishes.
	TypeToolCallEnd StreamType = "tool_call_end"
	// TypeProgress is a periodic phase marker during long operations.
	TypeProgress StreamType = "progress"
	// TypeHeartbeat is a liveness signal during quiet stretches.
	TypeHeartbeat StreamType = "heartbeat"
	// TypeWarning reports a non-fatal condition (budget, loop guard,
	// repetition). The turn continues after a warning.
	TypeWarning StreamType = "warning"
	// TypeError terminates the turn with a failure.
	TypeError StreamType = "error"
	// TypeEnd terminates the turn normally.
	TypeEnd StreamType = "end"
)

// StreamEvent is one element of a turn's output sequence. Type is the
// discriminator; the remaining fields are populated per variant. The
// struct is a closed union: consumers can switch on Type exhaustively.
type StreamEvent struct {
	Type StreamType `json:"type"`

	// Text carries the payload for intent, plan, thinking, content,
	// warning and error events.
	Text string `json:"text,omitempty"`

	// CallID and Tool identify a tool execution for the
	// tool_call_start / tool_call_end pair.
	CallID string         `json:"call_id,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	// Result and Success are set on tool_call_end.
	Result  string `json:"result,omitempty"`
	Success bool   `json:"success,omitempty"`

	// Phase labels progress events: "thinking", "executing" or
	// "generating".
	Phase string `json:"phase,omitempty"`

	// ElapsedSeconds is set on progress and heartbeat events.
	ElapsedSeconds float64 `json:"elapsed_seconds,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e StreamEvent) Terminal() bool {
	return e.Type == TypeError || e.Type == TypeEnd
}

// Constructors. Using these keeps field population consistent across
// the engine; tests compare against them directly.

func Intent(text string) StreamEvent   { return StreamEvent{Type: TypeIntent, Text: text} }
func Plan(text string) StreamEvent     { return StreamEvent{Type: TypePlan, Text: text} }
func Thinking(text string) StreamEvent { return StreamEvent{Type: TypeThinking, Text: text} }
func Content(text string) StreamEvent  { return StreamEvent{Type: TypeContent, Text: text} }
func Warning(text string) StreamEvent  { return StreamEvent{Type: TypeWarning, Text: text} }
func Error(text string) StreamEvent    { return StreamEvent{Type: TypeError, Text: text} }
func End() StreamEvent                 { return StreamEvent{Type: TypeEnd} }

// ToolCallStart announces a tool execution. args is retained by the
// event; callers must not mutate it afterwards.
func ToolCallStart(callID, tool string, args map[string]any) StreamEvent {
	return StreamEvent{Type: TypeToolCallStart, CallID: callID, Tool: tool, Args: args}
}

// ToolCallEnd reports the outcome of a tool execution.
func ToolCallEnd(callID, tool, result string, success bool) StreamEvent {
	return StreamEvent{Type: TypeToolCallEnd, CallID: callID, Tool: tool, Result: result, Success: success}
}

// Progress marks ongoing work in the given phase.
func Progress(phase string, elapsed float64) StreamEvent {
	return StreamEvent{Type: TypeProgress, Phase: phase, ElapsedSeconds: elapsed}
}

// Heartbeat signals liveness while no other events are flowing.
func Heartbeat(elapsed float64) StreamEvent {
	return StreamEvent{Type: TypeHeartbeat, ElapsedSeconds: elapsed}
}

// Sink receives a turn's events in order. Implementations must be
// cheap; the engine calls them inline from the turn goroutine.
type Sink func(StreamEvent)

// FlattenContent renders an event sequence as a plain string for
// consumers that predate structured streaming. Content fragments are
// concatenated in order, an error event renders as a bracketed
// message, and every other variant is dropped.
func FlattenContent(evs []StreamEvent) string {
	var b strings.Builder
	for _, e := range evs {
		switch e.Type {
		case TypeContent:
			b.WriteString(e.Text)
		case TypeError:
			b.WriteString(fmt.Sprintf("[error: %s]", e.Text))
		}
	}
	return b.String()
}
