// Package llm provides LLM client implementations.
package llm

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Thinking   string     `json:"thinking,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	// ToolName records which tool produced a tool-role message. Not
	// part of the wire format for all providers but needed by the
	// synthesis stage to correlate results.
	ToolName string `json:"tool_name,omitempty"`
}

// User builds a user-role message.
func User(content string) Message {
	return Message{Role: "user", Content: content}
}

// System builds a system-role message.
func System(content string) Message {
	return Message{Role: "system", Content: content}
}

// Assistant builds an assistant-role message.
func Assistant(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// AssistantWithTools builds an assistant message carrying tool calls.
func AssistantWithTools(content string, calls []ToolCall) Message {
	return Message{Role: "assistant", Content: content, ToolCalls: calls}
}

// ToolResult builds a tool-role message carrying one tool's output.
func ToolResult(callID, toolName, result string) Message {
	return Message{Role: "tool", Content: result, ToolCallID: callID, ToolName: toolName}
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

// NewToolCall builds a ToolCall with a fresh ID. Detected text-format
// calls have no provider-assigned ID, so we mint one for correlation.
func NewToolCall(name string, args map[string]any) ToolCall {
	var tc ToolCall
	tc.ID = uuid.NewString()
	tc.Function.Name = name
	tc.Function.Arguments = args
	return tc
}

// ChatResponse is the unified response from any LLM provider. All
// fields use proper Go types — wire format conversion happens at the
// provider boundary.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Content   string
	Thinking  string
	ToolCalls []ToolCall
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// Timing (populated when available)
	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}

// Chunk is one increment of a streaming response. Content and Thinking
// are delivered on separate fields when the provider separates them;
// models that interleave reasoning inline send everything as Content
// and the stream classifier splits it downstream.
type Chunk struct {
	Content  string
	Thinking string
}

// StreamCallback receives streaming chunks as they arrive.
type StreamCallback func(Chunk)

// Options are per-request model parameters.
type Options struct {
	Temperature float64
	NumPredict  int
	// Think controls reasoning output for models that support it.
	// nil leaves the model default; false suppresses thinking (used
	// by the synthesis pass).
	Think *bool
}
