package stream

import (
	"strings"
	"testing"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
)

func collectEvents(t *testing.T) (events.Sink, *[]events.StreamEvent) {
	t.Helper()
	var got []events.StreamEvent
	return func(ev events.StreamEvent) { got = append(got, ev) }, &got
}

func eventText(evs []events.StreamEvent, typ events.StreamType) string {
	var b strings.Builder
	for _, ev := range evs {
		if ev.Type == typ {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

func TestClassifierPlainContent(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: "The lamp "})
	c.Feed(llm.Chunk{Content: "is on."})
	cls := c.Finish()

	if cls.Content != "The lamp is on." {
		t.Errorf("content = %q", cls.Content)
	}
	if cls.Thinking != "" || cls.Held != "" {
		t.Errorf("unexpected thinking %q held %q", cls.Thinking, cls.Held)
	}
	if text := eventText(*got, events.TypeContent); text != "The lamp is on." {
		t.Errorf("emitted = %q", text)
	}
}

func TestClassifierThinkBlock(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: "<think>check state</think>It is on."})
	cls := c.Finish()

	if cls.Thinking != "check state" {
		t.Errorf("thinking = %q", cls.Thinking)
	}
	if cls.Content != "It is on." {
		t.Errorf("content = %q", cls.Content)
	}
	if text := eventText(*got, events.TypeThinking); text != "check state" {
		t.Errorf("thinking events = %q", text)
	}
	if text := eventText(*got, events.TypeContent); text != "It is on." {
		t.Errorf("content events = %q", text)
	}
}

func TestClassifierMarkerSplitAcrossChunks(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	// The marker arrives split over three chunks; no fragment of it
	// may leak into content events.
	c.Feed(llm.Chunk{Content: "before <th"})
	c.Feed(llm.Chunk{Content: "ink>hidden</th"})
	c.Feed(llm.Chunk{Content: "ink> after"})
	cls := c.Finish()

	if cls.Thinking != "hidden" {
		t.Errorf("thinking = %q", cls.Thinking)
	}
	if cls.Content != "before  after" {
		t.Errorf("content = %q", cls.Content)
	}
	if text := eventText(*got, events.TypeContent); strings.Contains(text, "<") {
		t.Errorf("marker fragment leaked: %q", text)
	}
}

func TestClassifierPartialMarkerFlushedAtFinish(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	// Ends with text that could have become a marker but never did.
	c.Feed(llm.Chunk{Content: "value < threshold <too"})
	cls := c.Finish()

	if cls.Content != "value < threshold <too" {
		t.Errorf("content = %q", cls.Content)
	}
	if text := eventText(*got, events.TypeContent); text != cls.Content {
		t.Errorf("emitted = %q", text)
	}
}

func TestClassifierSuppressesToolCallIsland(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: "Checking. <tool_calls><invoke name=\"list_devices\">"})
	c.Feed(llm.Chunk{Content: "</invoke></tool_calls>"})
	cls := c.Finish()

	if text := eventText(*got, events.TypeContent); text != "Checking. " {
		t.Errorf("emitted = %q", text)
	}
	if !strings.Contains(cls.Held, "<tool_calls>") {
		t.Errorf("held missing island: %q", cls.Held)
	}
	calls, _ := ParseToolCalls(cls.Content)
	if len(calls) != 1 || calls[0].Function.Name != "list_devices" {
		t.Fatalf("detection on content failed: %+v", calls)
	}
}

func TestClassifierJSONHoldSuppressed(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: `[{"name": "list_`})
	c.Feed(llm.Chunk{Content: `devices", "arguments": {}}]`})
	cls := c.Finish()

	if text := eventText(*got, events.TypeContent); text != "" {
		t.Errorf("JSON island leaked as content: %q", text)
	}
	calls, _ := ParseToolCalls(cls.Content)
	if len(calls) != 1 {
		t.Fatalf("detection on held JSON failed: %+v", calls)
	}
}

func TestClassifierJSONHoldFlushesPlainArray(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: `[1, 2, 3] is the answer`})
	c.Finish()

	if text := eventText(*got, events.TypeContent); text != "[1, 2, 3] is the answer" {
		t.Errorf("emitted = %q", text)
	}
}

func TestClassifierJSONHoldUnbalancedAtFinish(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Content: `[incomplete`})
	c.Finish()

	if text := eventText(*got, events.TypeContent); text != "[incomplete" {
		t.Errorf("emitted = %q", text)
	}
}

func TestClassifierSuppressesThinkingFieldIsland(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Thinking: "I should check. <tool_calls><invoke name=\"list_devices\">"})
	c.Feed(llm.Chunk{Thinking: "</invoke></tool_calls>"})
	cls := c.Finish()

	if text := eventText(*got, events.TypeThinking); text != "I should check. " {
		t.Errorf("emitted thinking = %q", text)
	}
	if !strings.Contains(cls.ThinkingHeld, "<tool_calls>") {
		t.Errorf("held missing island: %q", cls.ThinkingHeld)
	}
	calls, cleaned := ParseToolCalls(cls.Thinking)
	if len(calls) != 1 || calls[0].Function.Name != "list_devices" {
		t.Fatalf("detection on thinking failed: %+v", calls)
	}
	if strings.Contains(cleaned, "<tool_calls>") {
		t.Errorf("cleaned thinking kept island: %q", cleaned)
	}
}

func TestClassifierThinkingFieldJSONHold(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Thinking: `[{"name": "list_`})
	c.Feed(llm.Chunk{Thinking: `devices", "arguments": {}}]`})
	cls := c.Finish()

	if text := eventText(*got, events.TypeThinking); text != "" {
		t.Errorf("JSON island leaked as thinking: %q", text)
	}
	calls, _ := ParseToolCalls(cls.Thinking)
	if len(calls) != 1 {
		t.Fatalf("detection on held thinking JSON failed: %+v", calls)
	}
}

func TestClassifierThinkingMarkerSplitAcrossChunks(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Thinking: "plan <tool_"})
	c.Feed(llm.Chunk{Thinking: "call>{\"name\": \"list_devices\"}</tool_call>"})
	c.Finish()

	if text := eventText(*got, events.TypeThinking); text != "plan " {
		t.Errorf("emitted thinking = %q", text)
	}
}

func TestClassifierSeparateThinkingField(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	c.Feed(llm.Chunk{Thinking: "planning", Content: "done"})
	cls := c.Finish()

	if cls.Thinking != "planning" || cls.Content != "done" {
		t.Errorf("thinking=%q content=%q", cls.Thinking, cls.Content)
	}
	if text := eventText(*got, events.TypeThinking); text != "planning" {
		t.Errorf("thinking events = %q", text)
	}
}

func TestClassifierMultibyteContent(t *testing.T) {
	sink, got := collectEvents(t)
	c := NewClassifier(sink)

	// Multibyte text must pass through intact even when chunk
	// boundaries land mid-sentence.
	c.Feed(llm.Chunk{Content: "客厅的灯"})
	c.Feed(llm.Chunk{Content: "已打开 ✓"})
	cls := c.Finish()

	if cls.Content != "客厅的灯已打开 ✓" {
		t.Errorf("content = %q", cls.Content)
	}
	if text := eventText(*got, events.TypeContent); text != cls.Content {
		t.Errorf("emitted = %q", text)
	}
}

func TestCleanupThinking(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"<think>x</think>answer", "answer"},
		{"answer", "answer"},
		{"<think>cut off", ""},
		{"stray</think> tail", "stray tail"},
		{"a<think>1</think>b<think>2</think>c", "abc"},
	}
	for _, tc := range cases {
		if got := CleanupThinking(tc.in); got != tc.want {
			t.Errorf("CleanupThinking(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
