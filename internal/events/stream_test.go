package events

import (
	"testing"
)

func TestTerminal(t *testing.T) {
	cases := []struct {
		ev   StreamEvent
		want bool
	}{
		{Content("hi"), false},
		{Thinking("hmm"), false},
		{Warning("slow"), false},
		{Heartbeat(10), false},
		{Progress("executing", 5), false},
		{Error("boom"), true},
		{End(), true},
	}
	for _, c := range cases {
		if got := c.ev.Terminal(); got != c.want {
			t.Errorf("Terminal(%s) = %v, want %v", c.ev.Type, got, c.want)
		}
	}
}

func TestFlattenContent(t *testing.T) {
	evs := []StreamEvent{
		Intent("device_query"),
		Thinking("let me check"),
		Content("The living room "),
		ToolCallStart("c1", "list_devices", nil),
		ToolCallEnd("c1", "list_devices", "3 devices", true),
		Content("has 3 devices."),
		Heartbeat(12),
		End(),
	}
	got := FlattenContent(evs)
	want := "The living room has 3 devices."
	if got != want {
		t.Errorf("FlattenContent = %q, want %q", got, want)
	}
}

func TestFlattenContentError(t *testing.T) {
	evs := []StreamEvent{
		Content("partial"),
		Error("model unavailable"),
	}
	got := FlattenContent(evs)
	want := "partial[error: model unavailable]"
	if got != want {
		t.Errorf("FlattenContent = %q, want %q", got, want)
	}
}
