package stream

import (
	"errors"
	"testing"

	"github.com/mingmingshen/neomind/internal/llm"
)

func call(name string, args map[string]any) llm.ToolCall {
	return llm.NewToolCall(name, args)
}

func TestLoopGuardAllowsFreshCalls(t *testing.T) {
	g := newLoopGuard()
	batch := []llm.ToolCall{
		call("list_devices", nil),
		call("get_device_state", map[string]any{"device_id": "a"}),
	}
	if err := g.Check(batch); err != nil {
		t.Fatalf("fresh batch rejected: %v", err)
	}
	g.Record(batch)

	next := []llm.ToolCall{call("get_device_state", map[string]any{"device_id": "b"})}
	if err := g.Check(next); err != nil {
		t.Fatalf("different args rejected: %v", err)
	}
}

func TestLoopGuardRejectsDuplicate(t *testing.T) {
	g := newLoopGuard()
	first := []llm.ToolCall{call("get_device_state", map[string]any{"device_id": "a"})}
	g.Record(first)

	err := g.Check([]llm.ToolCall{call("get_device_state", map[string]any{"device_id": "a"})})
	if !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("err = %v, want ErrDuplicateCall", err)
	}
}

func TestLoopGuardOscillation(t *testing.T) {
	// Two executed probes plus the candidate make three calls to one
	// tool: the third is rejected even though every target differs.
	g := newLoopGuard()
	for i := 0; i < 2; i++ {
		g.Record([]llm.ToolCall{call("get_device_state", map[string]any{"device_id": string(rune('a' + i))})})
	}
	err := g.Check([]llm.ToolCall{call("get_device_state", map[string]any{"device_id": "c"})})
	if !errors.Is(err, ErrOscillation) {
		t.Fatalf("err = %v, want ErrOscillation", err)
	}
}

func TestLoopGuardWindowEviction(t *testing.T) {
	g := newLoopGuard()
	// Fill the window past its size with distinct tools so the first
	// entry falls out.
	g.Record([]llm.ToolCall{call("tool_old", map[string]any{"k": "v"})})
	for i := 0; i < guardWindow; i++ {
		g.Record([]llm.ToolCall{call("filler", map[string]any{"k": i})})
	}

	// The evicted call is no longer a duplicate. (It would trip on
	// filler oscillation, so check the old tool alone.)
	if len(g.window) != guardWindow {
		t.Fatalf("window len = %d", len(g.window))
	}
	for _, sig := range g.window {
		if sig.name == "tool_old" {
			t.Fatal("oldest entry not evicted")
		}
	}
}

func TestHashArgsIgnoresVolatileKeys(t *testing.T) {
	a := hashArgs(map[string]any{"device_id": "x", "timestamp": 1, "request_id": "r1", "command": "on"})
	b := hashArgs(map[string]any{"device_id": "x", "timestamp": 2, "request_id": "r2", "command": "on"})
	if a != b {
		t.Errorf("volatile keys changed the hash: %s vs %s", a, b)
	}

	c := hashArgs(map[string]any{"device_id": "y", "timestamp": 1, "request_id": "r1", "command": "on"})
	if a == c {
		t.Error("different targets hashed alike")
	}

	d := hashArgs(map[string]any{"device_id": "x", "command": "off"})
	if a == d {
		t.Error("different commands hashed alike")
	}
}

func TestHashArgsOrderIndependent(t *testing.T) {
	a := hashArgs(map[string]any{"x": 1, "y": 2})
	b := hashArgs(map[string]any{"y": 2, "x": 1})
	if a != b {
		t.Errorf("hash depends on map order: %s vs %s", a, b)
	}
}
