package tokens

import (
	"testing"

	"github.com/mingmingshen/neomind/internal/llm"
)

func TestEstimateEmpty(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Errorf("Estimate(\"\") = %d, want 0", got)
	}
}

func TestEstimateNonEmptyAtLeastOne(t *testing.T) {
	if got := Estimate("a"); got < 1 {
		t.Errorf("Estimate(\"a\") = %d, want >= 1", got)
	}
}

func TestEstimateEnglishRoughlyQuarterPerChar(t *testing.T) {
	// 40 letters ≈ 10 tokens before buffer, 11 after.
	text := "abcdefghijabcdefghijabcdefghijabcdefghij"
	got := Estimate(text)
	if got < 9 || got > 13 {
		t.Errorf("Estimate(40 letters) = %d, want around 11", got)
	}
}

func TestEstimateCJKCostsMore(t *testing.T) {
	cjk := Estimate("你好世界你好世界")   // 8 CJK chars
	ascii := Estimate("hellohel") // 8 ASCII chars
	if cjk <= ascii {
		t.Errorf("CJK estimate %d should exceed ASCII estimate %d", cjk, ascii)
	}
	// 8 * 1.8 * 1.1 ≈ 15.8 → 16
	if cjk < 14 || cjk > 18 {
		t.Errorf("Estimate(8 CJK) = %d, want around 16", cjk)
	}
}

func TestEstimateForModelFallsBackForLocalModels(t *testing.T) {
	// qwen has no tiktoken encoding; must not return zero.
	if got := EstimateForModel("qwen3:4b", "hello world"); got < 1 {
		t.Errorf("EstimateForModel = %d, want >= 1", got)
	}
}

func TestEstimateForModelExactForOpenAI(t *testing.T) {
	got := EstimateForModel("gpt-4o", "hello world")
	// cl100k/o200k tokenize "hello world" as 2 tokens.
	if got != 2 {
		t.Errorf("EstimateForModel(gpt-4o) = %d, want 2", got)
	}
}

func TestEstimateMessageIncludesToolCalls(t *testing.T) {
	plain := llm.Message{Role: "assistant", Content: "ok"}
	withTool := llm.Message{Role: "assistant", Content: "ok",
		ToolCalls: []llm.ToolCall{llm.NewToolCall("list_devices", map[string]any{"room": "kitchen"})}}

	if EstimateMessage("qwen3:4b", withTool) <= EstimateMessage("qwen3:4b", plain) {
		t.Error("message with tool call should cost more than without")
	}
}

func TestEstimateMessageExcludesThinking(t *testing.T) {
	m1 := llm.Message{Role: "assistant", Content: "ok"}
	m2 := llm.Message{Role: "assistant", Content: "ok", Thinking: "a very long reasoning trace that should not count"}
	if EstimateMessage("qwen3:4b", m1) != EstimateMessage("qwen3:4b", m2) {
		t.Error("thinking text must not affect the estimate")
	}
}
