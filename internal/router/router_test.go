package router

import (
	"context"
	"errors"
	"testing"

	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/stream"
)

func testConfig() Config {
	return Config{
		FastModel:      "llama3.2:3b",
		BalancedModel:  "qwen3:8b",
		ReasoningModel: "qwen3:32b",
	}
}

func TestRouteSimpleCommand(t *testing.T) {
	r := New(nil, testConfig(), nil)
	model, guards, decision := r.Route(context.Background(), "turn off the kitchen light")

	if model != "llama3.2:3b" {
		t.Errorf("model = %q", model)
	}
	if decision.Complexity != ComplexitySimple {
		t.Errorf("complexity = %v", decision.Complexity)
	}
	if guards.MaxStreamDuration != stream.FastSafeguards().MaxStreamDuration {
		t.Errorf("guards = %+v", guards)
	}
}

func TestRouteStateQuestion(t *testing.T) {
	r := New(nil, testConfig(), nil)
	model, _, decision := r.Route(context.Background(), "is the lamp on?")

	if model != "qwen3:8b" {
		t.Errorf("model = %q", model)
	}
	if decision.Complexity != ComplexityModerate {
		t.Errorf("complexity = %v", decision.Complexity)
	}
}

func TestRouteComplexQuery(t *testing.T) {
	r := New(nil, testConfig(), nil)
	query := "compare the temperature pattern in the bedroom and the living room this week, then recommend a heating schedule"
	model, guards, decision := r.Route(context.Background(), query)

	if model != "qwen3:32b" {
		t.Errorf("model = %q", model)
	}
	if decision.Complexity != ComplexityComplex {
		t.Errorf("complexity = %v (score %d, signals %v)", decision.Complexity, decision.Score, decision.Signals)
	}
	if guards.MaxStreamDuration != stream.ReasoningSafeguards().MaxStreamDuration {
		t.Errorf("guards = %+v", guards)
	}
}

func TestRouteMultiStepBumpsComplexity(t *testing.T) {
	r := New(nil, testConfig(), nil)
	_, _, simple := r.Route(context.Background(), "turn off the light")
	_, _, multi := r.Route(context.Background(), "turn off the light and the lamp, then lock the door")

	if multi.Complexity <= simple.Complexity {
		t.Errorf("multi-step not scored higher: %v vs %v", multi.Complexity, simple.Complexity)
	}
}

func TestRouteEmptyFastModelFallsBack(t *testing.T) {
	cfg := testConfig()
	cfg.FastModel = ""
	r := New(nil, cfg, nil)
	model, _, _ := r.Route(context.Background(), "turn off the light")
	if model != "qwen3:8b" {
		t.Errorf("model = %q", model)
	}
}

func TestAuditLogAndStats(t *testing.T) {
	r := New(nil, testConfig(), nil)
	for i := 0; i < 3; i++ {
		r.Route(context.Background(), "turn on the lamp")
	}

	log := r.AuditLog(2)
	if len(log) != 2 {
		t.Fatalf("log len = %d", len(log))
	}
	stats := r.GetStats()
	if stats.TotalRequests != 3 {
		t.Errorf("total = %d", stats.TotalRequests)
	}
	if stats.ModelCounts["llama3.2:3b"] != 3 {
		t.Errorf("counts = %v", stats.ModelCounts)
	}

	if d := r.Explain(log[0].RequestID); d == nil {
		t.Error("Explain returned nil for logged decision")
	}
	if d := r.Explain("missing"); d != nil {
		t.Error("Explain returned a decision for unknown id")
	}
}

func TestDetectIntent(t *testing.T) {
	cases := []struct {
		query string
		want  string
	}{
		{"turn on the fan", "device_control"},
		{"create a rule for sunset", "automation"},
		{"what is the thermostat set to", "climate"},
		{"is the front door camera online", "security"},
		{"show me the energy usage data", "telemetry"},
		{"tell me a joke", "general"},
	}
	for _, tc := range cases {
		if got := detectIntent(tc.query); got != tc.want {
			t.Errorf("detectIntent(%q) = %q, want %q", tc.query, got, tc.want)
		}
	}
}

type stubClient struct {
	content string
	err     error
}

func (c *stubClient) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, opts *llm.Options) (*llm.ChatResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.ChatResponse{Content: c.content}, nil
}

func (c *stubClient) ChatStream(ctx context.Context, model string, messages []llm.Message, tools []map[string]any, opts *llm.Options, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	return c.Chat(ctx, model, messages, tools, opts)
}

func (c *stubClient) Ping(ctx context.Context) error { return nil }

func TestClassifyWithModel(t *testing.T) {
	r := New(nil, testConfig(), &stubClient{content: "intent: checking lamp state\nplan: query the device"})
	intent, plan := r.Classify(context.Background(), "is the lamp on?")
	if intent != "checking lamp state" || plan != "query the device" {
		t.Errorf("intent=%q plan=%q", intent, plan)
	}
}

func TestClassifyFallsBackOnModelError(t *testing.T) {
	r := New(nil, testConfig(), &stubClient{err: errors.New("down")})
	intent, plan := r.Classify(context.Background(), "turn on the lamp")
	if intent != "device_control" || plan != "" {
		t.Errorf("intent=%q plan=%q", intent, plan)
	}
}

func TestClassifyEmptyQuestion(t *testing.T) {
	r := New(nil, testConfig(), nil)
	if intent, plan := r.Classify(context.Background(), "  "); intent != "" || plan != "" {
		t.Errorf("intent=%q plan=%q", intent, plan)
	}
}
