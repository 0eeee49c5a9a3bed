// Package router selects the model and safeguard preset for each turn
// based on query complexity, and produces the optional intent preamble.
package router

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/stream"
)

// Complexity categorizes query difficulty.
type Complexity int

const (
	ComplexitySimple   Complexity = iota // direct command, single action
	ComplexityModerate                   // state question or two-step request
	ComplexityComplex                    // analysis, comparison, multi-step plan
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityModerate:
		return "moderate"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Config maps the three presets to concrete models.
type Config struct {
	FastModel      string
	BalancedModel  string
	ReasoningModel string
	MaxAuditLog    int
}

// Decision records why a model was selected.
type Decision struct {
	RequestID   string     `json:"request_id"`
	Timestamp   time.Time  `json:"timestamp"`
	QueryLength int        `json:"query_length"`
	Complexity  Complexity `json:"complexity"`
	Score       int        `json:"score"`
	Signals     []string   `json:"signals,omitempty"`
	Intent      string     `json:"detected_intent,omitempty"`
	Model       string     `json:"model_selected"`
	Preset      string     `json:"preset"`
	Reasoning   string     `json:"reasoning"`
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests    int64            `json:"total_requests"`
	ModelCounts      map[string]int64 `json:"model_counts"`
	ComplexityCounts map[string]int64 `json:"complexity_counts"`
}

// Router maps queries to model presets and keeps an audit log of its
// decisions.
type Router struct {
	logger *slog.Logger
	config Config
	client llm.Client // optional, used for the intent preamble

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// New creates a router. client may be nil; the intent preamble then
// uses the keyword fallback only.
func New(logger *slog.Logger, config Config, client llm.Client) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	return &Router{
		logger: logger,
		config: config,
		client: client,
		stats: Stats{
			ModelCounts:      make(map[string]int64),
			ComplexityCounts: make(map[string]int64),
		},
	}
}

// Route selects the model and safeguard preset for a query.
func (r *Router) Route(ctx context.Context, query string) (string, stream.Safeguards, *Decision) {
	score, signals := complexityScore(query)
	complexity := complexityFor(score)

	var model, preset string
	var guards stream.Safeguards
	switch complexity {
	case ComplexitySimple:
		model, preset, guards = r.config.FastModel, "fast", stream.FastSafeguards()
	case ComplexityComplex:
		model, preset, guards = r.config.ReasoningModel, "reasoning", stream.ReasoningSafeguards()
	default:
		model, preset, guards = r.config.BalancedModel, "balanced", stream.DefaultSafeguards()
	}
	if model == "" {
		model, preset, guards = r.config.BalancedModel, "balanced", stream.DefaultSafeguards()
	}

	decision := &Decision{
		RequestID:   generateRequestID(),
		Timestamp:   time.Now(),
		QueryLength: len(query),
		Complexity:  complexity,
		Score:       score,
		Signals:     signals,
		Intent:      detectIntent(query),
		Model:       model,
		Preset:      preset,
		Reasoning:   "score " + strconv.Itoa(score) + " -> " + complexity.String() + " -> " + preset,
	}
	r.recordDecision(*decision)

	r.logger.Debug("model routed",
		"request_id", decision.RequestID,
		"model", model,
		"preset", preset,
		"complexity", complexity.String(),
		"score", score,
	)
	return model, guards, decision
}

// Classify produces the intent preamble. It asks the fast model for a
// one-line classification when a client is configured; on any failure
// it falls back to keyword intent detection.
func (r *Router) Classify(ctx context.Context, question string) (string, string) {
	if strings.TrimSpace(question) == "" {
		return "", ""
	}

	if r.client != nil && r.config.FastModel != "" {
		if intent, plan, ok := r.classifyWithModel(ctx, question); ok {
			return intent, plan
		}
	}

	// Keyword fallback: intent label only, no plan.
	intent := detectIntent(question)
	if intent == "general" {
		return "", ""
	}
	return intent, ""
}

func (r *Router) classifyWithModel(ctx context.Context, question string) (string, string, bool) {
	prompt := "Classify this smart-home request in one short line starting with 'intent:', " +
		"optionally followed by a second line starting with 'plan:'. Request: " + question
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := r.client.Chat(callCtx, r.config.FastModel, []llm.Message{llm.User(prompt)}, nil, nil)
	if err != nil || resp == nil {
		return "", "", false
	}

	var intent, plan string
	for _, line := range strings.Split(resp.Content, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		switch {
		case strings.HasPrefix(lower, "intent:"):
			intent = strings.TrimSpace(line[len("intent:"):])
		case strings.HasPrefix(lower, "plan:"):
			plan = strings.TrimSpace(line[len("plan:"):])
		}
	}
	if intent == "" {
		return "", "", false
	}
	return intent, plan, true
}

// multiStepMarkers indicate the user is describing a sequence, which
// needs a model that can plan across tool rounds.
var multiStepMarkers = []string{"then ", "after that", "first ", "next ", "finally ", "once ", "when done"}

// analysisMarkers indicate reasoning beyond command dispatch.
var analysisMarkers = []string{"explain", "why", "analyze", "compare", "history", "pattern", "trend", "recommend", "summarize", "optimize"}

// simpleMarkers are direct single-action commands.
var simpleMarkers = []string{"turn on", "turn off", "set ", "lock", "unlock", "open", "close", "toggle", "dim "}

// complexityScore rates a query: multi-step markers and analysis verbs
// push up, direct commands push down; conjunctions and mentioning
// several devices add weight.
func complexityScore(query string) (int, []string) {
	q := strings.ToLower(query)
	score := 0
	var signals []string

	for _, m := range multiStepMarkers {
		if strings.Contains(q, m) {
			score += 2
			signals = append(signals, "multi-step:"+strings.TrimSpace(m))
		}
	}
	for _, m := range analysisMarkers {
		if strings.Contains(q, m) {
			score += 3
			signals = append(signals, "analysis:"+m)
		}
	}

	if n := strings.Count(q, " and "); n > 0 {
		score += n
		signals = append(signals, "conjunctions:"+strconv.Itoa(n))
	}
	if n := countDeviceMentions(q); n >= 2 {
		score += 2
		signals = append(signals, "devices:"+strconv.Itoa(n))
	}
	if len(q) > 160 {
		score++
		signals = append(signals, "long-query")
	}

	if score == 0 {
		for _, m := range simpleMarkers {
			if strings.Contains(q, m) {
				signals = append(signals, "direct-command")
				return 0, signals
			}
		}
		// Bare state question.
		score = 2
		signals = append(signals, "state-question")
	}
	return score, signals
}

func complexityFor(score int) Complexity {
	switch {
	case score <= 1:
		return ComplexitySimple
	case score <= 4:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

var deviceWords = []string{"light", "lamp", "thermostat", "sensor", "plug", "switch", "lock", "camera", "speaker", "fan", "heater", "blind", "curtain"}

func countDeviceMentions(q string) int {
	n := 0
	for _, w := range deviceWords {
		n += strings.Count(q, w)
	}
	return n
}

// detectIntent identifies the likely action type for the preamble and
// the audit log.
func detectIntent(query string) string {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "turn on") || strings.Contains(q, "turn off") || strings.Contains(q, "toggle"):
		return "device_control"
	case strings.Contains(q, "rule") || strings.Contains(q, "workflow") || strings.Contains(q, "scenario") || strings.Contains(q, "schedule"):
		return "automation"
	case strings.Contains(q, "temperature") || strings.Contains(q, "thermostat") || strings.Contains(q, "humidity"):
		return "climate"
	case strings.Contains(q, "lock") || strings.Contains(q, "camera") || strings.Contains(q, "alarm"):
		return "security"
	case strings.Contains(q, "history") || strings.Contains(q, "metric") || strings.Contains(q, "usage") || strings.Contains(q, "data"):
		return "telemetry"
	default:
		return "general"
	}
}

func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.config.MaxAuditLog {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.ModelCounts[d.Model]++
	r.stats.ComplexityCounts[d.Complexity.String()]++
}

// AuditLog returns the most recent routing decisions.
func (r *Router) AuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}
	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// Explain returns the decision for a request id, if still in the log.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

func generateRequestID() string {
	return time.Now().Format("20060102-150405.000")
}
