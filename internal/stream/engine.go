package stream

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/tools"
)

// IntentClassifier produces the optional intent preamble before
// generation starts. Empty intent means no preamble events.
type IntentClassifier interface {
	Classify(ctx context.Context, question string) (intent, plan string)
}

// Request describes one turn for the engine.
type Request struct {
	ConversationID string
	Model          string
	Messages       []llm.Message
	// Safeguards with zero fields fall back to defaults.
	Safeguards Safeguards
	// MaxChainDepth bounds chained tool rounds; zero means default.
	MaxChainDepth int
}

// TurnResult is the engine's accounting of a completed turn.
type TurnResult struct {
	Answer     string
	Thinking   string
	ToolRounds int
	// History is the request history extended with this turn's
	// assistant and tool messages, ready to persist.
	History  []llm.Message
	Duration time.Duration
}

// EngineConfig wires an engine's collaborators. Cache, Recorder,
// Preamble, Logger and Bus may be nil.
type EngineConfig struct {
	Client   llm.Client
	Registry *tools.Registry
	Cache    *ResultCache
	Recorder Recorder
	Preamble IntentClassifier
	Logger   *slog.Logger
	Bus      *events.Bus
}

// Engine orchestrates a streaming turn: classify model output, detect
// mid-stream tool calls, execute them with safeguards, chain follow-up
// rounds, and synthesize a final answer from the results.
type Engine struct {
	client   llm.Client
	registry *tools.Registry
	executor *Executor
	synth    *Synthesizer
	preamble IntentClassifier
	logger   *slog.Logger
	bus      *events.Bus
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:   cfg.Client,
		registry: cfg.Registry,
		executor: NewExecutor(cfg.Registry, cfg.Cache, cfg.Recorder, logger, cfg.Bus),
		synth:    NewSynthesizer(cfg.Client, logger),
		preamble: cfg.Preamble,
		logger:   logger,
		bus:      cfg.Bus,
	}
}

// terminalSink enforces the stream contract: exactly one terminal
// event per turn, nothing after it.
type terminalSink struct {
	sink events.Sink
	done bool
}

func (t *terminalSink) send(ev events.StreamEvent) {
	if t.done {
		return
	}
	if ev.Terminal() {
		t.done = true
	}
	if t.sink != nil {
		t.sink(ev)
	}
}

// Run executes one turn, emitting stream events to sink from this
// goroutine only. The returned error reports turn failure; a terminal
// event has always been emitted by the time Run returns.
func (e *Engine) Run(ctx context.Context, req Request, sink events.Sink) (*TurnResult, error) {
	start := time.Now()
	out := &terminalSink{sink: sink}
	var sup *supervisor
	send := func(ev events.StreamEvent) {
		out.send(ev)
		if sup != nil && !ev.Terminal() {
			sup.noteActivity()
		}
	}
	sup = newSupervisor(req.Safeguards, send)

	result := &TurnResult{History: append([]llm.Message(nil), req.Messages...)}
	defer func() { result.Duration = time.Since(start) }()

	e.bus.Emit(events.SourceEngine, events.KindTurnStart, map[string]any{
		"conversation_id": req.ConversationID,
		"model":           req.Model,
	})

	question := originalQuestion(result.History)
	if e.preamble != nil {
		if intent, plan := e.preamble.Classify(ctx, question); intent != "" {
			send(events.Intent(intent))
			if plan != "" {
				send(events.Plan(plan))
			}
		}
	}

	chain := NewChainState(req.MaxChainDepth)
	guard := newLoopGuard()
	repetition := newRepetitionDetector()
	iterCap := req.Safeguards.IterationCap()
	toolDefs := e.registry.List()

	var allResults []ExecResult
	var thinkingAll strings.Builder
	finalAnswer := ""

	for {
		if ctx.Err() != nil {
			send(events.End())
			return result, ctx.Err()
		}
		if sup.overBudget() {
			send(events.Warning("stream time limit reached"))
			break
		}

		classifier := NewClassifier(send)
		roundCtx, cancelRound := context.WithCancel(ctx)
		repTripped := false
		budgetTripped := false

		// Chained rounds re-enter generation with tools still offered
		// but thinking off: the plan is made, only follow-up calls and
		// text are wanted.
		var opts *llm.Options
		if chain.Depth > 0 {
			noThink := false
			opts = &llm.Options{Think: &noThink}
		}

		resp, err := e.client.ChatStream(roundCtx, req.Model, result.History, toolDefs, opts, func(chunk llm.Chunk) {
			classifier.Feed(chunk)
			phase := PhaseGenerating
			if chunk.Thinking != "" {
				phase = PhaseThinking
			}
			sup.tick(phase)
			if !repTripped && (repetition.Observe(chunk.Content) || repetition.Observe(chunk.Thinking)) {
				repTripped = true
				cancelRound()
			}
			if !budgetTripped && !repTripped && sup.overBudget() {
				budgetTripped = true
				cancelRound()
			}
		})
		cancelRound()
		cls := classifier.Finish()

		if repTripped {
			thinkingAll.WriteString(cls.Thinking)
			send(events.Warning("repetitive output detected, stopping generation"))
			e.bus.Emit(events.SourceEngine, events.KindSafeguardTrip, map[string]any{
				"conversation_id": req.ConversationID,
				"reason":          "repetition",
			})
			break
		}
		if budgetTripped {
			// Generation stops mid-stream; calls already detected in
			// the partial output still execute below.
			send(events.Warning("stream time limit reached"))
			e.bus.Emit(events.SourceEngine, events.KindSafeguardTrip, map[string]any{
				"conversation_id": req.ConversationID,
				"reason":          "time_limit",
			})
		} else if err != nil {
			if ctx.Err() != nil {
				send(events.End())
				return result, ctx.Err()
			}
			e.logger.Error("model call failed", "model", req.Model, "error", err)
			send(events.Error(err.Error()))
			return result, err
		}

		calls, cleaned, cleanedThinking := e.detectCalls(resp, cls)
		thinkingAll.WriteString(cleanedThinking)

		if len(calls) == 0 {
			// Anything withheld on suspicion of being a tool call
			// turned out to be plain text.
			if cls.ThinkingHeld != "" {
				send(events.Thinking(cls.ThinkingHeld))
			}
			if cls.Held != "" {
				send(events.Content(cls.Held))
			}
			finalAnswer = CleanupThinking(cleaned)
			break
		}

		if result.ToolRounds >= iterCap {
			send(events.Warning("tool iteration limit reached"))
			e.bus.Emit(events.SourceEngine, events.KindSafeguardTrip, map[string]any{
				"conversation_id": req.ConversationID,
				"reason":          "iteration_limit",
			})
			break
		}
		if err := guard.Check(calls); err != nil {
			send(events.Warning(err.Error()))
			e.bus.Emit(events.SourceEngine, events.KindSafeguardTrip, map[string]any{
				"conversation_id": req.ConversationID,
				"reason":          "loop_guard",
				"detail":          err.Error(),
			})
			break
		}

		sup.tick(PhaseExecuting)
		results := e.executor.ExecuteBatch(ctx, req.ConversationID, calls, send)
		guard.Record(calls)
		result.ToolRounds++
		allResults = append(allResults, results...)

		result.History = append(result.History, llm.AssistantWithTools(CleanupThinking(cleaned), calls))
		for _, r := range results {
			result.History = append(result.History, r.Message())
		}

		if budgetTripped || !e.advanceChain(chain, results) {
			break
		}
		e.bus.Emit(events.SourceEngine, events.KindChainAdvance, map[string]any{
			"conversation_id": req.ConversationID,
			"depth":           chain.Depth,
		})
		if chainCtx := chain.FormatContext(); chainCtx != "" {
			result.History = append(result.History, llm.System(chainCtx))
		}
	}

	if finalAnswer == "" && len(allResults) > 0 {
		sup.tick(PhaseGenerating)
		answer, err := e.synth.Synthesize(ctx, req.Model, result.History, allResults, func(chunk llm.Chunk) {
			send(events.Content(chunk.Content))
		})
		if err != nil {
			send(events.Error(err.Error()))
			return result, err
		}
		finalAnswer = answer
		attachAnswer(result.History, answer)
	} else if len(allResults) == 0 {
		result.History = append(result.History, llm.Assistant(finalAnswer))
	}

	result.Answer = finalAnswer
	result.Thinking = CleanupThinking(thinkingAll.String())

	send(events.End())
	e.bus.Emit(events.SourceEngine, events.KindTurnComplete, map[string]any{
		"conversation_id": req.ConversationID,
		"tool_rounds":     result.ToolRounds,
		"duration_ms":     time.Since(start).Milliseconds(),
	})
	return result, nil
}

// detectCalls gathers tool calls from the response: native structured
// calls win; otherwise the detector scans the thinking channel first
// (reasoning models plan calls there), then content. The returned
// strings are the content and thinking with call islands removed.
func (e *Engine) detectCalls(resp *llm.ChatResponse, cls Classified) ([]llm.ToolCall, string, string) {
	thinkCalls, cleanedThinking := ParseToolCalls(cls.Thinking)
	if resp != nil && len(resp.ToolCalls) > 0 {
		return ensureCallIDs(resp.ToolCalls), cls.Content, cleanedThinking
	}
	if len(thinkCalls) > 0 {
		return ensureCallIDs(thinkCalls), cls.Content, cleanedThinking
	}
	calls, cleaned := ParseToolCalls(cls.Content)
	return ensureCallIDs(calls), cleaned, cleanedThinking
}

func ensureCallIDs(calls []llm.ToolCall) []llm.ToolCall {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i] = llm.NewToolCall(calls[i].Function.Name, calls[i].Function.Arguments)
		}
	}
	return calls
}

// advanceChain records the round in the chain state and reports
// whether another generation round should run.
func (e *Engine) advanceChain(chain *ChainState, results []ExecResult) bool {
	continueChain := false
	for _, r := range results {
		name := r.Call.Function.Name
		resultText := r.Result
		if r.Err != nil {
			resultText = "Failed: " + r.Err.Error()
		}
		chain.Advance(ChainResult{
			ActionType: name,
			Target:     callTarget(r.Call),
			Result:     resultText,
			Success:    r.Err == nil,
		})
		if Chainable(name, resultText) {
			continueChain = true
		}
	}
	return continueChain && chain.CanContinue()
}

// callTarget extracts the acted-on entity from the call arguments.
func callTarget(call llm.ToolCall) string {
	for _, key := range []string{"device_id", "rule_id", "workflow_id", "id", "target"} {
		if v, ok := call.Function.Arguments[key].(string); ok && v != "" {
			return v
		}
	}
	return call.Function.Name
}

// attachAnswer puts the synthesized text on the most recent assistant
// message that carried tool calls, so the persisted history reads as
// one coherent assistant turn.
func attachAnswer(history []llm.Message, answer string) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" && len(history[i].ToolCalls) > 0 {
			history[i].Content = answer
			return
		}
	}
}
