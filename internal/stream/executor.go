package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/tools"
)

// Retry policy for transient tool failures. Three attempts total with
// exponential backoff between them; each attempt gets its own timeout
// so one hung call cannot eat the whole turn budget.
const (
	maxToolRetries     = 2
	retryBaseBackoff   = 100 * time.Millisecond
	toolAttemptTimeout = 30 * time.Second
)

// Recorder persists tool-call executions for auditing. Implemented by
// the memory store; nil disables recording.
type Recorder interface {
	RecordToolCall(conversationID, callID, toolName, arguments string) error
	CompleteToolCall(callID, result, errMsg string) error
}

// ExecResult is the outcome of one tool call in a batch.
type ExecResult struct {
	Call     llm.ToolCall
	Result   string
	Err      error
	Cached   bool
	Attempts int
	Duration time.Duration
}

// Message renders the result as a tool-role message for the next
// round's context.
func (r ExecResult) Message() llm.Message {
	content := r.Result
	if r.Err != nil {
		content = "Failed: " + r.Err.Error()
	}
	return llm.ToolResult(r.Call.ID, r.Call.Function.Name, content)
}

// Executor runs tool batches: fan-out one goroutine per call, fan-in
// preserving input order, with caching and retry. Events are emitted
// only from the calling goroutine, never from workers.
type Executor struct {
	registry *tools.Registry
	cache    *ResultCache
	recorder Recorder
	logger   *slog.Logger
	bus      *events.Bus
}

// NewExecutor creates an executor. cache, recorder and bus may be nil.
func NewExecutor(registry *tools.Registry, cache *ResultCache, recorder Recorder, logger *slog.Logger, bus *events.Bus) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		cache:    cache,
		recorder: recorder,
		logger:   logger,
		bus:      bus,
	}
}

// ExecuteBatch runs all calls in parallel and returns results in input
// order. Start events for every call are emitted before any execution
// begins; end events follow in input order once all calls finish.
func (e *Executor) ExecuteBatch(ctx context.Context, conversationID string, calls []llm.ToolCall, sink events.Sink) []ExecResult {
	if len(calls) == 0 {
		return nil
	}

	for _, call := range calls {
		sink(events.ToolCallStart(call.ID, call.Function.Name, call.Function.Arguments))
		e.bus.Emit(events.SourceExecutor, events.KindToolCall, map[string]any{
			"conversation_id": conversationID,
			"tool":            call.Function.Name,
		})
	}

	results := make([]ExecResult, len(calls))
	done := make(chan int, len(calls))
	for i, call := range calls {
		go func(i int, call llm.ToolCall) {
			results[i] = e.executeOne(ctx, conversationID, call)
			done <- i
		}(i, call)
	}
	for range calls {
		<-done
	}

	for _, r := range results {
		ok := r.Err == nil
		text := r.Result
		if !ok {
			text = r.Err.Error()
		}
		sink(events.ToolCallEnd(r.Call.ID, r.Call.Function.Name, text, ok))
		e.bus.Emit(events.SourceExecutor, events.KindToolDone, map[string]any{
			"conversation_id": conversationID,
			"tool":            r.Call.Function.Name,
			"ok":              ok,
			"cached":          r.Cached,
			"attempts":        r.Attempts,
			"duration_ms":     r.Duration.Milliseconds(),
		})
	}
	return results
}

// executeOne runs a single call through cache, retry and recording.
func (e *Executor) executeOne(ctx context.Context, conversationID string, call llm.ToolCall) ExecResult {
	name := call.Function.Name
	args := call.Function.Arguments
	start := time.Now()

	if e.cache != nil {
		if cached, ok := e.cache.Get(name, args); ok {
			e.logger.Debug("tool result served from cache", "tool", name)
			return ExecResult{Call: call, Result: cached, Cached: true, Duration: time.Since(start)}
		}
	}

	argsJSON := "{}"
	if len(args) > 0 {
		if b, err := json.Marshal(args); err == nil {
			argsJSON = string(b)
		}
	}
	if e.recorder != nil {
		if err := e.recorder.RecordToolCall(conversationID, call.ID, name, argsJSON); err != nil {
			e.logger.Warn("failed to record tool call", "tool", name, "error", err)
		}
	}

	result, attempts, err := e.executeWithRetry(ctx, name, args)
	duration := time.Since(start)

	if e.recorder != nil {
		errMsg := ""
		if err != nil {
			errMsg = err.Error()
		}
		if recErr := e.recorder.CompleteToolCall(call.ID, result, errMsg); recErr != nil {
			e.logger.Warn("failed to complete tool call record", "tool", name, "error", recErr)
		}
	}

	if err != nil {
		e.logger.Warn("tool execution failed",
			"tool", name,
			"attempts", attempts,
			"error", err,
		)
		return ExecResult{Call: call, Err: err, Attempts: attempts, Duration: duration}
	}

	if e.cache != nil {
		e.cache.Put(name, args, result)
	}
	e.logger.Debug("tool executed",
		"tool", name,
		"attempts", attempts,
		"duration_ms", duration.Milliseconds(),
	)
	return ExecResult{Call: call, Result: result, Attempts: attempts, Duration: duration}
}

// executeWithRetry retries transient failures with exponential
// backoff: 100ms, then 200ms. Permanent failures return immediately.
func (e *Executor) executeWithRetry(ctx context.Context, name string, args map[string]any) (string, int, error) {
	var lastErr error
	for attempt := 0; attempt <= maxToolRetries; attempt++ {
		if attempt > 0 {
			backoff := retryBaseBackoff << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", attempt, ctx.Err()
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, toolAttemptTimeout)
		result, err := e.registry.ExecuteArgs(attemptCtx, name, args)
		cancel()

		if err == nil {
			return result, attempt + 1, nil
		}
		lastErr = err
		if !isTransient(err) {
			return "", attempt + 1, err
		}
	}
	return "", maxToolRetries + 1, lastErr
}

// isTransient classifies errors worth retrying by message substring.
// Tool handlers wrap arbitrary transports, so string matching is the
// only classification that works across all of them.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "deadline", "network", "connection", "unavailable"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
