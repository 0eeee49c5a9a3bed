package stream

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/mingmingshen/neomind/internal/llm"
)

// Loop-guard limits. The guard is turn-scoped: a fresh turn starts
// with an empty window.
const (
	// guardWindow is how many executed calls the guard remembers.
	guardWindow = 10
	// oscillationLimit is how many calls to the same tool within the
	// window indicate the model is bouncing between the same probes.
	oscillationLimit = 3
)

// ErrDuplicateCall rejects a batch that repeats an already-executed
// call with identical arguments.
var ErrDuplicateCall = errors.New("duplicate tool call")

// ErrOscillation rejects a batch when one tool keeps being called
// round after round.
var ErrOscillation = errors.New("tool call oscillation")

type callSig struct {
	name string
	hash string
}

// loopGuard detects tool-call loops within a single turn. The model
// sometimes re-issues the exact same call when a result did not match
// its expectation; executing it again cannot produce new information.
type loopGuard struct {
	window []callSig
}

func newLoopGuard() *loopGuard {
	return &loopGuard{}
}

// Check validates a batch against the window. The whole batch is
// rejected on the first offending call, so a partially-duplicate batch
// never half-executes.
func (g *loopGuard) Check(calls []llm.ToolCall) error {
	for _, call := range calls {
		sig := callSig{name: call.Function.Name, hash: hashArgs(call.Function.Arguments)}
		sameName := 0
		for _, prev := range g.window {
			if prev == sig {
				return fmt.Errorf("%w: %s", ErrDuplicateCall, sig.name)
			}
			if prev.name == sig.name {
				sameName++
			}
		}
		// The candidate counts toward the limit: the third distinct call
		// to one tool within the window is already a bounce pattern.
		if sameName+1 >= oscillationLimit {
			return fmt.Errorf("%w: %s called %d times", ErrOscillation, sig.name, sameName+1)
		}
	}
	return nil
}

// Record adds executed calls to the window, evicting the oldest
// entries beyond the window size.
func (g *loopGuard) Record(calls []llm.ToolCall) {
	for _, call := range calls {
		g.window = append(g.window, callSig{
			name: call.Function.Name,
			hash: hashArgs(call.Function.Arguments),
		})
	}
	if len(g.window) > guardWindow {
		g.window = g.window[len(g.window)-guardWindow:]
	}
}

// hashArgs produces a stable hash over the arguments, iterating keys
// in sorted order. Request-scoped keys (timestamps, request ids) are
// excluded: they vary between otherwise-identical calls and would
// defeat duplicate detection. Target ids like device_id stay in: the
// same tool aimed at a different device is a different call.
func hashArgs(args map[string]any) string {
	h := fnv.New64a()
	keys := make([]string, 0, len(args))
	for k := range args {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "time") || lk == "request_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%v;", k, args[k])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
