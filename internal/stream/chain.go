package stream

import (
	"fmt"
	"strings"
)

// DefaultMaxChainDepth bounds follow-up rounds triggered by chainable
// results.
const DefaultMaxChainDepth = 3

// ChainResult summarizes one executed action for the next round's
// context.
type ChainResult struct {
	ActionType string
	Target     string
	Result     string
	Success    bool
}

// ChainState tracks multi-round tool chaining within a turn.
type ChainState struct {
	Depth    int
	MaxDepth int
	Previous []ChainResult
}

// NewChainState creates chain tracking with the given depth limit;
// zero or negative means the default.
func NewChainState(maxDepth int) *ChainState {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	return &ChainState{MaxDepth: maxDepth}
}

// CanContinue reports whether another chained round is allowed.
func (s *ChainState) CanContinue() bool {
	return s.Depth < s.MaxDepth
}

// Advance records a completed round.
func (s *ChainState) Advance(r ChainResult) {
	s.Depth++
	s.Previous = append(s.Previous, r)
}

// FormatContext renders previous results as context for the next
// round's prompt.
func (s *ChainState) FormatContext() string {
	if len(s.Previous) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Previous actions in this request:\n")
	for i, r := range s.Previous {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		b.WriteString(fmt.Sprintf("%d. [%s] %s on %s: %s\n", i+1, status, r.ActionType, r.Target, r.Result))
	}
	return b.String()
}

// trivialResults are acknowledgements that carry no information worth
// feeding into another round.
var trivialResults = map[string]struct{}{
	"Command sent successfully": {},
	"Success":                   {},
}

// Chainable reports whether an executed action should trigger another
// round: extension commands always chain (they exist to fetch data for
// follow-ups), and any other action chains when its result carries
// real content rather than a bare acknowledgement or a failure.
func Chainable(actionType, result string) bool {
	if actionType == "extension_command" {
		return true
	}
	trimmed := strings.TrimSpace(result)
	if trimmed == "" {
		return false
	}
	if _, trivial := trivialResults[trimmed]; trivial {
		return false
	}
	if strings.HasPrefix(trimmed, "Failed:") {
		return false
	}
	return true
}
