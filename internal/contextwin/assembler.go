// Package contextwin assembles the message window sent to the model:
// it clears stale tool output, compresses old history in tiers, and
// selects messages by importance so the window fits the model's
// context budget.
package contextwin

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/tokens"
)

const (
	// budgetRatio is the share of the model context reserved for
	// history; the rest absorbs estimate error and the reply.
	budgetRatio = 0.9

	// keepToolExchanges is how many recent tool-bearing exchanges keep
	// their full results; older tool output collapses to a stub.
	keepToolExchanges = 2

	// compressionThreshold is the history length above which tiered
	// compression kicks in.
	compressionThreshold = 12
	// recentVerbatim is how many trailing messages compression never
	// touches.
	recentVerbatim = 6
	// userExcerptLen caps compressed user messages.
	userExcerptLen = 200

	// importanceBase is every message's starting score; modifiers move
	// it and anything that lands below importanceThreshold is dropped.
	importanceBase      = 0.5
	importanceThreshold = 0.15
	// minRecentKept messages at the tail are always retained whatever
	// their score.
	minRecentKept = 4

	// adaptiveWindow is how many trailing messages feed the budget
	// multiplier.
	adaptiveWindow = 10
	multiplierMin  = 0.9
	multiplierMax  = 1.2
)

// Assembler prepares conversation history for a model call.
type Assembler struct {
	logger *slog.Logger
}

func NewAssembler(logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{logger: logger}
}

// Assemble returns the window to send: history processed through tool
// clearing, tiered compression and importance selection until it fits
// the adaptive token budget for the model's context size.
func (a *Assembler) Assemble(model string, history []llm.Message, contextWindow int) []llm.Message {
	msgs := ClearOldToolResults(history)

	budget := int(float64(contextWindow) * budgetRatio * adaptiveMultiplier(msgs))
	if budget <= 0 {
		return msgs
	}

	if tokens.EstimateMessages(model, msgs) <= budget && len(msgs) <= compressionThreshold {
		return msgs
	}

	if len(msgs) > compressionThreshold {
		msgs = compressTiered(msgs)
	}

	if tokens.EstimateMessages(model, msgs) > budget {
		msgs = selectByImportance(model, msgs, budget)
	}

	a.logger.Debug("assembled context window",
		"messages", len(msgs),
		"budget", budget,
		"estimated", tokens.EstimateMessages(model, msgs),
	)
	return msgs
}

// ClearOldToolResults collapses tool output outside the most recent
// tool-bearing exchanges. Old results are stale by the time the model
// sees them again and mostly waste budget.
func ClearOldToolResults(history []llm.Message) []llm.Message {
	// Find the assistant messages that initiated the most recent tool
	// exchanges; everything from the oldest kept one onward survives.
	cutoff := len(history)
	seen := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" && len(history[i].ToolCalls) > 0 {
			seen++
			cutoff = i
			if seen == keepToolExchanges {
				break
			}
		}
	}

	out := make([]llm.Message, len(history))
	copy(out, history)
	for i := 0; i < cutoff; i++ {
		if out[i].Role == "tool" {
			out[i].Content = fmt.Sprintf("[Previously called tool: %s]", out[i].ToolName)
		}
	}
	return out
}

// compressTiered shrinks older history: the trailing recentVerbatim
// messages stay intact, older user messages are excerpted, older
// assistant messages reduce to their first phrase, and everything that
// compresses away is folded into one summary line at the front.
func compressTiered(history []llm.Message) []llm.Message {
	if len(history) <= compressionThreshold {
		return history
	}

	split := len(history) - recentVerbatim
	var out []llm.Message
	var folded []string

	for i := 0; i < split; i++ {
		m := history[i]
		switch m.Role {
		case "system":
			out = append(out, m)
		case "user":
			if strings.HasPrefix(m.Content, "[Tool:") || strings.HasPrefix(m.Content, "[Previously") {
				folded = append(folded, "tool output")
				continue
			}
			m.Content = excerpt(m.Content, userExcerptLen)
			out = append(out, m)
		case "assistant":
			if len(m.ToolCalls) > 0 {
				folded = append(folded, "called "+m.ToolCalls[0].Function.Name)
				continue
			}
			phrase := firstPhrase(m.Content)
			if phrase == "" {
				continue
			}
			m.Content = phrase
			m.Thinking = ""
			out = append(out, m)
		case "tool":
			folded = append(folded, m.ToolName+" result")
		}
	}

	if len(folded) > 0 {
		summary := llm.System("Earlier in this conversation: " + strings.Join(dedupe(folded), ", ") + ".")
		out = append([]llm.Message{summary}, out...)
	}
	return append(out, history[split:]...)
}

// firstPhrase extracts the first sentence-like fragment of text.
func firstPhrase(text string) string {
	text = strings.TrimSpace(text)
	for _, stop := range []string{". ", "! ", "? ", "\n"} {
		if idx := strings.Index(text, stop); idx >= 0 {
			return strings.TrimSpace(text[:idx+1])
		}
	}
	return excerpt(text, userExcerptLen)
}

// excerpt shortens s to at most n bytes, cutting on a rune boundary
// so multibyte text never splits mid-character.
func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

func dedupe(items []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// selectByImportance drops low-scoring messages until the window fits
// the budget. The minRecentKept newest messages and any system message
// are always retained.
func selectByImportance(model string, history []llm.Message, budget int) []llm.Message {
	type scored struct {
		idx   int
		score float64
		cost  int
	}

	items := make([]scored, len(history))
	for i, m := range history {
		items[i] = scored{
			idx:   i,
			score: scoreMessage(m, i, len(history)),
			cost:  tokens.EstimateMessage(model, m),
		}
	}

	keep := make([]bool, len(history))
	total := 0
	for i := range history {
		forced := i >= len(history)-minRecentKept || history[i].Role == "system"
		if forced || items[i].score >= importanceThreshold {
			keep[i] = true
			total += items[i].cost
		}
	}

	// Still over budget: shed the lowest-scoring optional messages,
	// oldest first among equals.
	for total > budget {
		worst := -1
		for i := range history {
			if !keep[i] || i >= len(history)-minRecentKept || history[i].Role == "system" {
				continue
			}
			if worst < 0 || items[i].score < items[worst].score {
				worst = i
			}
		}
		if worst < 0 {
			break
		}
		keep[worst] = false
		total -= items[worst].cost
	}

	var out []llm.Message
	for i, m := range history {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}

// scoreMessage rates how much a message matters for the next reply.
func scoreMessage(m llm.Message, idx, total int) float64 {
	score := importanceBase

	// Recency: linear ramp up to +0.25 for the newest message.
	if total > 1 {
		score += 0.25 * float64(idx) / float64(total-1)
	}

	switch m.Role {
	case "system":
		score += 0.3
	case "user":
		score += 0.2
	case "tool":
		score -= 0.1
	}

	lower := strings.ToLower(m.Content)
	if strings.Contains(lower, "error") || strings.Contains(lower, "failed") {
		score += 0.15
	}
	if len(m.ToolCalls) > 0 {
		score += 0.1
	}
	if m.Thinking != "" {
		score += 0.05
	}
	return score
}

// adaptiveMultiplier sizes the budget to the conversation's character:
// entity-dense or error-laden exchanges get more room, small talk gets
// less.
func adaptiveMultiplier(history []llm.Message) float64 {
	recent := history
	if len(recent) > adaptiveWindow {
		recent = recent[len(recent)-adaptiveWindow:]
	}
	if len(recent) == 0 {
		return 1.0
	}

	multiplier := 1.0

	if countEntities(recent) >= 4 {
		multiplier += 0.10
	}
	if countTopics(recent) >= 3 {
		multiplier += 0.10
	}

	hasErrors := false
	hasUser := false
	greetingOnly := true
	contents := make([]string, 0, len(recent))
	for _, m := range recent {
		lower := strings.ToLower(m.Content)
		if strings.Contains(lower, "error") || strings.Contains(lower, "failed") || strings.Contains(lower, "timeout") {
			hasErrors = true
		}
		if m.Role == "user" {
			hasUser = true
			if !isGreeting(lower) {
				greetingOnly = false
			}
		}
		if m.Role == "user" || m.Role == "assistant" {
			contents = append(contents, lower)
		}
	}
	if hasErrors {
		multiplier += 0.15
	}
	if hasUser && greetingOnly {
		multiplier -= 0.10
	}
	if duplicateRatio(contents) > 0.5 {
		multiplier -= 0.05
	}

	if multiplier < multiplierMin {
		multiplier = multiplierMin
	}
	if multiplier > multiplierMax {
		multiplier = multiplierMax
	}
	return multiplier
}

// countEntities counts distinct device-like identifiers (tokens with a
// digit or hyphenated id shape) in the recent window.
func countEntities(msgs []llm.Message) int {
	seen := map[string]struct{}{}
	for _, m := range msgs {
		for _, word := range strings.Fields(m.Content) {
			word = strings.Trim(word, ".,:;!?\"'()")
			if len(word) < 3 {
				continue
			}
			hasDigit := strings.ContainsAny(word, "0123456789")
			if hasDigit || strings.Contains(word, "-") {
				seen[strings.ToLower(word)] = struct{}{}
			}
		}
	}
	return len(seen)
}

// topicKeywords are the domains a smart-home conversation moves
// between; distinct hits approximate topic spread.
var topicKeywords = map[string][]string{
	"lighting":   {"light", "lamp", "brightness", "dim"},
	"climate":    {"temperature", "thermostat", "heating", "cooling", "humidity"},
	"security":   {"lock", "door", "camera", "alarm", "motion"},
	"energy":     {"power", "energy", "consumption", "watt"},
	"automation": {"rule", "scenario", "workflow", "schedule", "trigger"},
	"media":      {"music", "speaker", "volume", "tv"},
}

func countTopics(msgs []llm.Message) int {
	var all strings.Builder
	for _, m := range msgs {
		all.WriteString(strings.ToLower(m.Content))
		all.WriteString(" ")
	}
	text := all.String()
	topics := 0
	for _, words := range topicKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				topics++
				break
			}
		}
	}
	return topics
}

var greetings = []string{"hi", "hello", "hey", "good morning", "good evening", "thanks", "thank you", "ok", "okay"}

func isGreeting(lower string) bool {
	trimmed := strings.Trim(strings.TrimSpace(lower), ".,!?")
	for _, g := range greetings {
		if trimmed == g {
			return true
		}
	}
	return false
}

// duplicateRatio measures how much of the window repeats itself.
func duplicateRatio(contents []string) float64 {
	if len(contents) < 2 {
		return 0
	}
	seen := map[string]int{}
	dups := 0
	for _, c := range contents {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if seen[c] > 0 {
			dups++
		}
		seen[c]++
	}
	return float64(dups) / float64(len(contents))
}
