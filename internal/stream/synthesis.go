package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mingmingshen/neomind/internal/llm"
)

// Synthesis limits. The second model pass answers from tool results;
// if it misbehaves the deterministic formatter takes over, so these
// bounds only need to keep the pass cheap, not correct.
const (
	synthesisTimeout    = 30 * time.Second
	maxResultChars      = 8000
	synthesisHistoryMax = 6
)

// Synthesizer turns raw tool results into a natural-language answer
// via a second model pass, falling back to deterministic formatting
// when the model times out, echoes nothing useful, or invents values
// the tools never returned.
type Synthesizer struct {
	client llm.Client
	logger *slog.Logger
}

func NewSynthesizer(client llm.Client, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{client: client, logger: logger}
}

// Synthesize produces the final answer text for a turn whose tool
// calls have all completed. The callback receives streamed chunks;
// when synthesis falls back, the formatted text is delivered as a
// single chunk instead.
func (s *Synthesizer) Synthesize(ctx context.Context, model string, history []llm.Message, results []ExecResult, callback llm.StreamCallback) (string, error) {
	fallback := FormatToolResults(results)

	question := originalQuestion(history)
	prompt := buildSynthesisPrompt(question, results)

	messages := trimHistory(history, synthesisHistoryMax)
	messages = append(messages, llm.User(prompt))

	synthCtx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	var answer strings.Builder
	var lastChunk string
	noThink := false
	resp, err := s.client.ChatStream(synthCtx, model, messages, nil, &llm.Options{Think: &noThink}, func(chunk llm.Chunk) {
		if chunk.Content == "" || chunk.Content == lastChunk {
			return
		}
		lastChunk = chunk.Content
		answer.WriteString(chunk.Content)
	})
	if err != nil {
		s.logger.Warn("synthesis failed, using formatted results", "error", err)
		callback(llm.Chunk{Content: fallback})
		return fallback, nil
	}

	text := strings.TrimSpace(answer.String())
	if text == "" && resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	text = CleanupThinking(text)

	if text == "" || looksHallucinated(text, results) {
		s.logger.Warn("synthesis output rejected, using formatted results",
			"empty", text == "",
		)
		callback(llm.Chunk{Content: fallback})
		return fallback, nil
	}

	callback(llm.Chunk{Content: text})
	return text, nil
}

// buildSynthesisPrompt embeds the tool results, each capped so one
// oversized result cannot crowd out the rest of the prompt.
func buildSynthesisPrompt(question string, results []ExecResult) string {
	var b strings.Builder
	b.WriteString("The following tools were executed to answer the user's question.\n\n")
	for _, r := range results {
		name := r.Call.Function.Name
		if r.Err != nil {
			fmt.Fprintf(&b, "Tool %s failed: %s\n\n", name, r.Err.Error())
			continue
		}
		result := r.Result
		if len(result) > maxResultChars {
			result = result[:maxResultChars] + "\n[truncated]"
		}
		fmt.Fprintf(&b, "Tool %s returned:\n%s\n\n", name, result)
	}
	fmt.Fprintf(&b, "User's question: %s\n\n", question)
	b.WriteString("Answer the question using ONLY the data above. ")
	b.WriteString("Report values exactly as returned. If the data does not answer the question, say so. ")
	b.WriteString("Do not call any tools.")
	return b.String()
}

// originalQuestion finds the newest user message that is a real user
// utterance rather than an injected tool-result echo.
func originalQuestion(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Role != "user" {
			continue
		}
		if strings.HasPrefix(m.Content, "[Tool:") {
			continue
		}
		return m.Content
	}
	return ""
}

// trimHistory keeps the newest max messages, always preserving a
// leading system message if one exists.
func trimHistory(history []llm.Message, max int) []llm.Message {
	if len(history) <= max {
		return append([]llm.Message(nil), history...)
	}
	var out []llm.Message
	if len(history) > 0 && history[0].Role == "system" {
		out = append(out, history[0])
		max--
	}
	return append(out, history[len(history)-max:]...)
}

// looksHallucinated checks the synthesized answer against the tool
// data: if the results contained concrete values and the answer
// mentions none of them, the model answered from its own weights
// instead of the data.
func looksHallucinated(answer string, results []ExecResult) bool {
	values := significantValues(results)
	if len(values) == 0 {
		return false
	}
	lower := strings.ToLower(answer)
	for _, v := range values {
		if strings.Contains(lower, strings.ToLower(v)) {
			return false
		}
	}
	return true
}

// significantValues extracts checkable strings and numbers from the
// JSON results. Capped so pathological results do not make the check
// quadratic.
func significantValues(results []ExecResult) []string {
	var values []string
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		var decoded any
		if err := json.Unmarshal([]byte(r.Result), &decoded); err != nil {
			continue
		}
		collectValues(decoded, &values)
		if len(values) >= 32 {
			break
		}
	}
	if len(values) > 32 {
		values = values[:32]
	}
	return values
}

func collectValues(v any, out *[]string) {
	if len(*out) >= 32 {
		return
	}
	switch val := v.(type) {
	case string:
		if len(val) >= 3 && len(val) <= 64 {
			*out = append(*out, val)
		}
	case float64:
		s := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", val), "0"), ".")
		if len(s) >= 2 {
			*out = append(*out, s)
		}
	case map[string]any:
		for _, k := range sortedKeys(val) {
			collectValues(val[k], out)
		}
	case []any:
		for _, item := range val {
			collectValues(item, out)
		}
	}
}
