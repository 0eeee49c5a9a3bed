// Package tokens estimates token counts for context budgeting. For
// models with a published BPE vocabulary (OpenAI families) it uses
// tiktoken for exact counts; for everything else (qwen, llama, local
// models) it falls back to a character-class heuristic that stays
// reasonable for CJK-heavy text.
package tokens

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/tiktoken-go/tokenizer"

	"github.com/mingmingshen/neomind/internal/llm"
)

// Per-message accounting overheads, applied on top of the raw text
// estimate. Tool calls carry structural framing that costs tokens even
// when the arguments are tiny.
const (
	messageOverhead  = 4
	toolCallOverhead = 10
)

var (
	codecMu    sync.RWMutex
	codecCache = map[tokenizer.Encoding]tokenizer.Codec{}
)

// Estimate returns a heuristic token count for text. CJK characters
// cost more than one token each under BPE vocabularies trained mostly
// on English, while ASCII words average around four characters per
// token. A 10% buffer keeps the estimate conservative so budgets err
// toward smaller windows.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	var est float64
	for _, r := range text {
		switch {
		case isCJK(r):
			est += 1.8
		case r <= unicode.MaxASCII && unicode.IsLetter(r):
			est += 0.25
		case unicode.IsDigit(r):
			est += 0.3
		case unicode.IsSpace(r):
			est += 0.25
		default:
			est += 0.5
		}
	}
	n := int(math.Ceil(est * 1.1))
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateForModel returns a token count for text under the given
// model, exact when the model maps to a known BPE encoding.
func EstimateForModel(model, text string) int {
	if text == "" {
		return 0
	}
	codec := codecFor(model)
	if codec == nil {
		return Estimate(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(ids)
}

// EstimateMessage returns the cost of one chat message: its content
// plus structural overhead plus each tool call's name and arguments.
// Thinking text is excluded — it never re-enters the context window,
// so charging for it would only shrink the usable budget.
func EstimateMessage(model string, m llm.Message) int {
	n := EstimateForModel(model, m.Content) + messageOverhead
	for _, tc := range m.ToolCalls {
		n += toolCallOverhead
		n += EstimateForModel(model, tc.Function.Name)
		if len(tc.Function.Arguments) > 0 {
			if b, err := json.Marshal(tc.Function.Arguments); err == nil {
				n += EstimateForModel(model, string(b))
			}
		}
	}
	return n
}

// EstimateMessages sums EstimateMessage over a slice.
func EstimateMessages(model string, msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(model, m)
	}
	return total
}

// codecFor returns a cached BPE codec for the model, or nil when the
// model has no known encoding and the heuristic should be used.
func codecFor(model string) tokenizer.Codec {
	enc, ok := encodingFor(model)
	if !ok {
		return nil
	}

	codecMu.RLock()
	codec, cached := codecCache[enc]
	codecMu.RUnlock()
	if cached {
		return codec
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil
	}
	codecMu.Lock()
	codecCache[enc] = codec
	codecMu.Unlock()
	return codec
}

// encodingFor maps model names to tiktoken encodings. Only OpenAI
// families are mapped; local model vocabularies are not shipped with
// tiktoken, so those use the heuristic.
func encodingFor(model string) (tokenizer.Encoding, bool) {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-4o"),
		strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "gpt-5"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"):
		return tokenizer.O200kBase, true
	case strings.HasPrefix(m, "gpt-4"),
		strings.HasPrefix(m, "gpt-3.5"),
		strings.HasPrefix(m, "text-embedding"):
		return tokenizer.Cl100kBase, true
	default:
		return "", false
	}
}

// isCJK reports whether r falls in the main CJK, kana or hangul ranges.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana + Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul Syllables
		return true
	case r >= 0xF900 && r <= 0xFAFF: // CJK Compatibility Ideographs
		return true
	}
	return false
}
