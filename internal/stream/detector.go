// Package stream implements the streaming orchestration engine: it
// turns a raw LLM token stream into a structured event sequence,
// detects and executes tool calls mid-stream, supervises long
// generations, and synthesizes final answers from tool output.
package stream

import (
	"encoding/json"
	"strings"

	"github.com/mingmingshen/neomind/internal/llm"
)

// Tool-call delimiters models embed in text output. Both the wrapped
// multi-call form and the single-call form appear in the wild.
const (
	openToolCalls  = "<tool_calls>"
	closeToolCalls = "</tool_calls>"
	openToolCall   = "<tool_call>"
	closeToolCall  = "</tool_call>"
	openInvoke     = "<invoke"
	closeInvoke    = "</invoke>"
	openParameter  = "<parameter"
	closeParameter = "</parameter>"
)

// ParseToolCalls extracts tool calls embedded in model text. It
// handles the delimited form (<tool_calls> blocks holding <invoke>
// elements or bare <tool_call> JSON bodies) and the bare JSON form
// (a top-level array or object carrying a tool name). The returned
// string is the input with all recognized call islands removed.
//
// Key aliases are tolerated because different model families emit
// different shapes: name/tool/function for the tool name, and
// arguments/params/parameters for the argument object.
func ParseToolCalls(text string) ([]llm.ToolCall, string) {
	if strings.TrimSpace(text) == "" {
		return nil, text
	}

	var calls []llm.ToolCall
	remaining := text

	// Delimited forms first: they are unambiguous.
	if strings.Contains(remaining, openToolCalls) {
		var blockCalls []llm.ToolCall
		blockCalls, remaining = extractDelimited(remaining, openToolCalls, closeToolCalls)
		calls = append(calls, blockCalls...)
	}
	if strings.Contains(remaining, openToolCall) {
		var blockCalls []llm.ToolCall
		blockCalls, remaining = extractDelimited(remaining, openToolCall, closeToolCall)
		calls = append(calls, blockCalls...)
	}

	// Bare JSON arrays anywhere in the remaining text.
	var arrayCalls []llm.ToolCall
	arrayCalls, remaining = extractJSONArrays(remaining)
	calls = append(calls, arrayCalls...)

	// A whole-response JSON object with a tool name.
	if len(calls) == 0 {
		trimmed := strings.TrimSpace(remaining)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			if call, ok := callFromJSON([]byte(trimmed)); ok {
				return []llm.ToolCall{call}, ""
			}
		}
	}

	if len(calls) == 0 {
		return nil, text
	}
	return calls, strings.TrimSpace(remaining)
}

// extractDelimited pulls tool calls out of open…close blocks and
// returns the text with those blocks removed. An unterminated open
// delimiter swallows the rest of the text: models that start a block
// and get cut off never emit usable trailing content.
func extractDelimited(text, open, close string) ([]llm.ToolCall, string) {
	var calls []llm.ToolCall
	var kept strings.Builder

	for {
		start := strings.Index(text, open)
		if start < 0 {
			kept.WriteString(text)
			break
		}
		kept.WriteString(text[:start])
		rest := text[start+len(open):]

		end := strings.Index(rest, close)
		var body string
		if end < 0 {
			body = rest
			text = ""
		} else {
			body = rest[:end]
			text = rest[end+len(close):]
		}

		calls = append(calls, parseBlockBody(body)...)
		if end < 0 {
			break
		}
	}
	return calls, kept.String()
}

// parseBlockBody interprets the inside of a delimited block: either
// <invoke> elements or raw JSON.
func parseBlockBody(body string) []llm.ToolCall {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil
	}
	if strings.Contains(body, openInvoke) {
		return parseInvokes(body)
	}

	// JSON body: array, or one object per block.
	if calls, ok := callsFromJSONArray([]byte(body)); ok {
		return calls
	}
	if call, ok := callFromJSON([]byte(body)); ok {
		return []llm.ToolCall{call}
	}
	return nil
}

// parseInvokes handles the XML-ish invoke form:
//
//	<invoke name="tool_name">
//	  <parameter name="key">value</parameter>
//	  <parameter name="key" value="v"/>
//	</invoke>
func parseInvokes(body string) []llm.ToolCall {
	var calls []llm.ToolCall
	for {
		start := strings.Index(body, openInvoke)
		if start < 0 {
			break
		}
		rest := body[start:]
		tagEnd := strings.Index(rest, ">")
		if tagEnd < 0 {
			break
		}
		name := attrValue(rest[:tagEnd+1], "name")

		end := strings.Index(rest, closeInvoke)
		var inner string
		if end < 0 {
			inner = rest[tagEnd+1:]
			body = ""
		} else {
			inner = rest[tagEnd+1 : end]
			body = rest[end+len(closeInvoke):]
		}

		if name != "" {
			calls = append(calls, llm.NewToolCall(name, parseParameters(inner)))
		}
		if end < 0 {
			break
		}
	}
	return calls
}

// parseParameters collects <parameter> elements into an argument map.
func parseParameters(body string) map[string]any {
	args := map[string]any{}
	for {
		start := strings.Index(body, openParameter)
		if start < 0 {
			break
		}
		rest := body[start:]
		tagEnd := strings.Index(rest, ">")
		if tagEnd < 0 {
			break
		}
		tag := rest[:tagEnd+1]
		name := attrValue(tag, "name")

		if strings.HasSuffix(tag, "/>") {
			// Self-closing value-attribute form.
			if name != "" {
				args[name] = coerceValue(attrValue(tag, "value"))
			}
			body = rest[tagEnd+1:]
			continue
		}

		end := strings.Index(rest, closeParameter)
		if end < 0 {
			if name != "" {
				args[name] = coerceValue(strings.TrimSpace(rest[tagEnd+1:]))
			}
			break
		}
		if name != "" {
			args[name] = coerceValue(strings.TrimSpace(rest[tagEnd+1 : end]))
		}
		body = rest[end+len(closeParameter):]
	}
	if len(args) == 0 {
		return nil
	}
	return args
}

// attrValue extracts a quoted attribute from a tag string.
func attrValue(tag, attr string) string {
	for _, quote := range []string{`"`, `'`} {
		marker := attr + "=" + quote
		idx := strings.Index(tag, marker)
		if idx < 0 {
			continue
		}
		rest := tag[idx+len(marker):]
		end := strings.Index(rest, quote)
		if end < 0 {
			return ""
		}
		return rest[:end]
	}
	return ""
}

// coerceValue turns a parameter string into a typed value when it
// parses as JSON, otherwise keeps it as a string.
func coerceValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// extractJSONArrays scans for top-level JSON arrays of tool calls and
// removes each accepted array from the text. Arrays that do not parse,
// or whose elements lack a tool name, are left in place.
func extractJSONArrays(text string) ([]llm.ToolCall, string) {
	var calls []llm.ToolCall
	var kept strings.Builder
	i := 0
	for i < len(text) {
		start := strings.IndexByte(text[i:], '[')
		if start < 0 {
			kept.WriteString(text[i:])
			break
		}
		start += i
		kept.WriteString(text[i:start])

		end, ok := matchBracket(text, start)
		if !ok {
			// Unbalanced: flush as content.
			kept.WriteString(text[start:])
			break
		}
		candidate := text[start : end+1]
		if arrCalls, parsed := callsFromJSONArray([]byte(candidate)); parsed {
			calls = append(calls, arrCalls...)
		} else {
			kept.WriteString(candidate)
		}
		i = end + 1
	}
	return calls, kept.String()
}

// matchBracket finds the index of the ']' matching the '[' at start.
// String literals and escape sequences are respected so brackets
// inside quoted values do not end the scan early.
func matchBracket(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// rawCall is the permissive wire shape for a JSON-encoded tool call.
type rawCall struct {
	Name       string         `json:"name"`
	Tool       string         `json:"tool"`
	Function   string         `json:"function"`
	Arguments  map[string]any `json:"arguments"`
	Params     map[string]any `json:"params"`
	Parameters map[string]any `json:"parameters"`
}

func (r rawCall) toolName() string {
	switch {
	case r.Name != "":
		return r.Name
	case r.Tool != "":
		return r.Tool
	default:
		return r.Function
	}
}

func (r rawCall) args() map[string]any {
	switch {
	case r.Arguments != nil:
		return r.Arguments
	case r.Params != nil:
		return r.Params
	default:
		return r.Parameters
	}
}

// callsFromJSONArray parses a JSON array of tool calls. Every element
// must carry a tool name or the whole array is rejected.
func callsFromJSONArray(data []byte) ([]llm.ToolCall, bool) {
	var raws []rawCall
	if err := json.Unmarshal(data, &raws); err != nil || len(raws) == 0 {
		return nil, false
	}
	calls := make([]llm.ToolCall, 0, len(raws))
	for _, r := range raws {
		name := r.toolName()
		if name == "" {
			return nil, false
		}
		calls = append(calls, llm.NewToolCall(name, r.args()))
	}
	return calls, true
}

// callFromJSON parses a single JSON object tool call.
func callFromJSON(data []byte) (llm.ToolCall, bool) {
	var r rawCall
	if err := json.Unmarshal(data, &r); err != nil {
		return llm.ToolCall{}, false
	}
	name := r.toolName()
	if name == "" {
		return llm.ToolCall{}, false
	}
	return llm.NewToolCall(name, r.args()), true
}
