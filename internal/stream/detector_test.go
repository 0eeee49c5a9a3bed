package stream

import (
	"strings"
	"testing"
)

func TestParseToolCallsDelimited(t *testing.T) {
	text := `Let me check that.
<tool_calls>
<invoke name="get_device_state">
<parameter name="device_id">sensor-1</parameter>
</invoke>
</tool_calls>`

	calls, cleaned := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Function.Name != "get_device_state" {
		t.Errorf("name = %q", calls[0].Function.Name)
	}
	if got := calls[0].Function.Arguments["device_id"]; got != "sensor-1" {
		t.Errorf("device_id = %v", got)
	}
	if strings.Contains(cleaned, "tool_calls") {
		t.Errorf("cleaned text still contains delimiter: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Let me check that.") {
		t.Errorf("surrounding text lost: %q", cleaned)
	}
}

func TestParseToolCallsMultipleInvokes(t *testing.T) {
	text := `<tool_calls>
<invoke name="list_devices"></invoke>
<invoke name="get_device_state">
<parameter name="device_id">lamp-2</parameter>
</invoke>
</tool_calls>`

	calls, _ := ParseToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Function.Name != "list_devices" || calls[1].Function.Name != "get_device_state" {
		t.Errorf("names = %q, %q", calls[0].Function.Name, calls[1].Function.Name)
	}
}

func TestParseToolCallsParameterValueAttr(t *testing.T) {
	text := `<tool_calls><invoke name="send_command"><parameter name="device_id" value="plug-3"/><parameter name="command" value="on"/></invoke></tool_calls>`

	calls, _ := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	args := calls[0].Function.Arguments
	if args["device_id"] != "plug-3" || args["command"] != "on" {
		t.Errorf("args = %v", args)
	}
}

func TestParseToolCallsNumericCoercion(t *testing.T) {
	text := `<tool_calls><invoke name="get_device_metrics"><parameter name="hours">24</parameter></invoke></tool_calls>`

	calls, _ := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got, ok := calls[0].Function.Arguments["hours"].(float64); !ok || got != 24 {
		t.Errorf("hours = %v (%T)", calls[0].Function.Arguments["hours"], calls[0].Function.Arguments["hours"])
	}
}

func TestParseToolCallsBareJSONArray(t *testing.T) {
	text := `[{"name": "list_devices", "arguments": {"room": "kitchen"}}]`

	calls, cleaned := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Function.Name != "list_devices" {
		t.Errorf("name = %q", calls[0].Function.Name)
	}
	if calls[0].Function.Arguments["room"] != "kitchen" {
		t.Errorf("args = %v", calls[0].Function.Arguments)
	}
	if strings.TrimSpace(cleaned) != "" {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestParseToolCallsJSONAliases(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"tool alias", `[{"tool": "list_rules", "params": {}}]`},
		{"function alias", `[{"function": "list_rules", "parameters": {}}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls, _ := ParseToolCalls(tc.text)
			if len(calls) != 1 || calls[0].Function.Name != "list_rules" {
				t.Fatalf("calls = %+v", calls)
			}
		})
	}
}

func TestParseToolCallsQuotedBrackets(t *testing.T) {
	// Brackets inside JSON strings must not confuse the bracket
	// counter.
	text := `[{"name": "send_command", "arguments": {"command": "set [mode]", "note": "escaped \" quote ]"}}]`

	calls, _ := ParseToolCalls(text)
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Function.Arguments["command"]; got != "set [mode]" {
		t.Errorf("command = %v", got)
	}
}

func TestParseToolCallsRejectsUnnamedArrayElement(t *testing.T) {
	// A JSON array where any element lacks a tool name is ordinary
	// content, not a call batch.
	text := `[1, 2, 3]`

	calls, cleaned := ParseToolCalls(text)
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if cleaned != text {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestParseToolCallsPlainText(t *testing.T) {
	text := "The living room lamp is on."
	calls, cleaned := ParseToolCalls(text)
	if len(calls) != 0 {
		t.Fatalf("expected no calls, got %d", len(calls))
	}
	if cleaned != text {
		t.Errorf("cleaned = %q", cleaned)
	}
}

func TestParseToolCallsUnterminatedBlock(t *testing.T) {
	// An opening delimiter with no close swallows the rest of the
	// text; the complete invoke tag inside still parses.
	text := `Before. <tool_calls><invoke name="list_devices">`

	calls, cleaned := ParseToolCalls(text)
	if len(calls) != 1 || calls[0].Function.Name != "list_devices" {
		t.Fatalf("calls = %+v", calls)
	}
	if strings.Contains(cleaned, "invoke") {
		t.Errorf("cleaned leaked delimiter text: %q", cleaned)
	}
	if !strings.Contains(cleaned, "Before.") {
		t.Errorf("text before the block lost: %q", cleaned)
	}
}

func TestParseToolCallsSingleJSONObject(t *testing.T) {
	text := `{"name": "device_discover", "arguments": {}}`

	calls, _ := ParseToolCalls(text)
	if len(calls) != 1 || calls[0].Function.Name != "device_discover" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestMatchBracket(t *testing.T) {
	cases := []struct {
		text  string
		start int
		end   int
		ok    bool
	}{
		{`[1,2]`, 0, 4, true},
		{`[[1],[2]]`, 0, 8, true},
		{`["a]b"]`, 0, 6, true},
		{`["\"]"]`, 0, 6, true},
		{`[1,2`, 0, 0, false},
	}
	for _, tc := range cases {
		end, ok := matchBracket(tc.text, tc.start)
		if ok != tc.ok || (ok && end != tc.end) {
			t.Errorf("matchBracket(%q) = %d,%v want %d,%v", tc.text, end, ok, tc.end, tc.ok)
		}
	}
}
