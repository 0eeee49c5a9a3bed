package stream

import (
	"errors"
	"strings"
	"testing"

	"github.com/mingmingshen/neomind/internal/llm"
)

func execResult(name, result string) ExecResult {
	return ExecResult{Call: llm.NewToolCall(name, nil), Result: result}
}

func TestFormatDeviceDiscover(t *testing.T) {
	result := `{"devices": [
		{"id": "lamp-1", "name": "Floor Lamp", "type": "light", "room": "living room", "online": true},
		{"id": "th-1", "name": "Thermostat", "type": "climate", "room": "", "online": false}
	], "count": 2}`

	out := FormatToolResults([]ExecResult{execResult("device_discover", result)})
	if !strings.Contains(out, "Discovered 2 device(s)") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "Floor Lamp (lamp-1, light, living room) — online") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "Thermostat (th-1, climate) — offline") {
		t.Errorf("out = %q", out)
	}
}

func TestFormatListDevicesTable(t *testing.T) {
	result := `{"devices": [{"id": "a", "name": "A", "type": "light", "room": "den", "online": true}], "count": 1}`
	out := FormatToolResults([]ExecResult{execResult("list_devices", result)})
	if !strings.Contains(out, "ID | Name | Type | Room | Status") {
		t.Errorf("missing header: %q", out)
	}
	if !strings.Contains(out, "a | A | light | den | online") {
		t.Errorf("missing row: %q", out)
	}
}

func TestFormatEmptyDeviceList(t *testing.T) {
	out := FormatToolResults([]ExecResult{execResult("list_devices", `{"devices": [], "count": 0}`)})
	if out != "No devices found." {
		t.Errorf("out = %q", out)
	}
}

func TestFormatMetrics(t *testing.T) {
	result := `{"device_id": "th-1", "metric": "temperature", "points": [
		{"value": 20.0}, {"value": 22.0}, {"value": 21.0}
	]}`
	out := FormatToolResults([]ExecResult{execResult("get_device_metrics", result)})
	if !strings.Contains(out, "latest 21.00") {
		t.Errorf("out = %q", out)
	}
	if !strings.Contains(out, "min 20.00, max 22.00, avg 21.00 over 3 samples") {
		t.Errorf("out = %q", out)
	}
}

func TestFormatCommandAck(t *testing.T) {
	out := FormatToolResults([]ExecResult{execResult("send_command", "Command sent successfully")})
	if out != "✓ Command sent successfully" {
		t.Errorf("out = %q", out)
	}
}

func TestFormatFailedCall(t *testing.T) {
	r := execResult("get_device_state", "")
	r.Err = errors.New("device offline")
	out := FormatToolResults([]ExecResult{r})
	if out != "get_device_state failed: device offline" {
		t.Errorf("out = %q", out)
	}
}

func TestFormatGenericObject(t *testing.T) {
	out := FormatToolResults([]ExecResult{execResult("unknown_tool", `{"b": 2, "a": 1}`)})
	// Keys in sorted order.
	if out != "a: 1\nb: 2" {
		t.Errorf("out = %q", out)
	}
}

func TestFormatGenericPlainText(t *testing.T) {
	out := FormatToolResults([]ExecResult{execResult("unknown_tool", "just text")})
	if out != "just text" {
		t.Errorf("out = %q", out)
	}
}

func TestFormatRules(t *testing.T) {
	result := `{"rules": [{"id": "r1", "name": "Night mode", "trigger": "sunset", "action": "lights off", "enabled": true}]}`
	out := FormatToolResults([]ExecResult{execResult("list_rules", result)})
	if !strings.Contains(out, "1. Night mode (r1): when sunset then lights off [enabled]") {
		t.Errorf("out = %q", out)
	}
}

func TestFormatMultipleResults(t *testing.T) {
	out := FormatToolResults([]ExecResult{
		execResult("send_command", "Command sent successfully"),
		execResult("unknown_tool", "extra"),
	})
	if !strings.Contains(out, "✓ Command sent successfully") || !strings.Contains(out, "extra") {
		t.Errorf("out = %q", out)
	}
}
