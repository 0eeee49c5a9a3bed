package stream

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// FormatToolResults renders executed tool results as a deterministic
// answer. This is the fallback path when synthesis produces nothing
// usable: every supported tool has a formatter that turns its JSON
// result into readable text, so the user always gets the data the
// tools actually returned.
func FormatToolResults(results []ExecResult) string {
	var parts []string
	for _, r := range results {
		name := r.Call.Function.Name
		if r.Err != nil {
			parts = append(parts, fmt.Sprintf("%s failed: %s", name, r.Err.Error()))
			continue
		}
		parts = append(parts, formatOne(name, r.Result))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func formatOne(name, result string) string {
	switch name {
	case "device_discover":
		return formatDeviceList(result, "Discovered")
	case "list_devices":
		return formatDeviceTable(result)
	case "get_device_state":
		return formatDeviceState(result)
	case "get_device_metrics", "get_device_data", "query_data":
		return formatMetrics(result)
	case "list_rules":
		return formatRules(result)
	case "list_scenarios":
		return formatScenarios(result)
	case "list_workflows":
		return formatWorkflows(result)
	case "query_rule_history":
		return formatRuleHistory(result)
	case "query_workflow_status":
		return formatWorkflowStatus(result)
	case "create_rule":
		return formatCreateRule(result)
	case "trigger_workflow":
		return "✓ " + strings.TrimSpace(result)
	case "send_command", "set_device_state", "toggle_device", "control_device", "execute_command":
		return "✓ " + strings.TrimSpace(result)
	case "delete_rule":
		return "✓ " + strings.TrimSpace(result)
	default:
		return formatGeneric(result)
	}
}

type deviceResult struct {
	Devices []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Type   string `json:"type"`
		Room   string `json:"room"`
		Online bool   `json:"online"`
	} `json:"devices"`
	Count int `json:"count"`
}

func formatDeviceList(result, verb string) string {
	var dr deviceResult
	if err := json.Unmarshal([]byte(result), &dr); err != nil {
		return formatGeneric(result)
	}
	if len(dr.Devices) == 0 {
		return "No devices found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %d device(s):\n", verb, len(dr.Devices))
	for _, d := range dr.Devices {
		status := "offline"
		if d.Online {
			status = "online"
		}
		fmt.Fprintf(&b, "- %s (%s, %s", d.Name, d.ID, d.Type)
		if d.Room != "" {
			fmt.Fprintf(&b, ", %s", d.Room)
		}
		fmt.Fprintf(&b, ") — %s\n", status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDeviceTable(result string) string {
	var dr deviceResult
	if err := json.Unmarshal([]byte(result), &dr); err != nil {
		return formatGeneric(result)
	}
	if len(dr.Devices) == 0 {
		return "No devices found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d device(s):\n", len(dr.Devices))
	b.WriteString("ID | Name | Type | Room | Status\n")
	for _, d := range dr.Devices {
		status := "offline"
		if d.Online {
			status = "online"
		}
		room := d.Room
		if room == "" {
			room = "-"
		}
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n", d.ID, d.Name, d.Type, room, status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatDeviceState(result string) string {
	var device struct {
		ID     string         `json:"id"`
		Name   string         `json:"name"`
		Online bool           `json:"online"`
		State  map[string]any `json:"state"`
	}
	if err := json.Unmarshal([]byte(result), &device); err != nil || device.ID == "" {
		return formatGeneric(result)
	}
	var b strings.Builder
	status := "offline"
	if device.Online {
		status = "online"
	}
	fmt.Fprintf(&b, "%s (%s) is %s.\n", device.Name, device.ID, status)
	for _, k := range sortedKeys(device.State) {
		fmt.Fprintf(&b, "- %s: %v\n", k, device.State[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatMetrics(result string) string {
	var mr struct {
		DeviceID string `json:"device_id"`
		Metric   string `json:"metric"`
		Points   []struct {
			Value float64 `json:"value"`
		} `json:"points"`
	}
	if err := json.Unmarshal([]byte(result), &mr); err != nil || len(mr.Points) == 0 {
		return formatGeneric(result)
	}
	min, max, sum := mr.Points[0].Value, mr.Points[0].Value, 0.0
	for _, p := range mr.Points {
		if p.Value < min {
			min = p.Value
		}
		if p.Value > max {
			max = p.Value
		}
		sum += p.Value
	}
	latest := mr.Points[len(mr.Points)-1].Value
	return fmt.Sprintf("%s %s: latest %.2f (min %.2f, max %.2f, avg %.2f over %d samples)",
		mr.DeviceID, mr.Metric, latest, min, max, sum/float64(len(mr.Points)), len(mr.Points))
}

func formatRules(result string) string {
	var rr struct {
		Rules []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Trigger string `json:"trigger"`
			Action  string `json:"action"`
			Enabled bool   `json:"enabled"`
		} `json:"rules"`
	}
	if err := json.Unmarshal([]byte(result), &rr); err != nil {
		return formatGeneric(result)
	}
	if len(rr.Rules) == 0 {
		return "No automation rules defined."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d rule(s):\n", len(rr.Rules))
	for i, r := range rr.Rules {
		state := "enabled"
		if !r.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&b, "%d. %s (%s): when %s then %s [%s]\n", i+1, r.Name, r.ID, r.Trigger, r.Action, state)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatScenarios(result string) string {
	var sr struct {
		Scenarios []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			DeviceCount int    `json:"device_count"`
		} `json:"scenarios"`
	}
	if err := json.Unmarshal([]byte(result), &sr); err != nil {
		return formatGeneric(result)
	}
	if len(sr.Scenarios) == 0 {
		return "No scenarios defined."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d scenario(s):\n", len(sr.Scenarios))
	for _, s := range sr.Scenarios {
		fmt.Fprintf(&b, "- %s (%s, %d devices)", s.Name, s.ID, s.DeviceCount)
		if s.Description != "" {
			fmt.Fprintf(&b, ": %s", s.Description)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWorkflows(result string) string {
	var wr struct {
		Workflows []struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Status string `json:"status"`
			Steps  int    `json:"steps"`
		} `json:"workflows"`
	}
	if err := json.Unmarshal([]byte(result), &wr); err != nil {
		return formatGeneric(result)
	}
	if len(wr.Workflows) == 0 {
		return "No workflows defined."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d workflow(s):\n", len(wr.Workflows))
	for _, w := range wr.Workflows {
		fmt.Fprintf(&b, "- %s (%s): %s, %d steps\n", w.Name, w.ID, w.Status, w.Steps)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatRuleHistory(result string) string {
	var hr struct {
		RuleID  string `json:"rule_id"`
		History []struct {
			FiredAt string `json:"fired_at"`
			Success bool   `json:"success"`
			Detail  string `json:"detail"`
		} `json:"history"`
	}
	if err := json.Unmarshal([]byte(result), &hr); err != nil {
		return formatGeneric(result)
	}
	if len(hr.History) == 0 {
		return fmt.Sprintf("Rule %s has not fired yet.", hr.RuleID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %s fired %d time(s):\n", hr.RuleID, len(hr.History))
	for _, h := range hr.History {
		status := "ok"
		if !h.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "- %s [%s]", h.FiredAt, status)
		if h.Detail != "" {
			fmt.Fprintf(&b, " %s", h.Detail)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatWorkflowStatus(result string) string {
	var w struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Status  string `json:"status"`
		Steps   int    `json:"steps"`
		LastRun string `json:"last_run"`
	}
	if err := json.Unmarshal([]byte(result), &w); err != nil || w.ID == "" {
		return formatGeneric(result)
	}
	out := fmt.Sprintf("Workflow %s (%s) is %s with %d steps.", w.Name, w.ID, w.Status, w.Steps)
	if w.LastRun != "" {
		out += fmt.Sprintf(" Last run: %s.", w.LastRun)
	}
	return out
}

func formatCreateRule(result string) string {
	var r struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(result), &r); err != nil || r.ID == "" {
		return formatGeneric(result)
	}
	return fmt.Sprintf("✓ Rule created: %s (%s)", r.Name, r.ID)
}

// formatGeneric renders an unrecognized result: JSON objects become
// key/value lines, arrays become bullets, anything else passes
// through.
func formatGeneric(result string) string {
	trimmed := strings.TrimSpace(result)

	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && len(obj) > 0 {
		var b strings.Builder
		for _, k := range sortedKeys(obj) {
			fmt.Fprintf(&b, "%s: %v\n", k, obj[k])
		}
		return strings.TrimRight(b.String(), "\n")
	}

	var arr []any
	if err := json.Unmarshal([]byte(trimmed), &arr); err == nil {
		var b strings.Builder
		for _, v := range arr {
			fmt.Fprintf(&b, "- %v\n", v)
		}
		return strings.TrimRight(b.String(), "\n")
	}

	return trimmed
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
