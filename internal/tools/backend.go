package tools

import (
	"context"
	"time"
)

// Device is the registry's view of a connected device.
type Device struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Room     string         `json:"room,omitempty"`
	Online   bool           `json:"online"`
	State    map[string]any `json:"state,omitempty"`
	LastSeen time.Time      `json:"last_seen,omitempty"`
}

// MetricPoint is one sample of a device metric series.
type MetricPoint struct {
	Timestamp time.Time `json:"ts"`
	Value     float64   `json:"value"`
}

// Backend provides device operations for the device tool set. The
// production implementation talks MQTT; tests use fakes.
type Backend interface {
	// Discover probes for devices and returns everything found.
	Discover(ctx context.Context) ([]Device, error)
	// Devices returns the currently known devices.
	Devices(ctx context.Context) ([]Device, error)
	// DeviceState returns one device with its current state.
	DeviceState(ctx context.Context, deviceID string) (*Device, error)
	// SetState writes the given state keys to a device.
	SetState(ctx context.Context, deviceID string, state map[string]any) error
	// SendCommand delivers a command with parameters to a device.
	SendCommand(ctx context.Context, deviceID, command string, params map[string]any) error
	// Metrics returns recent samples of a device metric, newest last.
	Metrics(ctx context.Context, deviceID, metric string, limit int) ([]MetricPoint, error)
}

// Rule is a trigger/action automation.
type Rule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Trigger   string    `json:"trigger"`
	Action    string    `json:"action"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// RuleExecution is one historical firing of a rule.
type RuleExecution struct {
	RuleID  string    `json:"rule_id"`
	FiredAt time.Time `json:"fired_at"`
	Success bool      `json:"success"`
	Detail  string    `json:"detail,omitempty"`
}

// Scenario is a named preset spanning multiple devices.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	DeviceCount int    `json:"device_count"`
}

// Workflow is a multi-step automation with run state.
type Workflow struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Status  string    `json:"status"` // idle, running, failed
	Steps   int       `json:"steps"`
	LastRun time.Time `json:"last_run,omitempty"`
}

// Automations provides rule, scenario and workflow operations for the
// automation tool set.
type Automations interface {
	ListRules(ctx context.Context) ([]Rule, error)
	CreateRule(ctx context.Context, r Rule) (Rule, error)
	DeleteRule(ctx context.Context, id string) error
	RuleHistory(ctx context.Context, ruleID string, limit int) ([]RuleExecution, error)
	ListScenarios(ctx context.Context) ([]Scenario, error)
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	TriggerWorkflow(ctx context.Context, id string) (string, error)
	WorkflowStatus(ctx context.Context, id string) (*Workflow, error)
}
