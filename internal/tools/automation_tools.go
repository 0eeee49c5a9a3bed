package tools

import (
	"context"
	"fmt"
)

func (r *Registry) registerAutomationTools() {
	r.Register(&Tool{
		Name:        "list_rules",
		Description: "List automation rules with their triggers and actions.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListRules,
	})

	r.Register(&Tool{
		Name:        "create_rule",
		Description: "Create an automation rule with a trigger condition and an action.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Human-readable rule name",
				},
				"trigger": map[string]any{
					"type":        "string",
					"description": "Trigger expression (e.g., 'temperature > 28')",
				},
				"action": map[string]any{
					"type":        "string",
					"description": "Action to perform when triggered",
				},
			},
			"required": []string{"name", "trigger", "action"},
		},
		Handler: r.handleCreateRule,
	})

	r.Register(&Tool{
		Name:        "delete_rule",
		Description: "Delete an automation rule by ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rule_id": map[string]any{
					"type":        "string",
					"description": "The rule ID to delete",
				},
			},
			"required": []string{"rule_id"},
		},
		Handler: r.handleDeleteRule,
	})

	r.Register(&Tool{
		Name:        "query_rule_history",
		Description: "Show recent firings of an automation rule.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"rule_id": map[string]any{
					"type":        "string",
					"description": "The rule ID",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of entries (default 10)",
				},
			},
			"required": []string{"rule_id"},
		},
		Handler: r.handleRuleHistory,
	})

	r.Register(&Tool{
		Name:        "list_scenarios",
		Description: "List saved scenarios (multi-device presets).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListScenarios,
	})

	r.Register(&Tool{
		Name:        "list_workflows",
		Description: "List multi-step workflows and their run status.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListWorkflows,
	})

	r.Register(&Tool{
		Name:        "trigger_workflow",
		Description: "Start a workflow by ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workflow_id": map[string]any{
					"type":        "string",
					"description": "The workflow ID",
				},
			},
			"required": []string{"workflow_id"},
		},
		Handler: r.handleTriggerWorkflow,
	})

	r.Register(&Tool{
		Name:        "query_workflow_status",
		Description: "Get the current status of a workflow.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workflow_id": map[string]any{
					"type":        "string",
					"description": "The workflow ID",
				},
			},
			"required": []string{"workflow_id"},
		},
		Handler: r.handleWorkflowStatus,
	})
}

func (r *Registry) handleListRules(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	rules, err := r.automations.ListRules(ctx)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"rules": rules, "count": len(rules)})
}

func (r *Registry) handleCreateRule(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	name, err := stringArg(args, "name")
	if err != nil {
		return "", err
	}
	trigger, err := stringArg(args, "trigger")
	if err != nil {
		return "", err
	}
	action, err := stringArg(args, "action")
	if err != nil {
		return "", err
	}
	rule, err := r.automations.CreateRule(ctx, Rule{Name: name, Trigger: trigger, Action: action, Enabled: true})
	if err != nil {
		return "", err
	}
	return marshalResult(rule)
}

func (r *Registry) handleDeleteRule(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	ruleID, err := stringArg(args, "rule_id")
	if err != nil {
		return "", err
	}
	if err := r.automations.DeleteRule(ctx, ruleID); err != nil {
		return "", err
	}
	return fmt.Sprintf("Rule %s deleted", ruleID), nil
}

func (r *Registry) handleRuleHistory(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	ruleID, err := stringArg(args, "rule_id")
	if err != nil {
		return "", err
	}
	limit := optInt(args, "limit", 10)
	history, err := r.automations.RuleHistory(ctx, ruleID, limit)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"rule_id": ruleID, "history": history, "count": len(history)})
}

func (r *Registry) handleListScenarios(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	scenarios, err := r.automations.ListScenarios(ctx)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"scenarios": scenarios, "count": len(scenarios)})
}

func (r *Registry) handleListWorkflows(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	workflows, err := r.automations.ListWorkflows(ctx)
	if err != nil {
		return "", err
	}
	return marshalResult(map[string]any{"workflows": workflows, "count": len(workflows)})
}

func (r *Registry) handleTriggerWorkflow(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	workflowID, err := stringArg(args, "workflow_id")
	if err != nil {
		return "", err
	}
	return r.automations.TriggerWorkflow(ctx, workflowID)
}

func (r *Registry) handleWorkflowStatus(ctx context.Context, args map[string]any) (string, error) {
	if r.automations == nil {
		return "", fmt.Errorf("automation store not configured")
	}
	workflowID, err := stringArg(args, "workflow_id")
	if err != nil {
		return "", err
	}
	wf, err := r.automations.WorkflowStatus(ctx, workflowID)
	if err != nil {
		return "", err
	}
	return marshalResult(wf)
}
