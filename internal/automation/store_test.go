package automation

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mingmingshen/neomind/internal/tools"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "automation.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s, err := OpenDB(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndListRules(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	created, err := s.CreateRule(ctx, tools.Rule{
		Name: "Night lights", Trigger: "sunset", Action: "turn_on lamp-1", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() {
		t.Errorf("rule not stamped: %+v", created)
	}

	rules, err := s.ListRules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rules) != 1 || rules[0].Name != "Night lights" || !rules[0].Enabled {
		t.Errorf("rules = %+v", rules)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	s := testStore(t)
	if _, err := s.CreateRule(context.Background(), tools.Rule{Name: "x"}); err == nil {
		t.Error("expected validation error")
	}
}

func TestDeleteRule(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r, _ := s.CreateRule(ctx, tools.Rule{Name: "r", Trigger: "t", Action: "a"})
	s.RecordExecution(ctx, tools.RuleExecution{RuleID: r.ID, Success: true})

	if err := s.DeleteRule(ctx, r.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rules, _ := s.ListRules(ctx); len(rules) != 0 {
		t.Errorf("rules = %+v", rules)
	}
	if hist, _ := s.RuleHistory(ctx, r.ID, 10); len(hist) != 0 {
		t.Errorf("history not cleared: %+v", hist)
	}

	if err := s.DeleteRule(ctx, "ghost"); err == nil {
		t.Error("expected error for unknown rule")
	}
}

func TestRuleHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		s.RecordExecution(ctx, tools.RuleExecution{
			RuleID:  "rule-1",
			FiredAt: base.Add(time.Duration(i) * time.Minute),
			Success: i != 1,
			Detail:  "fired",
		})
	}

	hist, err := s.RuleHistory(ctx, "rule-1", 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("len = %d", len(hist))
	}
	// Newest first.
	if !hist[0].FiredAt.After(hist[1].FiredAt) {
		t.Errorf("order: %v then %v", hist[0].FiredAt, hist[1].FiredAt)
	}
	if hist[1].Success {
		t.Error("second-newest firing should be the failed one")
	}
}

func TestScenarios(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateScenario(ctx, tools.Scenario{Name: "Movie Night", Description: "dim everything", DeviceCount: 4})
	s.CreateScenario(ctx, tools.Scenario{Name: "Away", DeviceCount: 9})

	scenarios, err := s.ListScenarios(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scenarios) != 2 || scenarios[0].Name != "Away" {
		t.Errorf("scenarios = %+v", scenarios)
	}
	if scenarios[1].Description != "dim everything" || scenarios[1].DeviceCount != 4 {
		t.Errorf("movie night = %+v", scenarios[1])
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	w, err := s.CreateWorkflow(ctx, tools.Workflow{Name: "Morning", Steps: 3})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if w.Status != "idle" {
		t.Errorf("status = %q", w.Status)
	}

	msg, err := s.TriggerWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if msg == "" {
		t.Error("empty trigger message")
	}

	got, err := s.WorkflowStatus(ctx, w.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Status != "running" || got.LastRun.IsZero() {
		t.Errorf("workflow = %+v", got)
	}

	if err := s.CompleteWorkflow(ctx, w.ID, true); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, _ = s.WorkflowStatus(ctx, w.ID)
	if got.Status != "failed" {
		t.Errorf("status = %q", got.Status)
	}
}

func TestWorkflowUnknown(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.TriggerWorkflow(ctx, "ghost"); err == nil {
		t.Error("trigger should fail for unknown workflow")
	}
	if _, err := s.WorkflowStatus(ctx, "ghost"); err == nil {
		t.Error("status should fail for unknown workflow")
	}
	if err := s.CompleteWorkflow(ctx, "ghost", false); err == nil {
		t.Error("complete should fail for unknown workflow")
	}
}

func TestListWorkflows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.CreateWorkflow(ctx, tools.Workflow{Name: "B", Steps: 1})
	s.CreateWorkflow(ctx, tools.Workflow{Name: "A", Steps: 2})

	workflows, err := s.ListWorkflows(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(workflows) != 2 || workflows[0].Name != "A" {
		t.Errorf("workflows = %+v", workflows)
	}
}
