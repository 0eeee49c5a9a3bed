// Package automation persists rules, scenarios and workflows in
// SQLite and implements the automation tool backend.
package automation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mingmingshen/neomind/internal/tools"
)

// Store is a SQLite-backed tools.Automations implementation.
type Store struct {
	db *sql.DB
}

// Open creates or opens the automation database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open automation db: %w", err)
	}
	return OpenDB(db)
}

// OpenDB wraps an existing database handle. Used by tests.
func OpenDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		"trigger" TEXT NOT NULL,
		action TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS rule_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL,
		fired_at TEXT NOT NULL,
		success INTEGER NOT NULL,
		detail TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_rule_executions_rule
		ON rule_executions(rule_id, fired_at);
	CREATE TABLE IF NOT EXISTS scenarios (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		device_count INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'idle',
		steps INTEGER NOT NULL DEFAULT 0,
		last_run TEXT
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init automation schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- rules ---

// ListRules returns all rules, newest first.
func (s *Store) ListRules(ctx context.Context) ([]tools.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, "trigger", action, enabled, created_at
		FROM rules ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []tools.Rule
	for rows.Next() {
		var r tools.Rule
		var enabled int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Name, &r.Trigger, &r.Action, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.Enabled = enabled != 0
		r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateRule stores a new rule, assigning an id and creation time.
func (s *Store) CreateRule(ctx context.Context, r tools.Rule) (tools.Rule, error) {
	if r.Name == "" || r.Trigger == "" || r.Action == "" {
		return tools.Rule{}, errors.New("rule needs name, trigger and action")
	}
	r.ID = uuid.NewString()
	r.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, "trigger", action, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.Trigger, r.Action, boolInt(r.Enabled), r.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return tools.Rule{}, fmt.Errorf("create rule: %w", err)
	}
	return r, nil
}

// DeleteRule removes a rule and its execution history.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown rule: %s", id)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM rule_executions WHERE rule_id = ?`, id)
	return err
}

// RecordExecution appends one firing to a rule's history.
func (s *Store) RecordExecution(ctx context.Context, e tools.RuleExecution) error {
	if e.FiredAt.IsZero() {
		e.FiredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_executions (rule_id, fired_at, success, detail)
		VALUES (?, ?, ?, ?)`,
		e.RuleID, e.FiredAt.Format(time.RFC3339), boolInt(e.Success), e.Detail)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// RuleHistory returns the most recent firings of a rule, newest first.
func (s *Store) RuleHistory(ctx context.Context, ruleID string, limit int) ([]tools.RuleExecution, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, fired_at, success, detail
		FROM rule_executions WHERE rule_id = ?
		ORDER BY fired_at DESC, id DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("rule history: %w", err)
	}
	defer rows.Close()

	var out []tools.RuleExecution
	for rows.Next() {
		var e tools.RuleExecution
		var firedAt string
		var success int
		var detail sql.NullString
		if err := rows.Scan(&e.RuleID, &firedAt, &success, &detail); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.FiredAt, _ = time.Parse(time.RFC3339, firedAt)
		e.Success = success != 0
		e.Detail = detail.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- scenarios ---

// CreateScenario stores a new scenario, assigning an id.
func (s *Store) CreateScenario(ctx context.Context, sc tools.Scenario) (tools.Scenario, error) {
	if sc.Name == "" {
		return tools.Scenario{}, errors.New("scenario needs a name")
	}
	sc.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, name, description, device_count)
		VALUES (?, ?, ?, ?)`,
		sc.ID, sc.Name, sc.Description, sc.DeviceCount)
	if err != nil {
		return tools.Scenario{}, fmt.Errorf("create scenario: %w", err)
	}
	return sc, nil
}

// ListScenarios returns all scenarios by name.
func (s *Store) ListScenarios(ctx context.Context) ([]tools.Scenario, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, device_count
		FROM scenarios ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	defer rows.Close()

	var out []tools.Scenario
	for rows.Next() {
		var sc tools.Scenario
		var desc sql.NullString
		if err := rows.Scan(&sc.ID, &sc.Name, &desc, &sc.DeviceCount); err != nil {
			return nil, fmt.Errorf("scan scenario: %w", err)
		}
		sc.Description = desc.String
		out = append(out, sc)
	}
	return out, rows.Err()
}

// --- workflows ---

// CreateWorkflow stores a new workflow in the idle state.
func (s *Store) CreateWorkflow(ctx context.Context, w tools.Workflow) (tools.Workflow, error) {
	if w.Name == "" {
		return tools.Workflow{}, errors.New("workflow needs a name")
	}
	w.ID = uuid.NewString()
	if w.Status == "" {
		w.Status = "idle"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, name, status, steps)
		VALUES (?, ?, ?, ?)`,
		w.ID, w.Name, w.Status, w.Steps)
	if err != nil {
		return tools.Workflow{}, fmt.Errorf("create workflow: %w", err)
	}
	return w, nil
}

// ListWorkflows returns all workflows by name.
func (s *Store) ListWorkflows(ctx context.Context) ([]tools.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, status, steps, last_run
		FROM workflows ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []tools.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

// TriggerWorkflow marks a workflow running and stamps its last run.
// Returns a confirmation message for the tool result.
func (s *Store) TriggerWorkflow(ctx context.Context, id string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflows SET status = 'running', last_run = ?
		WHERE id = ?`, now, id)
	if err != nil {
		return "", fmt.Errorf("trigger workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("unknown workflow: %s", id)
	}

	var name string
	if err := s.db.QueryRowContext(ctx,
		`SELECT name FROM workflows WHERE id = ?`, id).Scan(&name); err != nil {
		return "", fmt.Errorf("trigger workflow: %w", err)
	}
	return fmt.Sprintf("Workflow %q started (run %s)", name, uuid.NewString()[:8]), nil
}

// CompleteWorkflow moves a workflow out of the running state.
func (s *Store) CompleteWorkflow(ctx context.Context, id string, failed bool) error {
	status := "idle"
	if failed {
		status = "failed"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("complete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("unknown workflow: %s", id)
	}
	return nil
}

// WorkflowStatus returns one workflow.
func (s *Store) WorkflowStatus(ctx context.Context, id string) (*tools.Workflow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, steps, last_run
		FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unknown workflow: %s", id)
	}
	return w, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*tools.Workflow, error) {
	var w tools.Workflow
	var lastRun sql.NullString
	if err := row.Scan(&w.ID, &w.Name, &w.Status, &w.Steps, &lastRun); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if lastRun.Valid {
		w.LastRun, _ = time.Parse(time.RFC3339, lastRun.String)
	}
	return &w, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
