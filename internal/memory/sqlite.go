// Package memory provides SQLite-backed conversation storage: message
// history per conversation plus a queryable audit trail of executed
// tool calls.
package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/tokens"
)

// Store is a SQLite-backed conversation store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at dbPath using the production
// sqlite3 driver with WAL journaling.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return openDB(db)
}

// OpenDB wraps an existing database handle. Tests use this with the
// pure-Go sqlite driver so they run without cgo.
func OpenDB(db *sql.DB) (*Store, error) {
	return openDB(db)
}

func openDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		thinking TEXT,
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		token_count INTEGER DEFAULT 0,
		compacted BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation creates a conversation and returns its id.
func (s *Store) CreateConversation(title string) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, title, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// EnsureConversation creates the conversation if it does not exist.
func (s *Store) EnsureConversation(id string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, '', ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, now, now,
	)
	if err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation. The token count is
// estimated at write time so window assembly never re-counts old rows.
func (s *Store) AddMessage(conversationID string, m llm.Message) error {
	if err := s.EnsureConversation(conversationID); err != nil {
		return err
	}

	var toolCallsJSON sql.NullString
	if len(m.ToolCalls) > 0 {
		b, err := json.Marshal(m.ToolCalls)
		if err != nil {
			return fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = sql.NullString{String: string(b), Valid: true}
	}

	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, thinking, tool_calls, tool_call_id, tool_name, token_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), conversationID, m.Role, m.Content, m.Thinking,
		toolCallsJSON, m.ToolCallID, m.ToolName, tokens.EstimateMessage("", m), now,
	)
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}

	_, err = s.db.Exec(`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// AddMessages appends messages in order inside one transaction.
func (s *Store) AddMessages(conversationID string, msgs []llm.Message) error {
	for _, m := range msgs {
		if err := s.AddMessage(conversationID, m); err != nil {
			return err
		}
	}
	return nil
}

// Messages returns a conversation's messages in insertion order.
func (s *Store) Messages(conversationID string) ([]llm.Message, error) {
	rows, err := s.db.Query(
		`SELECT role, content, thinking, tool_calls, tool_call_id, tool_name
		 FROM messages WHERE conversation_id = ? ORDER BY rowid`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []llm.Message
	for rows.Next() {
		var m llm.Message
		var thinking, toolCalls, toolCallID, toolName sql.NullString
		if err := rows.Scan(&m.Role, &m.Content, &thinking, &toolCalls, &toolCallID, &toolName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Thinking = thinking.String
		m.ToolCallID = toolCallID.String
		m.ToolName = toolName.String
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecordToolCall records the start of a tool execution.
func (s *Store) RecordToolCall(conversationID, callID, toolName, arguments string) error {
	if err := s.EnsureConversation(conversationID); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO tool_calls (id, conversation_id, tool_name, arguments, started_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		callID, conversationID, toolName, arguments, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record tool call: %w", err)
	}
	return nil
}

// CompleteToolCall fills in the outcome of a recorded tool call.
func (s *Store) CompleteToolCall(callID, result, errMsg string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE tool_calls
		 SET result = ?, error = ?, completed_at = ?,
		     duration_ms = CAST((julianday(?) - julianday(started_at)) * 86400000 AS INTEGER)
		 WHERE id = ?`,
		result, errMsg, now, now, callID,
	)
	if err != nil {
		return fmt.Errorf("complete tool call: %w", err)
	}
	return nil
}

// ToolCallRecord is one audited tool execution.
type ToolCallRecord struct {
	ID          string
	ToolName    string
	Arguments   string
	Result      string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64
}

// ToolCalls returns a conversation's tool executions, newest first.
func (s *Store) ToolCalls(conversationID string, limit int) ([]ToolCallRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, tool_name, arguments, COALESCE(result, ''), COALESCE(error, ''), started_at, completed_at, COALESCE(duration_ms, 0)
		 FROM tool_calls WHERE conversation_id = ? ORDER BY started_at DESC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var records []ToolCallRecord
	for rows.Next() {
		var r ToolCallRecord
		var completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.ToolName, &r.Arguments, &r.Result, &r.Error, &r.StartedAt, &completed, &r.DurationMS); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		if completed.Valid {
			t := completed.Time
			r.CompletedAt = &t
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Clear deletes a conversation and everything attached to it.
func (s *Store) Clear(conversationID string) error {
	for _, q := range []string{
		`DELETE FROM tool_calls WHERE conversation_id = ?`,
		`DELETE FROM messages WHERE conversation_id = ?`,
		`DELETE FROM conversations WHERE id = ?`,
	} {
		if _, err := s.db.Exec(q, conversationID); err != nil {
			return fmt.Errorf("clear conversation: %w", err)
		}
	}
	return nil
}

// Stats summarizes store contents.
type Stats struct {
	Conversations int
	Messages      int
	ToolCalls     int
}

// Stats returns row counts across the store.
func (s *Store) GetStats() (Stats, error) {
	var st Stats
	for _, c := range []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM conversations`, &st.Conversations},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
		{`SELECT COUNT(*) FROM tool_calls`, &st.ToolCalls},
	} {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
