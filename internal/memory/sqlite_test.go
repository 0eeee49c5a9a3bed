package memory

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/mingmingshen/neomind/internal/llm"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	store, err := OpenDB(db)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMessageRoundTrip(t *testing.T) {
	s := testStore(t)
	id, err := s.CreateConversation("lights")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	msgs := []llm.Message{
		llm.User("is the lamp on?"),
		llm.AssistantWithTools("", []llm.ToolCall{llm.NewToolCall("get_device_state", map[string]any{"device_id": "lamp-1"})}),
		llm.ToolResult("call-1", "get_device_state", `{"power": "on"}`),
		llm.Assistant("Yes, it is on."),
	}
	if err := s.AddMessages(id, msgs); err != nil {
		t.Fatalf("add: %v", err)
	}

	got, err := s.Messages(id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != len(msgs) {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Role != "user" || got[0].Content != "is the lamp on?" {
		t.Errorf("msg 0 = %+v", got[0])
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Function.Name != "get_device_state" {
		t.Errorf("tool calls = %+v", got[1].ToolCalls)
	}
	if got[2].Role != "tool" || got[2].ToolName != "get_device_state" || got[2].ToolCallID != "call-1" {
		t.Errorf("msg 2 = %+v", got[2])
	}
}

func TestAddMessageCreatesConversation(t *testing.T) {
	s := testStore(t)
	if err := s.AddMessage("implicit", llm.User("hi")); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := s.Messages("implicit")
	if err != nil || len(got) != 1 {
		t.Fatalf("got %d messages, err %v", len(got), err)
	}
}

func TestToolCallAudit(t *testing.T) {
	s := testStore(t)
	if err := s.RecordToolCall("conv", "call-1", "send_command", `{"device_id":"lamp-1"}`); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.CompleteToolCall("call-1", "Command sent successfully", ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	records, err := s.ToolCalls("conv", 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	r := records[0]
	if r.ToolName != "send_command" || r.Result != "Command sent successfully" || r.Error != "" {
		t.Errorf("record = %+v", r)
	}
	if r.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestToolCallFailureRecorded(t *testing.T) {
	s := testStore(t)
	s.RecordToolCall("conv", "call-2", "get_device_state", `{}`)
	s.CompleteToolCall("call-2", "", "device offline")

	records, _ := s.ToolCalls("conv", 10)
	if len(records) != 1 || records[0].Error != "device offline" {
		t.Fatalf("records = %+v", records)
	}
}

func TestClear(t *testing.T) {
	s := testStore(t)
	id, _ := s.CreateConversation("temp")
	s.AddMessage(id, llm.User("hello"))
	s.RecordToolCall(id, "c", "t", "{}")

	if err := s.Clear(id); err != nil {
		t.Fatalf("clear: %v", err)
	}
	msgs, _ := s.Messages(id)
	if len(msgs) != 0 {
		t.Errorf("messages survived clear: %d", len(msgs))
	}
	st, _ := s.GetStats()
	if st.Conversations != 0 || st.Messages != 0 || st.ToolCalls != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestStats(t *testing.T) {
	s := testStore(t)
	id, _ := s.CreateConversation("one")
	s.AddMessage(id, llm.User("a"))
	s.AddMessage(id, llm.Assistant("b"))

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Conversations != 1 || st.Messages != 2 {
		t.Errorf("stats = %+v", st)
	}
}
