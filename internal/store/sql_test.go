package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "conductor.db")
	s, err := Open(context.Background(), "sqlite", dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStoreCreateConversationAndAddMessage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, "sess-1", "router", "first run", map[string]any{"origin": "cli"}); err != nil {
		t.Fatalf("CreateConversation() error = %v", err)
	}
	if err := s.AddMessage(ctx, "sess-1", "user", "hello", nil); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}
	if err := s.AddMessage(ctx, "sess-1", "assistant", "hi there", map[string]any{"tokens": float64(12)}); err != nil {
		t.Fatalf("AddMessage() error = %v", err)
	}

	history, err := s.GetConversationHistory(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("GetConversationHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("expected messages in insertion order, got %+v", history)
	}
	if history[1].Meta["tokens"] != float64(12) {
		t.Fatalf("expected decoded meta, got %+v", history[1].Meta)
	}
}

func TestSQLStoreGetConversationHistoryRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AddMessage(ctx, "sess-2", "user", "message", nil); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	history, err := s.GetConversationHistory(ctx, "sess-2", 3)
	if err != nil {
		t.Fatalf("GetConversationHistory() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
}

func TestSQLStoreAddAgentSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.AddAgentSession(ctx, AgentSession{
		SessionID:       "sess-3",
		AgentName:       "docker-ops",
		Query:           "restart the web container",
		Response:        "restarted",
		ToolCalls:       []string{"docker_restart"},
		ExecutionTimeMS: 842,
		Success:         true,
	})
	if err != nil {
		t.Fatalf("AddAgentSession() error = %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mongodb", "whatever"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestGetConversationHistoryEmptySession(t *testing.T) {
	s := openTestStore(t)
	history, err := s.GetConversationHistory(context.Background(), "no-such-session", 0)
	if err != nil {
		t.Fatalf("GetConversationHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no messages, got %d", len(history))
	}
}
