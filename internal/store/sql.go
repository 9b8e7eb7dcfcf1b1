// Package store is the persistence external collaborator from spec.md
// §6: conversation history, message stream, and agent-session metrics
// written to a SQL store via a small opaque interface. Schema is out of
// scope for the runtime's core logic; this package owns just enough of
// it to make the interface concretely usable against sqlite or
// postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Store is the persistence interface the delegation pipeline's core
// consumes. Implementations must be safe for concurrent use.
type Store interface {
	CreateConversation(ctx context.Context, sessionID, agentName, title string, meta map[string]any) error
	AddMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error
	AddAgentSession(ctx context.Context, session AgentSession) error
	GetConversationHistory(ctx context.Context, sessionID string, maxMessages int) ([]Message, error)
	Close() error
}

// Message is one entry in a conversation's history.
type Message struct {
	SessionID string
	Role      string
	Content   string
	Meta      map[string]any
	CreatedAt time.Time
}

// AgentSession records one C7 task execution: the query an agent
// received, the response it produced, which tools it called, and
// whether it succeeded.
type AgentSession struct {
	SessionID        string
	AgentName        string
	Query            string
	Response         string
	ToolCalls        []string
	ExecutionTimeMS  int64
	Success          bool
	Error            string
}

// SQLStore implements Store against database/sql. driverName is
// "sqlite" (modernc.org/sqlite, pure Go) or "postgres" (lib/pq).
type SQLStore struct {
	db     *sql.DB
	driver string
}

// Open opens driverName with dsn, pings it, and ensures the store's
// tables exist.
func Open(ctx context.Context, driverName, dsn string) (*SQLStore, error) {
	sqlDriver, err := resolveDriver(driverName)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", sqlDriver, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", sqlDriver, err)
	}

	s := &SQLStore{db: db, driver: sqlDriver}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// resolveDriver maps a config.PersistenceConfig.Driver value to the
// registered database/sql driver name: "sqlite" uses modernc.org/sqlite
// (pure Go, the default), "sqlite-cgo" uses mattn/go-sqlite3 (cgo,
// faster but requires a C toolchain), "postgres" uses lib/pq.
func resolveDriver(driverName string) (string, error) {
	switch driverName {
	case "", "sqlite":
		return "sqlite", nil
	case "sqlite-cgo":
		return "sqlite3", nil
	case "postgres":
		return "postgres", nil
	default:
		return "", fmt.Errorf("store: unknown driver %q", driverName)
	}
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			session_id TEXT PRIMARY KEY,
			agent_name TEXT NOT NULL,
			title TEXT NOT NULL,
			meta TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id ` + s.autoIncrementType() + `,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			meta TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id ` + s.autoIncrementType() + `,
			session_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			query TEXT NOT NULL,
			response TEXT NOT NULL,
			tool_calls TEXT NOT NULL,
			execution_time_ms BIGINT NOT NULL,
			success BOOLEAN NOT NULL,
			error TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) autoIncrementType() string {
	if s.driver == "postgres" {
		return "SERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// CreateConversation inserts or replaces a conversation's header row.
func (s *SQLStore) CreateConversation(ctx context.Context, sessionID, agentName, title string, meta map[string]any) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		rebind(s.driver, `INSERT INTO conversations (session_id, agent_name, title, meta, created_at) VALUES (?, ?, ?, ?, ?)`),
		sessionID, agentName, title, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// AddMessage appends one message to a conversation's history.
func (s *SQLStore) AddMessage(ctx context.Context, sessionID, role, content string, meta map[string]any) error {
	metaJSON, err := marshalMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		rebind(s.driver, `INSERT INTO messages (session_id, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?)`),
		sessionID, role, content, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: add message: %w", err)
	}
	return nil
}

// AddAgentSession records one C7 task execution.
func (s *SQLStore) AddAgentSession(ctx context.Context, session AgentSession) error {
	toolCallsJSON, err := json.Marshal(session.ToolCalls)
	if err != nil {
		return fmt.Errorf("store: marshal tool calls: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		rebind(s.driver, `INSERT INTO agent_sessions
			(session_id, agent_name, query, response, tool_calls, execution_time_ms, success, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		session.SessionID, session.AgentName, session.Query, session.Response,
		string(toolCallsJSON), session.ExecutionTimeMS, session.Success, session.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("store: add agent session: %w", err)
	}
	return nil
}

// GetConversationHistory returns up to maxMessages messages for
// sessionID, oldest first. maxMessages <= 0 means unbounded.
func (s *SQLStore) GetConversationHistory(ctx context.Context, sessionID string, maxMessages int) ([]Message, error) {
	query := `SELECT session_id, role, content, meta, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`
	args := []any{sessionID}
	if maxMessages > 0 {
		query += ` LIMIT ?`
		args = append(args, maxMessages)
	}

	rows, err := s.db.QueryContext(ctx, rebind(s.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("store: get conversation history: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var metaJSON string
		if err := rows.Scan(&m.SessionID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if metaJSON != "" {
			if err := json.Unmarshal([]byte(metaJSON), &m.Meta); err != nil {
				return nil, fmt.Errorf("store: unmarshal message meta: %w", err)
			}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Close releases the underlying database connection.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func marshalMeta(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("store: marshal meta: %w", err)
	}
	return string(data), nil
}

// rebind rewrites `?` placeholders into `$1, $2, ...` for postgres;
// sqlite accepts `?` as-is.
func rebind(driver, query string) string {
	if driver != "postgres" {
		return query
	}
	n := 0
	out := make([]byte, 0, len(query)+8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = append(out, []byte(fmt.Sprintf("%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
