// Package store persists conversations, their messages, per-request
// stream states and tool-call records in SQLite.
//
// Messages are append-only. Conversation metadata is updated one row at
// a time, so no operation needs a multi-row transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a conversation or stream does not exist.
var ErrNotFound = errors.New("not found")

// Message roles accepted by AppendMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a persisted chat thread between one user and the
// assistant within one workspace.
type Conversation struct {
	ID            string    `json:"id"`
	ExternalKey   string    `json:"external_key"`
	WorkspaceID   string    `json:"workspace_id"`
	UserID        string    `json:"user_id"`
	CreatedAt     time.Time `json:"created_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is one persisted turn. Seq orders messages within a
// conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	Seq            int64     `json:"seq"`
}

// Store is a SQLite-backed conversation store. All public methods are
// safe for concurrent use (SQLite serializes writes).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the store at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open conversation database: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              TEXT PRIMARY KEY,
		external_key    TEXT NOT NULL UNIQUE,
		workspace_id    TEXT NOT NULL,
		user_id         TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		last_message_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_owner ON conversations(workspace_id, user_id, last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		UNIQUE (conversation_id, seq),
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS stream_states (
		stream_id       TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		status          TEXT NOT NULL,
		steps           INTEGER NOT NULL DEFAULT 0,
		error           TEXT,
		started_at      TEXT NOT NULL,
		updated_at      TEXT NOT NULL,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_stream_states_conversation ON stream_states(conversation_id, started_at);

	CREATE TABLE IF NOT EXISTS tool_calls (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		stream_id       TEXT,
		tool_name       TEXT NOT NULL,
		arguments       TEXT NOT NULL,
		result          TEXT,
		error           TEXT,
		started_at      TEXT NOT NULL,
		duration_ms     INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_conversation ON tool_calls(conversation_id, started_at);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_tool ON tool_calls(tool_name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ID: %w", err)
	}
	return id.String(), nil
}

// CreateConversation creates a conversation for workspaceID and userID
// under externalKey, or returns the existing one if the key is already
// in use. An empty key is replaced by the new conversation's ID.
func (s *Store) CreateConversation(ctx context.Context, externalKey, workspaceID, userID string) (*Conversation, error) {
	if workspaceID == "" || userID == "" {
		return nil, fmt.Errorf("create conversation: workspace and user are required")
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	if externalKey == "" {
		externalKey = id
	}
	now := formatTime(s.now())

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO conversations
			(id, external_key, workspace_id, user_id, created_at, last_message_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, externalKey, workspaceID, userID, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, external_key, workspace_id, user_id, created_at, last_message_at
		 FROM conversations WHERE external_key = ?`, externalKey))
}

// EnsureConversation returns the most recently active conversation for
// the workspace and user, creating one if none exists or forceNew is
// set.
func (s *Store) EnsureConversation(ctx context.Context, workspaceID, userID string, forceNew bool) (*Conversation, error) {
	if !forceNew {
		conv, err := s.scanConversation(s.db.QueryRowContext(ctx,
			`SELECT id, external_key, workspace_id, user_id, created_at, last_message_at
			 FROM conversations
			 WHERE workspace_id = ? AND user_id = ?
			 ORDER BY last_message_at DESC, created_at DESC
			 LIMIT 1`, workspaceID, userID))
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.CreateConversation(ctx, "", workspaceID, userID)
}

// GetConversation returns the conversation with the given ID or
// external key.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.scanConversation(s.db.QueryRowContext(ctx,
		`SELECT id, external_key, workspace_id, user_id, created_at, last_message_at
		 FROM conversations WHERE id = ? OR external_key = ?
		 LIMIT 1`, id, id))
}

func (s *Store) scanConversation(row *sql.Row) (*Conversation, error) {
	var c Conversation
	var created, last string
	err := row.Scan(&c.ID, &c.ExternalKey, &c.WorkspaceID, &c.UserID, &created, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	c.CreatedAt = parseTime(created)
	c.LastMessageAt = parseTime(last)
	return &c, nil
}

// TouchConversation sets the conversation's last activity time.
func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		formatTime(at), conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a user or assistant message to a conversation.
// Messages are never updated or deleted.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return nil, fmt.Errorf("append message: invalid role %q", role)
	}
	id, err := newID()
	if err != nil {
		return nil, err
	}
	now := s.now()

	// Computing seq inside the INSERT keeps it atomic with the write.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at, seq)
		 SELECT ?, c.id, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = c.id)
		 FROM conversations c WHERE c.id = ?`,
		id, role, content, formatTime(now), conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM messages WHERE id = ?`, id).Scan(&seq); err != nil {
		return nil, fmt.Errorf("read message seq: %w", err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now.UTC(),
		Seq:            seq,
	}, nil
}

// ListMessages returns every message in the conversation in creation
// order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at, seq
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var created string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &created, &m.Seq); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}
