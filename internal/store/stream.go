package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StreamStatus is the lifecycle state of one assistant request.
type StreamStatus string

const (
	StreamStreaming StreamStatus = "streaming"
	StreamCompleted StreamStatus = "completed"
	StreamFailed    StreamStatus = "failed"
	StreamAborted   StreamStatus = "aborted"
)

// StreamState records the progress of one assistant request against a
// conversation.
type StreamState struct {
	StreamID       string       `json:"stream_id"`
	ConversationID string       `json:"conversation_id"`
	Status         StreamStatus `json:"status"`
	Steps          int          `json:"steps"`
	Error          string       `json:"error,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// SaveStreamState inserts or updates a stream state row. StartedAt is
// kept from the first save.
func (s *Store) SaveStreamState(ctx context.Context, st StreamState) error {
	now := s.now()
	if st.StartedAt.IsZero() {
		st.StartedAt = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stream_states
			(stream_id, conversation_id, status, steps, error, started_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(stream_id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		st.StreamID, st.ConversationID, string(st.Status), st.Steps, st.Error,
		formatTime(st.StartedAt), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("save stream state: %w", err)
	}
	return nil
}

// GetStreamState returns the stream state for streamID.
func (s *Store) GetStreamState(ctx context.Context, streamID string) (*StreamState, error) {
	var st StreamState
	var status, started, updated string
	var errText sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id, conversation_id, status, steps, error, started_at, updated_at
		 FROM stream_states WHERE stream_id = ?`, streamID,
	).Scan(&st.StreamID, &st.ConversationID, &status, &st.Steps, &errText, &started, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query stream state: %w", err)
	}
	st.Status = StreamStatus(status)
	st.Error = errText.String
	st.StartedAt = parseTime(started)
	st.UpdatedAt = parseTime(updated)
	return &st, nil
}

// LatestStreamState returns the most recently started stream for a
// conversation.
func (s *Store) LatestStreamState(ctx context.Context, conversationID string) (*StreamState, error) {
	var streamID string
	err := s.db.QueryRowContext(ctx,
		`SELECT stream_id FROM stream_states
		 WHERE conversation_id = ?
		 ORDER BY started_at DESC LIMIT 1`, conversationID,
	).Scan(&streamID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest stream: %w", err)
	}
	return s.GetStreamState(ctx, streamID)
}

// ToolCall is a persisted record of one tool invocation.
type ToolCall struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	StreamID       string        `json:"stream_id,omitempty"`
	ToolName       string        `json:"tool_name"`
	Arguments      string        `json:"arguments"`
	Result         string        `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// RecordToolCall persists a completed tool invocation. An empty ID is
// replaced by a UUIDv7.
func (s *Store) RecordToolCall(ctx context.Context, tc ToolCall) error {
	if tc.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		tc.ID = id
	}
	if tc.StartedAt.IsZero() {
		tc.StartedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_calls
			(id, conversation_id, stream_id, tool_name, arguments, result, error, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tc.ConversationID, tc.StreamID, tc.ToolName, tc.Arguments,
		tc.Result, tc.Error, formatTime(tc.StartedAt), tc.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert tool call: %w", err)
	}
	return nil
}

// ListToolCalls returns up to limit tool calls for a conversation,
// most recent first.
func (s *Store) ListToolCalls(ctx context.Context, conversationID string, limit int) ([]ToolCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, stream_id, tool_name, arguments, result, error, started_at, duration_ms
		 FROM tool_calls
		 WHERE conversation_id = ?
		 ORDER BY started_at DESC
		 LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCall
	for rows.Next() {
		var tc ToolCall
		var streamID, result, errText sql.NullString
		var started string
		var ms int64
		if err := rows.Scan(&tc.ID, &tc.ConversationID, &streamID, &tc.ToolName, &tc.Arguments,
			&result, &errText, &started, &ms); err != nil {
			return nil, fmt.Errorf("scan tool call: %w", err)
		}
		tc.StreamID = streamID.String
		tc.Result = result.String
		tc.Error = errText.String
		tc.StartedAt = parseTime(started)
		tc.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, tc)
	}
	return out, rows.Err()
}
