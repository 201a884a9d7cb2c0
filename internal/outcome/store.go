package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Summary holds aggregated outcome totals.
type Summary struct {
	Total         int     `json:"total"`
	Successes     int     `json:"successes"`
	Errors        int     `json:"errors"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Store is an append-only SQLite sink for outcome records. All public
// methods are safe for concurrent use (SQLite serializes writes).
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the outcome database at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open outcome database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore creates the outcome schema in db if needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate outcome schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS request_outcomes (
		id              TEXT PRIMARY KEY,
		timestamp       TEXT NOT NULL,
		workspace_id    TEXT,
		user_id         TEXT,
		conversation_id TEXT NOT NULL,
		outcome         TEXT NOT NULL,
		duration_ms     INTEGER NOT NULL,
		execution_path  TEXT NOT NULL,
		error_category  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_timestamp ON request_outcomes(timestamp);
	CREATE INDEX IF NOT EXISTS idx_outcomes_workspace ON request_outcomes(workspace_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Write implements Sink. If rec.ID is empty, a UUIDv7 is generated.
func (s *Store) Write(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate outcome ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO request_outcomes
			(id, timestamp, workspace_id, user_id, conversation_id, outcome,
			 duration_ms, execution_path, error_category)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.WorkspaceID,
		rec.UserID,
		rec.ConversationID,
		string(rec.Outcome),
		rec.DurationMs,
		rec.ExecutionPath,
		rec.ErrorCategory,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM request_outcomes
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)

	var sum Summary
	if err := row.Scan(&sum.Total, &sum.Successes, &sum.Errors, &sum.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("query outcome summary: %w", err)
	}
	return &sum, nil
}

// SummaryByCategory returns per-error-category totals within
// [start, end). Successful requests are grouped under "".
func (s *Store) SummaryByCategory(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "error_category", start, end)
}

// SummaryByPath returns per-execution-path totals within [start, end).
func (s *Store) SummaryByPath(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	return s.summaryGroupedBy(ctx, "execution_path", start, end)
}

func (s *Store) summaryGroupedBy(ctx context.Context, column string, start, end time.Time) (map[string]*Summary, error) {
	// column is always a constant from our own methods.
	query := fmt.Sprintf(
		`SELECT COALESCE(%s, ''), COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(duration_ms), 0)
		 FROM request_outcomes
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY %s`,
		column, column,
	)

	rows, err := s.db.QueryContext(ctx, query,
		start.UTC().Format(time.RFC3339),
		end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("query outcomes by %s: %w", column, err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.Total, &sum.Successes, &sum.Errors, &sum.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan outcomes by %s: %w", column, err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
