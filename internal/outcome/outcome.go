// Package outcome records one row per completed assistant request for
// reliability observability. Writes are fire-and-forget: a failing sink
// never delays or fails the request that produced the record.
package outcome

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome is the terminal result of a request.
type Outcome string

const (
	Success Outcome = "success"
	Error   Outcome = "error"
)

// Record is one request outcome. ErrorCategory is set only when
// Outcome is Error.
type Record struct {
	ID             string    `json:"id"`
	WorkspaceID    string    `json:"workspace_id,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Outcome        Outcome   `json:"outcome"`
	DurationMs     int64     `json:"duration_ms"`
	ExecutionPath  string    `json:"execution_path"`
	ErrorCategory  string    `json:"error_category,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink persists or forwards outcome records.
type Sink interface {
	Write(ctx context.Context, rec Record) error
}

// MultiSink writes each record to every sink and joins their errors.
type MultiSink []Sink

// Write implements Sink.
func (m MultiSink) Write(ctx context.Context, rec Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder accepts outcome records without blocking.
type Recorder interface {
	Log(rec Record)
}

// DefaultWriteTimeout bounds a single background write.
const DefaultWriteTimeout = 5 * time.Second

// Logger writes records to a sink in the background.
type Logger struct {
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewLogger returns a Logger writing to sink. A nil sink discards
// records.
func NewLogger(sink Sink, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		sink:    sink,
		timeout: DefaultWriteTimeout,
		logger:  logger.With("component", "outcome"),
	}
}

// Log fills in the ID and timestamp if unset and writes rec in a new
// goroutine. It returns immediately. Sink errors are logged at debug
// level and dropped.
func (l *Logger) Log(rec Record) {
	if l == nil || l.sink == nil {
		return
	}
	if rec.ID == "" {
		if id, err := uuid.NewV7(); err == nil {
			rec.ID = id.String()
		}
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				l.logger.Debug("outcome sink panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.sink.Write(ctx, rec); err != nil {
			l.logger.Debug("outcome write failed",
				"conversation", rec.ConversationID,
				"outcome", rec.Outcome,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every pending write has finished.
func (l *Logger) Wait() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
