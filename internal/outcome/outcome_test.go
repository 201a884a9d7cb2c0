package outcome

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu      sync.Mutex
	records []Record
	err     error
	delay   time.Duration
}

func (m *memSink) Write(ctx context.Context, rec Record) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return m.err
}

func (m *memSink) all() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

func TestLogger_FillsDefaults(t *testing.T) {
	sink := &memSink{}
	l := NewLogger(sink, nil)

	l.Log(Record{ConversationID: "c1", Outcome: Success, ExecutionPath: "default"})
	l.Wait()

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if got[0].ID == "" {
		t.Error("ID not generated")
	}
	if got[0].Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestLogger_DoesNotBlock(t *testing.T) {
	sink := &memSink{delay: 200 * time.Millisecond}
	l := NewLogger(sink, nil)

	start := time.Now()
	l.Log(Record{ConversationID: "c1", Outcome: Success})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Log blocked for %v", elapsed)
	}
	l.Wait()
	if len(sink.all()) != 1 {
		t.Error("record not written after Wait")
	}
}

func TestLogger_SwallowsErrors(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	l := NewLogger(sink, nil)
	l.Log(Record{ConversationID: "c1", Outcome: Error, ErrorCategory: "unknown"})
	l.Wait()
}

type panicSink struct{}

func (panicSink) Write(context.Context, Record) error { panic("boom") }

func TestLogger_RecoversPanics(t *testing.T) {
	l := NewLogger(panicSink{}, nil)
	l.Log(Record{ConversationID: "c1"})
	l.Wait()
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.Log(Record{})
	l.Wait()

	NewLogger(nil, nil).Log(Record{})
}

func TestMultiSink(t *testing.T) {
	a := &memSink{}
	b := &memSink{err: errors.New("broker down")}
	c := &memSink{}

	err := MultiSink{a, b, c}.Write(context.Background(), Record{ID: "r1"})
	if err == nil || err.Error() != "broker down" {
		t.Errorf("Write() error = %v, want broker down", err)
	}
	if len(a.all()) != 1 || len(c.all()) != 1 {
		t.Error("a failing sink stopped the fan-out")
	}
}
