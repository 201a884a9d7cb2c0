package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nugget/huddle/internal/failure"
	"github.com/nugget/huddle/internal/llm"
	"github.com/nugget/huddle/internal/outcome"
	"github.com/nugget/huddle/internal/store"
	"github.com/nugget/huddle/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedLLM replays a fixed sequence of replies. Once the script is
// exhausted the last entry repeats.
type scriptedLLM struct {
	mu     sync.Mutex
	script []scriptStep
	calls  []llmCall
}

type scriptStep struct {
	resp *llm.ChatResponse
	err  error
	// before runs ahead of the reply, e.g. to abort the request.
	before func()
}

type llmCall struct {
	messages []llm.Message
	tools    []map[string]any
}

func (s *scriptedLLM) Chat(_ context.Context, _ string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	s.mu.Lock()
	i := len(s.calls)
	s.calls = append(s.calls, llmCall{
		messages: append([]llm.Message(nil), messages...),
		tools:    tools,
	})
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	step := s.script[i]
	s.mu.Unlock()

	if step.before != nil {
		step.before()
	}
	return step.resp, step.err
}

func (s *scriptedLLM) Ping(context.Context) error { return nil }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedLLM) call(i int) llmCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

func text(content string) scriptStep {
	return scriptStep{resp: &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		InputTokens:  10,
		OutputTokens: 5,
	}}
}

func toolCall(name string, args map[string]any) scriptStep {
	return scriptStep{resp: &llm.ChatResponse{
		Model: "test-model",
		Message: llm.Message{
			Role: llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{
				ID:       "call_" + name,
				Function: llm.ToolFunction{Name: name, Arguments: args},
			}},
		},
		InputTokens:  10,
		OutputTokens: 5,
	}}
}

func fails(err error) scriptStep {
	return scriptStep{err: err}
}

// fakeInvoker answers every binding with a canned value or error.
type fakeInvoker struct {
	mu     sync.Mutex
	errs   map[tools.Binding]error
	calls  []invocation
	result any
}

type invocation struct {
	binding tools.Binding
	args    map[string]any
}

func (f *fakeInvoker) do(b tools.Binding, args map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, invocation{binding: b, args: args})
	if err := f.errs[b]; err != nil {
		return nil, err
	}
	if f.result != nil {
		return f.result, nil
	}
	return map[string]any{"ok": true}, nil
}

func (f *fakeInvoker) Query(_ context.Context, b tools.Binding, args map[string]any) (any, error) {
	return f.do(b, args)
}

func (f *fakeInvoker) Mutation(_ context.Context, b tools.Binding, args map[string]any) (any, error) {
	return f.do(b, args)
}

func (f *fakeInvoker) Action(_ context.Context, b tools.Binding, args map[string]any) (any, error) {
	return f.do(b, args)
}

func (f *fakeInvoker) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// outcomeLog collects outcome records synchronously.
type outcomeLog struct {
	mu      sync.Mutex
	records []outcome.Record
}

func (l *outcomeLog) Log(rec outcome.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
}

func (l *outcomeLog) last(t *testing.T) outcome.Record {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		t.Fatal("no outcome was logged")
	}
	return l.records[len(l.records)-1]
}

type harness struct {
	orch     *Orchestrator
	llm      *scriptedLLM
	store    *store.Store
	invoker  *fakeInvoker
	outcomes *outcomeLog
	sleeps   []time.Duration
	convID   string
}

func newHarness(t *testing.T, script ...scriptStep) *harness {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "huddle.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	h := &harness{
		llm:      &scriptedLLM{script: script},
		store:    st,
		invoker:  &fakeInvoker{errs: map[tools.Binding]error{}},
		outcomes: &outcomeLog{},
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}

	h.orch, err = New(Config{Model: "test-model"}, Deps{
		LLM:      h.llm,
		Store:    st,
		Invoker:  h.invoker,
		Outcomes: h.outcomes,
		Recovery: failure.NewHandler(discardLogger(), sleep),
		Logger:   discardLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h
}

func (h *harness) messages(t *testing.T, conversationID string) []store.Message {
	t.Helper()
	msgs, err := h.store.ListMessages(t.Context(), conversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	return msgs
}

func (h *harness) streamStatus(t *testing.T, conversationID string) store.StreamStatus {
	t.Helper()
	st, err := h.store.LatestStreamState(t.Context(), conversationID)
	if err != nil {
		t.Fatalf("LatestStreamState: %v", err)
	}
	return st.Status
}

var errUnknown = errors.New("model produced garbage")
