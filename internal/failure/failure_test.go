package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"429 Too Many Requests", RateLimit},
		{"anthropic API error 429: overloaded", RateLimit},
		{"Rate limit exceeded", RateLimit},
		{"rate_limit_error", RateLimit},
		{"too many requests", RateLimit},
		{"tool gmail_send_email failed", ToolFailure},
		{"Composio action error", ToolFailure},
		{"integration timed out", ToolFailure},
		{"failed to execute action", ToolFailure},
		{"prompt is too long", ContextTooLarge},
		{"maximum context window exceeded", ContextTooLarge},
		{"max_tokens exceeded", ContextTooLarge},
		{"input length exceeds limit", ContextTooLarge},
		{"401 Unauthorized", Authentication},
		{"invalid credentials", Authentication},
		{"please reconnect your account", Authentication},
		{"OAuth refresh failed", Authentication},
		{"connection reset by peer", Unknown},
		{"", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := Categorize(errors.New(tt.msg)); got != tt.want {
				t.Errorf("Categorize(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestCategorize_Nil(t *testing.T) {
	if got := Categorize(nil); got != Unknown {
		t.Errorf("Categorize(nil) = %v, want %v", got, Unknown)
	}
}

func TestCategorize_Priority(t *testing.T) {
	tests := []struct {
		msg  string
		want Category
	}{
		{"rate limit hit while auth refresh", RateLimit},
		{"429 from tool call", RateLimit},
		{"tool context overflow", ToolFailure},
		{"token expired, reconnect", ContextTooLarge},
	}
	for _, tt := range tests {
		if got := Categorize(errors.New(tt.msg)); got != tt.want {
			t.Errorf("Categorize(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestRules_Order(t *testing.T) {
	got := Rules()
	want := []Category{RateLimit, ToolFailure, ContextTooLarge, Authentication}
	if len(got) != len(want) {
		t.Fatalf("len(Rules()) = %d, want %d", len(got), len(want))
	}
	for i, r := range got {
		if r.Category != want[i] {
			t.Errorf("Rules()[%d] = %v, want %v", i, r.Category, want[i])
		}
	}

	// The returned table is a copy.
	got[0].Needles[0] = "mutated"
	if Rules()[0].Needles[0] != "rate limit" {
		t.Error("Rules() exposes the internal table")
	}
}

func TestFormatUserFacing(t *testing.T) {
	raw := []string{
		"429 secret-quota-id-123",
		"tool xyz-internal-host failed",
		"context length 99999 > 200000",
		"unauthorized: key sk-live-abc",
		"segfault in module qqq",
	}
	seen := map[string]bool{}
	for _, msg := range raw {
		got := FormatUserFacing(errors.New(msg))
		if got == "" {
			t.Errorf("FormatUserFacing(%q) is empty", msg)
		}
		if strings.Contains(got, msg) {
			t.Errorf("FormatUserFacing(%q) = %q leaks the raw error", msg, got)
		}
		seen[got] = true
	}
	if len(seen) != len(raw) {
		t.Errorf("got %d distinct messages, want %d", len(seen), len(raw))
	}

	for _, c := range Categories {
		if MessageFor(c) == "" {
			t.Errorf("MessageFor(%v) is empty", c)
		}
	}
}

func TestFormatUserFacing_MissingContext(t *testing.T) {
	err := fmt.Errorf("resolve identity: %w", ErrMissingContext)
	got := FormatUserFacing(err)
	if !strings.HasPrefix(got, "Missing workspace or user context") {
		t.Errorf("FormatUserFacing(missing context) = %q", got)
	}
}

// recordingSleeper records requested waits without sleeping.
type recordingSleeper struct {
	waits []time.Duration
	err   error
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return r.err
}

func TestHandle_RateLimitRetries(t *testing.T) {
	rs := &recordingSleeper{}
	h := NewHandler(nil, rs.sleep)
	err := errors.New("429 Too Many Requests")

	for count := 0; count < MaxRateLimitAttempts; count++ {
		rec := h.Handle(context.Background(), err, Attempt{Query: "q", Count: count})
		if !rec.ShouldRetry {
			t.Errorf("Count=%d: ShouldRetry = false, want true", count)
		}
		if rec.Category != RateLimit {
			t.Errorf("Count=%d: Category = %v, want rate_limit", count, rec.Category)
		}
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if len(rs.waits) != len(want) {
		t.Fatalf("waits = %v, want %v", rs.waits, want)
	}
	for i := range want {
		if rs.waits[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, rs.waits[i], want[i])
		}
	}

	rec := h.Handle(context.Background(), err, Attempt{Query: "q", Count: MaxRateLimitAttempts})
	if rec.ShouldRetry {
		t.Error("Count=3: ShouldRetry = true, want false")
	}
	if !strings.Contains(rec.Message, "busy") {
		t.Errorf("Count=3: Message = %q, want service busy", rec.Message)
	}
	if len(rs.waits) != len(want) {
		t.Error("exhausted rate limit should not sleep")
	}
}

func TestHandle_RateLimitCancelled(t *testing.T) {
	rs := &recordingSleeper{err: context.Canceled}
	h := NewHandler(nil, rs.sleep)

	rec := h.Handle(context.Background(), errors.New("rate limit"), Attempt{Count: 0})
	if rec.ShouldRetry {
		t.Error("cancelled backoff should not signal retry")
	}
}

func TestBackoff_Doubles(t *testing.T) {
	prev := Backoff(0)
	if prev != time.Second {
		t.Fatalf("Backoff(0) = %v, want 1s", prev)
	}
	for i := 1; i <= 4; i++ {
		got := Backoff(i)
		if got != 2*prev {
			t.Errorf("Backoff(%d) = %v, want %v", i, got, 2*prev)
		}
		prev = got
	}
}

func TestHandle_Policies(t *testing.T) {
	h := NewHandler(nil, func(context.Context, time.Duration) error {
		t.Fatal("non rate-limit categories must not sleep")
		return nil
	})

	tests := []struct {
		name       string
		err        error
		wantCat    Category
		wantMode   FallbackMode
		wantAction UserAction
		wantMax    int
	}{
		{name: "tool", err: errors.New("tool slack_post_message failed"), wantCat: ToolFailure, wantMode: FallbackInternalOnly},
		{name: "context", err: errors.New("prompt is too long"), wantCat: ContextTooLarge, wantMax: 20},
		{name: "auth", err: errors.New("401 unauthorized"), wantCat: Authentication, wantAction: ActionReconnectIntegration},
		{name: "unknown", err: errors.New("kaboom"), wantCat: Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.Handle(context.Background(), tt.err, Attempt{Query: "q"})
			if rec.ShouldRetry {
				t.Error("ShouldRetry = true, want false")
			}
			if rec.Category != tt.wantCat {
				t.Errorf("Category = %v, want %v", rec.Category, tt.wantCat)
			}
			if rec.FallbackMode != tt.wantMode {
				t.Errorf("FallbackMode = %q, want %q", rec.FallbackMode, tt.wantMode)
			}
			if rec.UserAction != tt.wantAction {
				t.Errorf("UserAction = %q, want %q", rec.UserAction, tt.wantAction)
			}
			gotMax := 0
			if rec.Adjustments != nil {
				gotMax = rec.Adjustments.MaxMessages
			}
			if gotMax != tt.wantMax {
				t.Errorf("Adjustments.MaxMessages = %d, want %d", gotMax, tt.wantMax)
			}
			if rec.Message == "" {
				t.Error("Message is empty")
			}
			if strings.Contains(rec.Message, tt.err.Error()) {
				t.Errorf("Message %q leaks the raw error", rec.Message)
			}
		})
	}
}
