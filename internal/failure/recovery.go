package failure

import (
	"context"
	"log/slog"
	"time"
)

const (
	// MaxRateLimitAttempts bounds in-process rate-limit retries.
	MaxRateLimitAttempts = 3

	// TruncatedHistoryMessages is the history size requested after a
	// context_too_large failure.
	TruncatedHistoryMessages = 20
)

// FallbackMode is a caller-level recovery strategy.
type FallbackMode string

// FallbackInternalOnly asks the caller to retry with only workspace
// (non-integration) tools.
const FallbackInternalOnly FallbackMode = "internal_only"

// UserAction is something only the user can do to recover.
type UserAction string

// ActionReconnectIntegration asks the user to reconnect an integration.
const ActionReconnectIntegration UserAction = "reconnect_integration"

// Attempt describes the request being recovered.
type Attempt struct {
	Query string
	// Count is the number of rate-limit retries already made.
	Count int
}

// Adjustments are request changes the caller should apply on retry.
type Adjustments struct {
	MaxMessages int `json:"max_messages,omitempty"`
}

// Recovery is the decision returned by Handle.
type Recovery struct {
	Category     Category      `json:"category"`
	ShouldRetry  bool          `json:"should_retry"`
	FallbackMode FallbackMode  `json:"fallback_mode,omitempty"`
	Message      string        `json:"message"`
	UserAction   UserAction    `json:"user_action,omitempty"`
	Adjustments  *Adjustments  `json:"adjustments,omitempty"`
	Backoff      time.Duration `json:"-"`
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Backoff returns the wait before rate-limit retry number count:
// 2^count seconds.
func Backoff(count int) time.Duration {
	if count < 0 {
		count = 0
	}
	return time.Duration(1<<uint(count)) * time.Second
}

// Handler turns errors into recovery decisions. The zero value is not
// usable; construct with NewHandler.
type Handler struct {
	sleep  Sleeper
	logger *slog.Logger
}

// NewHandler creates a Handler. A nil sleeper uses SleepContext.
func NewHandler(logger *slog.Logger, sleep Sleeper) *Handler {
	if sleep == nil {
		sleep = SleepContext
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sleep: sleep, logger: logger}
}

// Handle classifies err and returns the recovery decision. For rate
// limits below the attempt ceiling it first waits 2^Count seconds. It
// never panics and never returns an error; if ctx is cancelled during
// the wait the retry is withdrawn.
func (h *Handler) Handle(ctx context.Context, err error, at Attempt) Recovery {
	cat := Categorize(err)
	rec := Recovery{Category: cat}

	switch cat {
	case RateLimit:
		if at.Count >= MaxRateLimitAttempts {
			rec.Message = msgServiceBusy
			break
		}
		rec.Backoff = Backoff(at.Count)
		h.logger.Debug("rate limited, backing off",
			"attempt", at.Count,
			"backoff", rec.Backoff,
		)
		if serr := h.sleep(ctx, rec.Backoff); serr != nil {
			rec.Message = msgServiceBusy
			break
		}
		rec.ShouldRetry = true
		rec.Message = msgRetrying

	case ToolFailure:
		rec.FallbackMode = FallbackInternalOnly
		rec.Message = msgToolFailure

	case ContextTooLarge:
		rec.Adjustments = &Adjustments{MaxMessages: TruncatedHistoryMessages}
		rec.Message = msgContextTooLarge

	case Authentication:
		rec.UserAction = ActionReconnectIntegration
		rec.Message = msgAuthentication

	default:
		rec.Message = FormatUserFacing(err)
	}

	return rec
}
