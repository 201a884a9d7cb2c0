// Package assistant drives one assistant request from an inbound user
// message to a persisted reply: identity resolution, history, prompt,
// a bounded tool-calling loop against the language model, persistence,
// recovery from classified failures and outcome logging.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/huddle/internal/failure"
	"github.com/nugget/huddle/internal/intent"
	"github.com/nugget/huddle/internal/llm"
	"github.com/nugget/huddle/internal/outcome"
	"github.com/nugget/huddle/internal/store"
	"github.com/nugget/huddle/internal/tools"
)

// ConversationStore is the persistence the orchestrator needs.
// *store.Store implements it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, externalKey, workspaceID, userID string) (*store.Conversation, error)
	EnsureConversation(ctx context.Context, workspaceID, userID string, forceNew bool) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	AppendMessage(ctx context.Context, conversationID, role, content string) (*store.Message, error)
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
	SaveStreamState(ctx context.Context, st store.StreamState) error
	RecordToolCall(ctx context.Context, tc store.ToolCall) error
}

// Config holds orchestrator settings.
type Config struct {
	// Model is passed to the LLM client on every step.
	Model string
}

// Deps are the orchestrator's collaborators. LLM, Store and Invoker
// are required.
type Deps struct {
	LLM        llm.Client
	Store      ConversationStore
	Invoker    tools.Invoker
	Outcomes   outcome.Recorder   // nil discards outcomes
	Classifier *intent.Classifier // nil uses intent.Default()
	Catalog    *tools.Catalog     // nil uses tools.DefaultCatalog()
	Recovery   *failure.Handler   // nil uses a handler with real sleeps
	Logger     *slog.Logger
}

// Request is one inbound user message.
type Request struct {
	// ConversationID is a conversation ID or external key. Empty means
	// the (workspace, user) pair's current conversation.
	ConversationID string `json:"conversation_id,omitempty"`
	WorkspaceID    string `json:"workspace_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Content        string `json:"content"`
	ForceNew       bool   `json:"force_new,omitempty"`

	// AuthUserID is the caller's authenticated identity, used only when
	// no user can be resolved otherwise.
	AuthUserID string `json:"-"`

	// Observer, if set, receives progress events.
	Observer Observer `json:"-"`
}

// Orchestrator serves assistant requests. It is safe for concurrent
// use; each request runs on the caller's goroutine.
type Orchestrator struct {
	model      string
	llm        llm.Client
	store      ConversationStore
	invoker    tools.Invoker
	outcomes   outcome.Recorder
	classifier *intent.Classifier
	catalog    *tools.Catalog
	recovery   *failure.Handler
	logger     *slog.Logger
	aborts     *aborts
	now        func() time.Time
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.LLM == nil {
		return nil, errors.New("assistant: LLM client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("assistant: conversation store is required")
	}
	if deps.Invoker == nil {
		return nil, errors.New("assistant: tool invoker is required")
	}
	o := &Orchestrator{
		model:      cfg.Model,
		llm:        deps.LLM,
		store:      deps.Store,
		invoker:    deps.Invoker,
		outcomes:   deps.Outcomes,
		classifier: deps.Classifier,
		catalog:    deps.Catalog,
		recovery:   deps.Recovery,
		logger:     deps.Logger,
		aborts:     newAborts(),
		now:        time.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "assistant")
	if o.classifier == nil {
		o.classifier = intent.Default()
	}
	if o.catalog == nil {
		o.catalog = tools.DefaultCatalog()
	}
	if o.recovery == nil {
		o.recovery = failure.NewHandler(o.logger, nil)
	}
	return o, nil
}

// Abort stops the in-flight request for conversationID at its next step
// boundary. It reports whether a request was running.
func (o *Orchestrator) Abort(conversationID string) bool {
	return o.aborts.abort(conversationID)
}

// Active reports whether a request is running for conversationID.
func (o *Orchestrator) Active(conversationID string) bool {
	return o.aborts.active(conversationID)
}

// run is the mutable state of one request.
type run struct {
	req      Request
	streamID string
	started  time.Time
	state    State
	conv     *store.Conversation
	ident    tools.Identity
	meta     Metadata
	streamed bool // a stream state row exists
}

// turn is one attempt at the model phase. Recovery produces a modified
// turn and runs it again.
type turn struct {
	history       []store.Message
	defs          []tools.Definition
	apps          []intent.App
	allowExternal bool
	path          string
}

// SendMessage serves one user message. It never returns nil and never
// panics on collaborator errors; failures are reported in the Result
// with a user-safe message. An outcome record is logged for every
// request.
func (o *Orchestrator) SendMessage(ctx context.Context, req Request) *Result {
	r := &run{
		req:      req,
		streamID: newStreamID(),
		started:  o.now(),
		state:    StateIdle,
	}
	r.meta = Metadata{
		ConversationID: req.ConversationID,
		StreamID:       r.streamID,
		Model:          o.model,
		ToolsUsed:      []string{},
	}

	res, category := o.serve(ctx, r)
	o.logOutcome(r, res, category)
	return res
}

func (o *Orchestrator) serve(ctx context.Context, r *run) (*Result, failure.Category) {
	o.enter(r, StateResolvingIdentity)
	if err := o.resolveIdentity(ctx, r); err != nil {
		if errors.Is(err, failure.ErrMissingContext) {
			r.meta.ExecutionPath = PathMissingContext
		}
		return o.fail(ctx, r, err, nil)
	}
	ctx = tools.WithConversationID(ctx, r.conv.ID)

	abortCtx, release := o.aborts.register(ctx, r.conv.ID)
	defer release()

	o.enter(r, StateLoadingHistory)
	history, err := o.store.ListMessages(ctx, r.conv.ID)
	if err != nil {
		return o.fail(ctx, r, fmt.Errorf("load history: %w", err), nil)
	}

	// The user's input is durable before the model sees it.
	if _, err := o.store.AppendMessage(ctx, r.conv.ID, store.RoleUser, r.req.Content); err != nil {
		return o.fail(ctx, r, fmt.Errorf("persist user message: %w", err), nil)
	}
	r.streamed = true
	o.saveStream(ctx, r, store.StreamStreaming, "")

	o.enter(r, StateBuildingPrompt)
	in := o.classifier.Classify(r.req.Content)
	r.meta.Intent = in
	t := turn{
		history:       history,
		defs:          tools.Select(o.catalog, in.RequestedApps),
		apps:          in.RequestedApps,
		allowExternal: in.RequiresExternalTools,
		path:          PathWorkspace,
	}
	if in.RequiresExternalTools {
		t.path = PathIntegration
	}
	o.logger.Debug("intent classified",
		"conversation", r.conv.ID,
		"mode", in.Mode,
		"apps", in.RequestedApps,
		"tools", len(t.defs),
	)

	content, rec, err := o.runWithRecovery(ctx, abortCtx, r, t)
	if errors.Is(err, errAborted) {
		return o.aborted(ctx, r), failure.Unknown
	}
	if err != nil {
		return o.fail(ctx, r, err, rec)
	}

	o.enter(r, StatePersisting)
	if _, err := o.store.AppendMessage(ctx, r.conv.ID, store.RoleAssistant, content); err != nil {
		return o.fail(ctx, r, fmt.Errorf("persist assistant message: %w", err), nil)
	}
	if err := o.store.TouchConversation(ctx, r.conv.ID, o.now()); err != nil {
		o.logger.Warn("failed to update conversation activity", "conversation", r.conv.ID, "error", err)
	}
	o.saveStream(ctx, r, store.StreamCompleted, "")

	o.enter(r, StateDone)
	meta := r.meta
	return &Result{Success: true, Content: content, Metadata: &meta}, ""
}

// resolveIdentity settles workspace and user: explicit values first,
// then the stored conversation, then (user only) the authenticated
// caller. The conversation is created once identity is known.
func (o *Orchestrator) resolveIdentity(ctx context.Context, r *run) error {
	req := r.req
	ws, user := req.WorkspaceID, req.UserID

	var conv *store.Conversation
	if req.ConversationID != "" {
		c, err := o.store.GetConversation(ctx, req.ConversationID)
		switch {
		case err == nil:
			conv = c
		case !errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("load conversation: %w", err)
		}
	}
	if conv != nil {
		if ws == "" {
			ws = conv.WorkspaceID
		}
		if user == "" {
			user = conv.UserID
		}
	}
	if user == "" {
		user = req.AuthUserID
	}
	if ws == "" || user == "" {
		o.logger.Info("cannot resolve request identity",
			"conversation", req.ConversationID,
			"has_workspace", ws != "",
			"has_user", user != "",
		)
		return failure.ErrMissingContext
	}

	if conv == nil {
		var err error
		if req.ConversationID != "" {
			conv, err = o.store.CreateConversation(ctx, req.ConversationID, ws, user)
		} else {
			conv, err = o.store.EnsureConversation(ctx, ws, user, req.ForceNew)
		}
		if err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
	}

	r.conv = conv
	r.ident = tools.Identity{WorkspaceID: ws, UserID: user}
	r.meta.ConversationID = conv.ID
	return nil
}

// runWithRecovery runs the model phase and applies recovery decisions
// until it succeeds or no recovery applies. Rate limits retry up to
// failure.MaxRateLimitAttempts times; every other recovery runs at most
// once.
func (o *Orchestrator) runWithRecovery(ctx, abortCtx context.Context, r *run, t turn) (string, *failure.Recovery, error) {
	var (
		rateRetries int
		fellBack    bool
		truncated   bool
	)
	for {
		r.meta.ExecutionPath = t.path
		content, err := o.runSteps(ctx, abortCtx, r, t)
		if err == nil {
			return content, nil, nil
		}
		if errors.Is(err, errAborted) || context.Cause(abortCtx) == errAborted {
			return "", nil, errAborted
		}
		if ctx.Err() != nil {
			// The caller went away; nothing to recover for.
			return "", nil, errAborted
		}

		rec := o.recovery.Handle(ctx, err, failure.Attempt{Query: r.req.Content, Count: rateRetries})
		o.logger.Warn("model phase failed",
			"conversation", r.conv.ID,
			"category", rec.Category,
			"path", t.path,
			"error", err,
		)
		o.emit(r, Event{Type: EventRecovery, Category: string(rec.Category), Message: rec.Message})

		switch {
		case rec.ShouldRetry:
			rateRetries++
			continue

		case rec.FallbackMode == failure.FallbackInternalOnly && !fellBack && t.allowExternal:
			fellBack = true
			t.defs = tools.Internal(o.catalog)
			t.allowExternal = false
			t.path = PathFallback
			continue

		case rec.Adjustments != nil && !truncated && len(t.history) > rec.Adjustments.MaxMessages:
			truncated = true
			t.history = t.history[len(t.history)-rec.Adjustments.MaxMessages:]
			t.path = PathTruncated
			continue
		}
		return "", &rec, err
	}
}

// aborted finishes a request stopped by Abort or caller cancellation.
func (o *Orchestrator) aborted(ctx context.Context, r *run) *Result {
	o.logger.Info("request aborted", "conversation", r.conv.ID, "steps", r.meta.Steps)
	r.meta.ExecutionPath = PathAborted
	o.saveStream(context.WithoutCancel(ctx), r, store.StreamAborted, errAborted.Error())
	o.enter(r, StateErrored)
	meta := r.meta
	return &Result{Success: false, Error: msgAborted, Metadata: &meta}
}

// fail finishes a request with a user-safe error. The returned category
// is the one the user message was chosen from, so the outcome log and
// the caller always agree.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error, rec *failure.Recovery) (*Result, failure.Category) {
	category := failure.Categorize(err)
	if rec != nil {
		category = rec.Category
	}
	msg := failure.MessageFor(category)
	if errors.Is(err, failure.ErrMissingContext) {
		category = failure.Unknown
		msg = failure.MissingContextMessage
	}

	o.logger.Error("assistant request failed",
		"conversation", r.meta.ConversationID,
		"state", r.state,
		"category", category,
		"error", err,
	)
	if r.streamed {
		o.saveStream(context.WithoutCancel(ctx), r, store.StreamFailed, err.Error())
	}
	o.enter(r, StateErrored)
	meta := r.meta
	return &Result{
		Success:  false,
		Error:    msg,
		Metadata: &meta,
		Recovery: rec,
	}, category
}

func (o *Orchestrator) logOutcome(r *run, res *Result, category failure.Category) {
	if o.outcomes == nil {
		return
	}
	rec := outcome.Record{
		WorkspaceID:    r.ident.WorkspaceID,
		UserID:         r.ident.UserID,
		ConversationID: r.meta.ConversationID,
		Outcome:        outcome.Success,
		DurationMs:     o.now().Sub(r.started).Milliseconds(),
		ExecutionPath:  r.meta.ExecutionPath,
	}
	if rec.WorkspaceID == "" {
		rec.WorkspaceID = r.req.WorkspaceID
	}
	if rec.UserID == "" {
		rec.UserID = r.req.UserID
	}
	if !res.Success {
		rec.Outcome = outcome.Error
		rec.ErrorCategory = string(category)
	}
	o.outcomes.Log(rec)
}

func (o *Orchestrator) saveStream(ctx context.Context, r *run, status store.StreamStatus, errText string) {
	err := o.store.SaveStreamState(ctx, store.StreamState{
		StreamID:       r.streamID,
		ConversationID: r.conv.ID,
		Status:         status,
		Steps:          r.meta.Steps,
		Error:          errText,
	})
	if err != nil {
		o.logger.Warn("failed to save stream state", "stream", r.streamID, "status", status, "error", err)
	}
}

func (o *Orchestrator) enter(r *run, s State) {
	o.logger.Debug("state transition",
		"stream", r.streamID,
		"from", r.state,
		"to", s,
	)
	r.state = s
	o.emit(r, Event{Type: EventState})
}

func (o *Orchestrator) emit(r *run, ev Event) {
	if r.req.Observer == nil {
		return
	}
	ev.ConversationID = r.meta.ConversationID
	ev.StreamID = r.streamID
	ev.State = r.state
	r.req.Observer(ev)
}

func newStreamID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
