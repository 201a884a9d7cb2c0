// Package api implements the assistant's HTTP and WebSocket API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nugget/huddle/internal/assistant"
	"github.com/nugget/huddle/internal/buildinfo"
	"github.com/nugget/huddle/internal/connwatch"
	"github.com/nugget/huddle/internal/failure"
	"github.com/nugget/huddle/internal/outcome"
	"github.com/nugget/huddle/internal/store"
)

// UserHeader carries the caller's authenticated user ID. It is set by
// the upstream auth proxy and used only when a request names no user.
const UserHeader = "X-Huddle-User"

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Assistant serves messages. *assistant.Orchestrator implements it.
type Assistant interface {
	SendMessage(ctx context.Context, req assistant.Request) *assistant.Result
	Abort(conversationID string) bool
}

// Conversations is the read side of the conversation store plus
// explicit creation. *store.Store implements it.
type Conversations interface {
	CreateConversation(ctx context.Context, externalKey, workspaceID, userID string) (*store.Conversation, error)
	EnsureConversation(ctx context.Context, workspaceID, userID string, forceNew bool) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// OutcomeReports aggregates logged outcomes. *outcome.Store implements
// it.
type OutcomeReports interface {
	Summary(ctx context.Context, start, end time.Time) (*outcome.Summary, error)
	SummaryByCategory(ctx context.Context, start, end time.Time) (map[string]*outcome.Summary, error)
	SummaryByPath(ctx context.Context, start, end time.Time) (map[string]*outcome.Summary, error)
}

// Health reports the reachability of upstream services.
// *connwatch.Monitor implements it.
type Health interface {
	Status() []connwatch.ServiceStatus
	Healthy() bool
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	assistant     Assistant
	conversations Conversations
	outcomes      OutcomeReports
	health        Health
	logger        *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	closed   bool
	inflight sync.WaitGroup // handlers still running, hijacked ones included
}

// NewServer creates a new API server.
func NewServer(address string, port int, asst Assistant, convs Conversations, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address:       address,
		port:          port,
		assistant:     asst,
		conversations: convs,
		logger:        logger.With("component", "api"),
	}
}

// SetOutcomeReports configures the store behind the outcome summary
// endpoint.
func (s *Server) SetOutcomeReports(o OutcomeReports) {
	s.outcomes = o
}

// SetHealth configures the dependency monitor reported by /health.
func (s *Server) SetHealth(h Health) {
	s.health = h
}

// Handler returns the routed handler, wrapped with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Conversations
	mux.HandleFunc("POST /v1/conversations", s.handleConversationCreate)
	mux.HandleFunc("POST /v1/conversations/{id}/messages", s.handleMessageSend)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleMessageList)
	mux.HandleFunc("POST /v1/conversations/{id}/abort", s.handleAbort)
	mux.HandleFunc("GET /v1/conversations/{id}/stream", s.handleStream)

	// Reliability
	mux.HandleFunc("GET /v1/outcomes/summary", s.handleOutcomeSummary)

	// Health endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests. It returns when the server stops,
// or immediately if Shutdown was already called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// A request may run five model steps plus tool calls.
		WriteTimeout: 300 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	srv := s.server
	s.mu.Unlock()

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits until every running
// handler has returned, including WebSocket streams, or ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight requests: %w", ctx.Err())
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.inflight.Add(1)
		defer s.inflight.Done()

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Huddle assistant",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Current(), s.logger)
}

// handleHealth always answers 200 while the process serves; a down
// dependency marks the assistant degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.health == nil {
		writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
		return
	}
	status := "healthy"
	if !s.health.Healthy() {
		status = "degraded"
	}
	writeJSON(w, map[string]any{
		"status":   status,
		"services": s.health.Status(),
	}, s.logger)
}

// CreateConversationRequest opens or reuses a conversation.
type CreateConversationRequest struct {
	ExternalKey string `json:"external_key,omitempty"`
	WorkspaceID string `json:"workspace_id"`
	UserID      string `json:"user_id,omitempty"`
	ForceNew    bool   `json:"force_new,omitempty"`
}

// handleConversationCreate opens a conversation.
// POST /v1/conversations {"workspace_id": "ws-1", "user_id": "u-1"}
func (s *Server) handleConversationCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(UserHeader)
	}
	if req.WorkspaceID == "" || req.UserID == "" {
		s.errorResponse(w, http.StatusBadRequest, failure.MissingContextMessage)
		return
	}

	var (
		conv *store.Conversation
		err  error
	)
	if req.ExternalKey != "" {
		conv, err = s.conversations.CreateConversation(r.Context(), req.ExternalKey, req.WorkspaceID, req.UserID)
	} else {
		conv, err = s.conversations.EnsureConversation(r.Context(), req.WorkspaceID, req.UserID, req.ForceNew)
	}
	if err != nil {
		s.logger.Error("failed to open conversation", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, conv, s.logger)
}

// SendMessageRequest is one user message. Workspace and user are
// optional when the conversation already exists.
type SendMessageRequest struct {
	Content     string `json:"content"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	ForceNew    bool   `json:"force_new,omitempty"`
}

func (m SendMessageRequest) toAssistant(conversationID, authUser string) assistant.Request {
	return assistant.Request{
		ConversationID: conversationID,
		WorkspaceID:    m.WorkspaceID,
		UserID:         m.UserID,
		Content:        m.Content,
		ForceNew:       m.ForceNew,
		AuthUserID:     authUser,
	}
}

// handleMessageSend serves one message and returns the result.
// POST /v1/conversations/{id}/messages {"content": "what's due today?"}
func (s *Server) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.errorResponse(w, http.StatusBadRequest, "content is required")
		return
	}

	res := s.assistant.SendMessage(r.Context(), req.toAssistant(r.PathValue("id"), r.Header.Get(UserHeader)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFor(res))
	writeJSON(w, res, s.logger)
}

// statusFor maps a result to an HTTP status. Failures the assistant
// handled are still 200; the body carries success=false.
func statusFor(res *assistant.Result) int {
	if !res.Success && res.Metadata != nil && res.Metadata.ExecutionPath == assistant.PathMissingContext {
		return http.StatusBadRequest
	}
	return http.StatusOK
}

// MessageListResponse is a conversation with its history.
type MessageListResponse struct {
	Conversation *store.Conversation `json:"conversation"`
	Messages     []store.Message     `json:"messages"`
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookupConversation(w, r)
	if !ok {
		return
	}
	msgs, err := s.conversations.ListMessages(r.Context(), conv.ID)
	if err != nil {
		s.logger.Error("failed to list messages", "conversation", conv.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, MessageListResponse{Conversation: conv, Messages: msgs}, s.logger)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	conv, ok := s.lookupConversation(w, r)
	if !ok {
		return
	}
	aborted := s.assistant.Abort(conv.ID)
	s.logger.Info("abort requested", "conversation", conv.ID, "aborted", aborted)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation_id": conv.ID,
		"aborted":         aborted,
	}, s.logger)
}

// lookupConversation resolves the {id} path value, writing a 404 or 500
// and returning false when it cannot.
func (s *Server) lookupConversation(w http.ResponseWriter, r *http.Request) (*store.Conversation, bool) {
	id := r.PathValue("id")
	conv, err := s.conversations.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to load conversation", "id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return nil, false
	}
	return conv, true
}

// OutcomeSummaryResponse aggregates outcomes over a trailing window.
type OutcomeSummaryResponse struct {
	WindowHours int                         `json:"window_hours"`
	Total       *outcome.Summary            `json:"total"`
	ByCategory  map[string]*outcome.Summary `json:"by_category"`
	ByPath      map[string]*outcome.Summary `json:"by_path"`
}

// handleOutcomeSummary reports outcome totals for the last N hours.
// GET /v1/outcomes/summary?hours=24
func (s *Server) handleOutcomeSummary(w http.ResponseWriter, r *http.Request) {
	if s.outcomes == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "outcome store not configured")
		return
	}
	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.outcomes.Summary(r.Context(), start, end)
	if err != nil {
		s.logger.Error("outcome summary failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize outcomes")
		return
	}
	byCat, err := s.outcomes.SummaryByCategory(r.Context(), start, end)
	if err != nil {
		s.logger.Error("outcome summary by category failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize outcomes")
		return
	}
	byPath, err := s.outcomes.SummaryByPath(r.Context(), start, end)
	if err != nil {
		s.logger.Error("outcome summary by path failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to summarize outcomes")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, OutcomeSummaryResponse{
		WindowHours: hours,
		Total:       total,
		ByCategory:  byCat,
		ByPath:      byPath,
	}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}

func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return defaultVal
	}
	return n
}
