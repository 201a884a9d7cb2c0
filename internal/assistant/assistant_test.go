package assistant

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nugget/huddle/internal/failure"
	"github.com/nugget/huddle/internal/intent"
	"github.com/nugget/huddle/internal/llm"
	"github.com/nugget/huddle/internal/outcome"
	"github.com/nugget/huddle/internal/store"
	"github.com/nugget/huddle/internal/tools"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}, Deps{Store: &store.Store{}, Invoker: &fakeInvoker{}}); err == nil {
		t.Error("missing LLM should be an error")
	}
	if _, err := New(Config{}, Deps{LLM: &scriptedLLM{}, Invoker: &fakeInvoker{}}); err == nil {
		t.Error("missing store should be an error")
	}
	if _, err := New(Config{}, Deps{LLM: &scriptedLLM{}, Store: &store.Store{}}); err == nil {
		t.Error("missing invoker should be an error")
	}
}

func TestSendMessage_WorkspaceQuery(t *testing.T) {
	h := newHarness(t,
		toolCall("get_my_tasks", map[string]any{"due": "today", "userId": "forged"}),
		text("You have 2 tasks due today."),
	)

	res := h.orch.SendMessage(t.Context(), Request{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Content:     "What are my tasks today?",
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	if res.Content != "You have 2 tasks due today." {
		t.Errorf("Content = %q", res.Content)
	}

	meta := res.Metadata
	if meta.ExecutionPath != PathWorkspace {
		t.Errorf("ExecutionPath = %q, want %q", meta.ExecutionPath, PathWorkspace)
	}
	if meta.Steps != 2 {
		t.Errorf("Steps = %d, want 2", meta.Steps)
	}
	if !slices.Equal(meta.ToolsUsed, []string{"get_my_tasks"}) {
		t.Errorf("ToolsUsed = %v", meta.ToolsUsed)
	}
	if !meta.UsedTools.Internal || meta.UsedTools.External {
		t.Errorf("UsedTools = %+v, want internal only", meta.UsedTools)
	}
	if !meta.EnabledTools.Internal || len(meta.EnabledTools.External) != 0 {
		t.Errorf("EnabledTools = %+v, want internal only", meta.EnabledTools)
	}
	if meta.Intent.RequiresExternalTools {
		t.Error("Intent.RequiresExternalTools = true for a workspace question")
	}
	if meta.InputTokens != 20 || meta.OutputTokens != 10 {
		t.Errorf("tokens = %d/%d, want 20/10", meta.InputTokens, meta.OutputTokens)
	}

	// Only internal tools were offered.
	first := h.llm.call(0)
	if got, want := len(first.tools), len(tools.Internal(tools.DefaultCatalog())); got != want {
		t.Errorf("offered %d tools, want %d internal", got, want)
	}
	if first.messages[0].Role != llm.RoleSystem || !strings.Contains(first.messages[0].Content, "not available for this message") {
		t.Error("first message should be the workspace-only system prompt")
	}

	// The tool result was fed back before the second step.
	second := h.llm.call(1)
	last := second.messages[len(second.messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "call_get_my_tasks" {
		t.Errorf("last message of step 2 = %+v, want the tool result", last)
	}

	// Identity was injected, overriding the model's value.
	if h.invoker.calls[0].args[tools.ArgUserID] != "user-1" {
		t.Errorf("userId = %v, want injected user-1", h.invoker.calls[0].args[tools.ArgUserID])
	}

	msgs := h.messages(t, meta.ConversationID)
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Role != store.RoleAssistant {
		t.Fatalf("persisted messages = %+v, want user then assistant", msgs)
	}
	if msgs[1].Content != res.Content {
		t.Errorf("assistant message = %q", msgs[1].Content)
	}

	calls, err := h.store.ListToolCalls(t.Context(), meta.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 1 || calls[0].ToolName != "get_my_tasks" || calls[0].StreamID != meta.StreamID {
		t.Errorf("tool calls = %+v", calls)
	}

	if got := h.streamStatus(t, meta.ConversationID); got != store.StreamCompleted {
		t.Errorf("stream status = %q, want completed", got)
	}

	rec := h.outcomes.last(t)
	if rec.Outcome != outcome.Success || rec.ErrorCategory != "" {
		t.Errorf("outcome = %+v, want success", rec)
	}
	if rec.WorkspaceID != "ws-1" || rec.UserID != "user-1" || rec.ConversationID != meta.ConversationID {
		t.Errorf("outcome identity = %+v", rec)
	}
	if rec.ExecutionPath != PathWorkspace {
		t.Errorf("outcome path = %q", rec.ExecutionPath)
	}
}

func TestSendMessage_IntegrationQuery(t *testing.T) {
	h := newHarness(t,
		toolCall("gmail_send_email", map[string]any{
			"to": "alice@example.com", "subject": "Roadmap", "body": "See attached plan.",
		}),
		text("Sent."),
	)

	res := h.orch.SendMessage(t.Context(), Request{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Content:     "Send an email to alice@example.com about the roadmap",
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	meta := res.Metadata
	if meta.ExecutionPath != PathIntegration {
		t.Errorf("ExecutionPath = %q, want %q", meta.ExecutionPath, PathIntegration)
	}
	if !slices.Equal(meta.EnabledTools.External, []intent.App{intent.Gmail}) {
		t.Errorf("EnabledTools.External = %v, want [gmail]", meta.EnabledTools.External)
	}
	if !meta.UsedTools.External {
		t.Error("UsedTools.External = false after a gmail call")
	}

	names := toolNames(h.llm.call(0).tools)
	if !slices.Contains(names, "gmail_send_email") {
		t.Error("gmail tool should be offered")
	}
	for _, n := range names {
		if strings.HasPrefix(n, "slack_") || strings.HasPrefix(n, "github_") {
			t.Errorf("unrequested integration tool %s offered", n)
		}
	}
	if !strings.Contains(h.llm.call(0).messages[0].Content, "The user asked for Gmail.") {
		t.Error("system prompt should grant Gmail")
	}
	if h.invoker.calls[0].binding != "gmail:sendEmail" {
		t.Errorf("binding = %q", h.invoker.calls[0].binding)
	}
}

func TestSendMessage_StepCap(t *testing.T) {
	// A model that never stops asking for tools.
	h := newHarness(t, toolCall("list_notes", map[string]any{}))

	done := make(chan *Result, 1)
	go func() {
		done <- h.orch.SendMessage(t.Context(), Request{
			WorkspaceID: "ws-1",
			UserID:      "user-1",
			Content:     "Summarize all my notes",
		})
	}()

	var res *Result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("SendMessage did not return; step loop is unbounded")
	}

	if got := h.llm.callCount(); got != MaxSteps {
		t.Errorf("model called %d times, want exactly %d", got, MaxSteps)
	}
	if !res.Success {
		t.Fatalf("Success = false, Error = %q; a capped loop still completes", res.Error)
	}
	if !res.Metadata.StepLimitReached {
		t.Error("StepLimitReached = false")
	}
	if res.Metadata.Steps != MaxSteps {
		t.Errorf("Steps = %d, want %d", res.Metadata.Steps, MaxSteps)
	}
	if !strings.Contains(res.Content, "limit of 5 steps") {
		t.Errorf("Content = %q, want the step limit summary", res.Content)
	}
	if got := h.invoker.count(); got != MaxSteps {
		t.Errorf("tool invoked %d times, want %d", got, MaxSteps)
	}
}

func TestSendMessage_StepCapKeepsBestText(t *testing.T) {
	step := toolCall("list_notes", map[string]any{})
	step.resp.Message.Content = "Here is what I found so far."
	h := newHarness(t, step)

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "notes?"})
	if res.Content != "Here is what I found so far." {
		t.Errorf("Content = %q, want the last text the model produced", res.Content)
	}
}

func TestSendMessage_EmptyReply(t *testing.T) {
	h := newHarness(t, text("   "))
	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "hi"})
	if !res.Success || res.Content != msgEmptyResponse {
		t.Errorf("result = %+v, want the empty-response fallback", res)
	}
}

func TestSendMessage_MissingContext(t *testing.T) {
	h := newHarness(t, text("should never be produced"))

	res := h.orch.SendMessage(t.Context(), Request{
		ConversationID: "brand-new-conversation",
		Content:        "hello",
	})
	if res.Success {
		t.Fatal("Success = true without workspace or user")
	}
	if res.Error != failure.MissingContextMessage {
		t.Errorf("Error = %q, want %q", res.Error, failure.MissingContextMessage)
	}
	if got := h.llm.callCount(); got != 0 {
		t.Errorf("model called %d times, want 0", got)
	}
	if _, err := h.store.GetConversation(t.Context(), "brand-new-conversation"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("conversation should not be created, GetConversation err = %v", err)
	}

	rec := h.outcomes.last(t)
	if rec.Outcome != outcome.Error || rec.ExecutionPath != PathMissingContext {
		t.Errorf("outcome = %+v, want error via %s", rec, PathMissingContext)
	}
}

func TestSendMessage_MissingWorkspaceWithAuthUser(t *testing.T) {
	h := newHarness(t, text("nope"))
	res := h.orch.SendMessage(t.Context(), Request{AuthUserID: "user-1", Content: "hello"})
	if res.Success || res.Error != failure.MissingContextMessage {
		t.Errorf("result = %+v, want missing context", res)
	}
}

func TestSendMessage_AuthenticatedUserFallback(t *testing.T) {
	h := newHarness(t, text("hi"))

	res := h.orch.SendMessage(t.Context(), Request{
		ConversationID: "ext-42",
		WorkspaceID:    "ws-1",
		AuthUserID:     "auth-user",
		Content:        "hello",
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	conv, err := h.store.GetConversation(t.Context(), "ext-42")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.UserID != "auth-user" || conv.WorkspaceID != "ws-1" {
		t.Errorf("conversation identity = %s/%s", conv.WorkspaceID, conv.UserID)
	}
	if res.Metadata.ConversationID != conv.ID {
		t.Errorf("ConversationID = %q, want %q", res.Metadata.ConversationID, conv.ID)
	}
}

func TestSendMessage_IdentityFromConversation(t *testing.T) {
	h := newHarness(t, toolCall("list_channels", map[string]any{}), text("You are in #general."))

	conv, err := h.store.CreateConversation(t.Context(), "ext-7", "ws-9", "user-9")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	res := h.orch.SendMessage(t.Context(), Request{
		ConversationID: "ext-7",
		AuthUserID:     "someone-else",
		Content:        "Which channels am I in?",
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	args := h.invoker.calls[0].args
	if args[tools.ArgWorkspaceID] != "ws-9" || args[tools.ArgUserID] != "user-9" {
		t.Errorf("injected identity = %v/%v, want the conversation's", args[tools.ArgWorkspaceID], args[tools.ArgUserID])
	}
	if res.Metadata.ConversationID != conv.ID {
		t.Errorf("ConversationID = %q, want %q", res.Metadata.ConversationID, conv.ID)
	}
}

func TestSendMessage_OneConversationPerPair(t *testing.T) {
	h := newHarness(t, text("ok"))
	req := Request{WorkspaceID: "ws-1", UserID: "user-1", Content: "hi"}

	a := h.orch.SendMessage(t.Context(), req)
	b := h.orch.SendMessage(t.Context(), req)
	if a.Metadata.ConversationID != b.Metadata.ConversationID {
		t.Errorf("conversations differ: %s vs %s", a.Metadata.ConversationID, b.Metadata.ConversationID)
	}

	// The second request saw the first exchange as history.
	if got := len(h.llm.call(1).messages); got != 4 {
		t.Errorf("second request sent %d messages, want system+2 history+user = 4", got)
	}

	req.ForceNew = true
	c := h.orch.SendMessage(t.Context(), req)
	if c.Metadata.ConversationID == a.Metadata.ConversationID {
		t.Error("ForceNew should start a new conversation")
	}
}

func TestSendMessage_DurabilityUnderFailure(t *testing.T) {
	h := newHarness(t, fails(errUnknown))

	res := h.orch.SendMessage(t.Context(), Request{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Content:     "What is on my calendar?",
	})
	if res.Success {
		t.Fatal("Success = true after model failure")
	}
	if res.Error != failure.MessageFor(failure.Unknown) {
		t.Errorf("Error = %q, want the generic message", res.Error)
	}
	if strings.Contains(res.Error, errUnknown.Error()) {
		t.Error("raw error leaked to the user")
	}

	msgs := h.messages(t, res.Metadata.ConversationID)
	if len(msgs) != 1 || msgs[0].Role != store.RoleUser || msgs[0].Content != "What is on my calendar?" {
		t.Errorf("persisted messages = %+v, want only the user message", msgs)
	}
	if got := h.streamStatus(t, res.Metadata.ConversationID); got != store.StreamFailed {
		t.Errorf("stream status = %q, want failed", got)
	}

	rec := h.outcomes.last(t)
	if rec.Outcome != outcome.Error || rec.ErrorCategory != string(failure.Unknown) {
		t.Errorf("outcome = %+v, want error/unknown", rec)
	}
}

func TestSendMessage_RateLimitRetries(t *testing.T) {
	rl := &llm.APIError{Provider: "anthropic", StatusCode: 429, Body: "Too Many Requests"}
	h := newHarness(t, fails(rl), fails(rl), fails(rl), text("Finally."))

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "hi"})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	if res.Content != "Finally." {
		t.Errorf("Content = %q", res.Content)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if !slices.Equal(h.sleeps, want) {
		t.Errorf("backoffs = %v, want %v", h.sleeps, want)
	}

	// The user message was persisted once despite the retries.
	if msgs := h.messages(t, res.Metadata.ConversationID); len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestSendMessage_RateLimitExhausted(t *testing.T) {
	h := newHarness(t, fails(&llm.APIError{Provider: "anthropic", StatusCode: 429, Body: "slow down"}))

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "hi"})
	if res.Success {
		t.Fatal("Success = true with a permanent rate limit")
	}
	if got := h.llm.callCount(); got != failure.MaxRateLimitAttempts+1 {
		t.Errorf("model called %d times, want %d", got, failure.MaxRateLimitAttempts+1)
	}
	if res.Recovery == nil || res.Recovery.Category != failure.RateLimit || res.Recovery.ShouldRetry {
		t.Errorf("Recovery = %+v, want final rate_limit decision", res.Recovery)
	}
	if rec := h.outcomes.last(t); rec.ErrorCategory != string(failure.RateLimit) {
		t.Errorf("outcome category = %q", rec.ErrorCategory)
	}
}

func TestSendMessage_ToolFailureFallsBackToInternal(t *testing.T) {
	h := newHarness(t,
		toolCall("gmail_send_email", map[string]any{"to": "a@example.com", "subject": "s", "body": "b"}),
		text("I couldn't reach Gmail, but here is your roadmap summary."),
	)
	h.invoker.errs["gmail:sendEmail"] = errors.New("smtp: 535 bad credentials")

	res := h.orch.SendMessage(t.Context(), Request{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Content:     "Email the roadmap to alice via gmail",
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	if res.Metadata.ExecutionPath != PathFallback {
		t.Errorf("ExecutionPath = %q, want %q", res.Metadata.ExecutionPath, PathFallback)
	}

	retry := h.llm.call(1)
	for _, n := range toolNames(retry.tools) {
		if strings.HasPrefix(n, "gmail_") {
			t.Errorf("fallback still offers %s", n)
		}
	}
	if !strings.Contains(retry.messages[0].Content, "not available for this message") {
		t.Error("fallback should use the workspace-only prompt")
	}
	if res.Metadata.UsedTools.External {
		t.Error("metadata should describe the fallback attempt")
	}

	// The failed call is still on record.
	calls, err := h.store.ListToolCalls(t.Context(), res.Metadata.ConversationID, 10)
	if err != nil {
		t.Fatalf("ListToolCalls: %v", err)
	}
	if len(calls) != 1 || calls[0].Error == "" {
		t.Errorf("tool calls = %+v, want one failed gmail call", calls)
	}

	if msgs := h.messages(t, res.Metadata.ConversationID); len(msgs) != 2 {
		t.Errorf("persisted %d messages, want 2", len(msgs))
	}
}

func TestSendMessage_InternalToolFailureIsTerminal(t *testing.T) {
	h := newHarness(t, toolCall("get_my_tasks", map[string]any{}), text("unreachable"))
	h.invoker.errs["tasks:getMyTasks"] = errors.New("backend function tasks:getMyTasks: boom")

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "my tasks?"})
	if res.Success {
		t.Fatal("Success = true after internal tool failure")
	}
	if got := h.llm.callCount(); got != 1 {
		t.Errorf("model called %d times, want 1 (no fallback without integrations)", got)
	}
	if res.Recovery == nil || res.Recovery.FallbackMode != failure.FallbackInternalOnly {
		t.Errorf("Recovery = %+v, want the tool_failure decision", res.Recovery)
	}
	if res.Error != failure.MessageFor(failure.ToolFailure) {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestSendMessage_ContextTooLargeTruncates(t *testing.T) {
	h := newHarness(t,
		fails(&llm.APIError{Provider: "anthropic", StatusCode: 400, Body: "prompt is too long: 210000 tokens > 200000 maximum"}),
		text("Short answer."),
	)

	conv, err := h.store.CreateConversation(t.Context(), "long", "w", "u")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for i := range 30 {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		if _, err := h.store.AppendMessage(t.Context(), conv.ID, role, "filler"); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	res := h.orch.SendMessage(t.Context(), Request{ConversationID: conv.ID, Content: "and now?"})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}
	if res.Metadata.ExecutionPath != PathTruncated {
		t.Errorf("ExecutionPath = %q, want %q", res.Metadata.ExecutionPath, PathTruncated)
	}
	if got, want := len(h.llm.call(0).messages), 1+30+1; got != want {
		t.Errorf("first attempt sent %d messages, want %d", got, want)
	}
	if got, want := len(h.llm.call(1).messages), 1+failure.TruncatedHistoryMessages+1; got != want {
		t.Errorf("truncated attempt sent %d messages, want %d", got, want)
	}
}

func TestSendMessage_AuthenticationSurfacesUserAction(t *testing.T) {
	h := newHarness(t, fails(errors.New("unauthorized: please reconnect")))

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "w", UserID: "u", Content: "hi"})
	if res.Success {
		t.Fatal("Success = true after auth failure")
	}
	if res.Recovery == nil || res.Recovery.UserAction != failure.ActionReconnectIntegration {
		t.Errorf("Recovery = %+v, want reconnect_integration", res.Recovery)
	}
	if got := h.llm.callCount(); got != 1 {
		t.Errorf("model called %d times, want 1", got)
	}
}

func TestSendMessage_Abort(t *testing.T) {
	var h *harness
	step := toolCall("list_notes", map[string]any{})
	step.before = func() {
		if !h.orch.Abort(h.convID) {
			t.Error("Abort() = false while a request is running")
		}
	}
	h = newHarness(t, step, text("too late"))

	conv, err := h.store.CreateConversation(t.Context(), "abortable", "w", "u")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	h.convID = conv.ID

	res := h.orch.SendMessage(t.Context(), Request{ConversationID: conv.ID, Content: "list my notes"})
	if res.Success {
		t.Fatal("Success = true after abort")
	}
	if res.Error != msgAborted {
		t.Errorf("Error = %q", res.Error)
	}
	if got := h.llm.callCount(); got != 1 {
		t.Errorf("model called %d times, want 1 (the started step completes)", got)
	}
	if got := h.invoker.count(); got != 1 {
		t.Errorf("tool invoked %d times, want 1", got)
	}
	if got := h.streamStatus(t, conv.ID); got != store.StreamAborted {
		t.Errorf("stream status = %q, want aborted", got)
	}
	if msgs := h.messages(t, conv.ID); len(msgs) != 1 {
		t.Errorf("persisted %d messages, want only the user message", len(msgs))
	}
	if h.orch.Active(conv.ID) {
		t.Error("request still registered after it returned")
	}
	if h.orch.Abort(conv.ID) {
		t.Error("Abort() = true with nothing running")
	}
}

func TestSendMessage_Observer(t *testing.T) {
	h := newHarness(t, toolCall("list_notes", map[string]any{}), text("done"))

	var states []State
	var toolEvents, stepEvents int
	res := h.orch.SendMessage(t.Context(), Request{
		WorkspaceID: "w",
		UserID:      "u",
		Content:     "notes",
		Observer: func(ev Event) {
			switch ev.Type {
			case EventState:
				states = append(states, ev.State)
			case EventToolCall:
				toolEvents++
			case EventStep:
				stepEvents++
			}
		},
	})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}

	want := []State{
		StateResolvingIdentity,
		StateLoadingHistory,
		StateBuildingPrompt,
		StateModelStepLoop,
		StatePersisting,
		StateDone,
	}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}
	if toolEvents != 1 || stepEvents != 2 {
		t.Errorf("tool events = %d, step events = %d; want 1 and 2", toolEvents, stepEvents)
	}
}

func toolNames(specs []map[string]any) []string {
	var out []string
	for _, s := range specs {
		fn, _ := s["function"].(map[string]any)
		if name, ok := fn["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out
}

// historyFailStore fails every ListMessages call.
type historyFailStore struct {
	*store.Store
	err error
}

func (s historyFailStore) ListMessages(context.Context, string) ([]store.Message, error) {
	return nil, s.err
}

func TestSendMessage_StoreFailureCategoryMatchesMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want failure.Category
	}{
		{"deadline", errors.New("query messages: context deadline exceeded"), failure.ContextTooLarge},
		{"locked", errors.New("database is locked"), failure.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, text("unused"))
			orch, err := New(Config{Model: "test-model"}, Deps{
				LLM:      h.llm,
				Store:    historyFailStore{Store: h.store, err: tt.err},
				Invoker:  h.invoker,
				Outcomes: h.outcomes,
				Logger:   discardLogger(),
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}

			res := orch.SendMessage(t.Context(), Request{WorkspaceID: "ws-1", UserID: "user-1", Content: "hi"})
			if res.Success {
				t.Fatal("Success = true with a failing store")
			}
			rec := h.outcomes.last(t)
			if rec.ErrorCategory != string(tt.want) {
				t.Errorf("ErrorCategory = %q, want %q", rec.ErrorCategory, tt.want)
			}
			if res.Error != failure.MessageFor(failure.Category(rec.ErrorCategory)) {
				t.Errorf("Error = %q, want the %s message", res.Error, rec.ErrorCategory)
			}
			if h.llm.callCount() != 0 {
				t.Errorf("LLM calls = %d, want 0", h.llm.callCount())
			}
		})
	}
}

func TestSendMessage_FillsMissingToolCallIDs(t *testing.T) {
	noID := toolCall("get_my_tasks", nil)
	noID.resp.Message.ToolCalls[0].ID = ""
	h := newHarness(t, noID, text("Done."))

	res := h.orch.SendMessage(t.Context(), Request{WorkspaceID: "ws-1", UserID: "user-1", Content: "what is due?"})
	if !res.Success {
		t.Fatalf("Success = false, Error = %q", res.Error)
	}

	msgs := h.llm.call(1).messages
	var callID, resultID string
	for _, m := range msgs {
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) == 1 {
			callID = m.ToolCalls[0].ID
		}
		if m.Role == llm.RoleTool {
			resultID = m.ToolCallID
		}
	}
	if callID == "" {
		t.Fatal("tool call sent back without an ID")
	}
	if resultID != callID {
		t.Errorf("tool result ID = %q, want %q", resultID, callID)
	}
}
