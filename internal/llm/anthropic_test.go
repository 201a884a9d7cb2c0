package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are a workspace assistant."},
		{Role: RoleUser, Content: "Hello!"},
		{Role: RoleAssistant, Content: "Hi there!"},
		{Role: RoleUser, Content: "What are my tasks?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a workspace assistant." {
		t.Errorf("system = %q, want extracted system prompt", system)
	}
	if len(result) != 3 {
		t.Fatalf("len(result) = %d, want 3 (no system)", len(result))
	}
	if result[0].Role != RoleUser {
		t.Errorf("result[0].Role = %s, want user", result[0].Role)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Create two tasks."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{ID: "toolu_1", Function: ToolFunction{Name: "create_task", Arguments: map[string]any{"title": "a"}}},
				{ID: "toolu_2", Function: ToolFunction{Name: "create_task", Arguments: map[string]any{"title": "b"}}},
			},
		},
		{Role: RoleTool, Content: `{"id":"t1"}`, ToolCallID: "toolu_1"},
		{Role: RoleTool, Content: `{"id":"t2"}`, ToolCallID: "toolu_2"},
	}

	result, _ := convertToAnthropic(messages)

	// user, assistant with tool_use, one user turn with both tool_results
	if len(result) != 3 {
		t.Fatalf("len(result) = %d, want 3", len(result))
	}

	blocks, ok := result[1].Content.([]anthropicContent)
	if !ok {
		t.Fatal("assistant content should be []anthropicContent")
	}
	if len(blocks) != 2 || blocks[0].Type != "tool_use" || blocks[0].ID != "toolu_1" {
		t.Errorf("assistant blocks = %+v", blocks)
	}

	results, ok := result[2].Content.([]anthropicContent)
	if !ok {
		t.Fatal("tool result content should be []anthropicContent")
	}
	if len(results) != 2 {
		t.Fatalf("tool_result blocks = %d, want 2", len(results))
	}
	if results[1].ToolUseID != "toolu_2" || results[1].Content != `{"id":"t2"}` {
		t.Errorf("second tool_result = %+v", results[1])
	}
}

func TestConvertToAnthropic_MissingToolCallIDs(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "Create two tasks."},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{
				{Function: ToolFunction{Name: "create_task"}},
				{Function: ToolFunction{Name: "create_task"}},
			},
		},
		{Role: RoleTool, Content: `{"id":"t1"}`},
		{Role: RoleTool, Content: `{"id":"t2"}`},
	}

	result, _ := convertToAnthropic(messages)
	if len(result) != 3 {
		t.Fatalf("len(result) = %d, want 3", len(result))
	}
	uses := result[1].Content.([]anthropicContent)
	results := result[2].Content.([]anthropicContent)
	for i := range uses {
		if uses[i].ID == "" {
			t.Errorf("tool_use %d has no ID", i)
		}
		if results[i].ToolUseID != uses[i].ID {
			t.Errorf("tool_result %d ToolUseID = %q, want %q", i, results[i].ToolUseID, uses[i].ID)
		}
	}
	if uses[0].ID == uses[1].ID {
		t.Errorf("tool_use IDs collide: %q", uses[0].ID)
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "get_note",
				"description": "Read a note",
				"parameters":  map[string]any{"type": "object"},
			},
		},
		{"type": "function"}, // malformed, skipped
	}
	got := convertToolsToAnthropic(tools)
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Name != "get_note" || got[0].Description != "Read a note" {
		t.Errorf("tool = %+v", got[0])
	}
	if convertToolsToAnthropic(nil) != nil {
		t.Error("nil tools should convert to nil")
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	var gotReq anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("x-api-key = %q, want test-key", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicAPIVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Looking that up."},
				{"type": "tool_use", "id": "toolu_9", "name": "get_my_tasks", "input": {"due": "today"}}
			],
			"usage": {"input_tokens": 120, "output_tokens": 30}
		}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("test-key", 0.3, nil)
	c.url = srv.URL

	resp, err := c.Chat(context.Background(), "claude-test", []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "What are my tasks today?"},
	}, []map[string]any{{"type": "function", "function": map[string]any{"name": "get_my_tasks"}}})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if gotReq.System != "sys" {
		t.Errorf("request system = %q, want sys", gotReq.System)
	}
	if gotReq.Temperature == nil || *gotReq.Temperature != 0.3 {
		t.Errorf("request temperature = %v, want 0.3", gotReq.Temperature)
	}
	if len(gotReq.Tools) != 1 {
		t.Errorf("request tools = %d, want 1", len(gotReq.Tools))
	}

	if resp.Message.Content != "Looking that up." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.ID != "toolu_9" || tc.Function.Name != "get_my_tasks" || tc.Function.Arguments["due"] != "today" {
		t.Errorf("ToolCall = %+v", tc)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 30 {
		t.Errorf("tokens = %d/%d, want 120/30", resp.InputTokens, resp.OutputTokens)
	}
	if resp.StopReason != "tool_use" {
		t.Errorf("StopReason = %q, want tool_use", resp.StopReason)
	}
}

func TestAnthropicClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient("k", 0, nil)
	c.url = srv.URL

	_, err := c.Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "hi"}}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Chat() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", apiErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error text %q should include the status code", err)
	}
}
