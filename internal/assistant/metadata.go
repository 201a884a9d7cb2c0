package assistant

import (
	"github.com/nugget/huddle/internal/failure"
	"github.com/nugget/huddle/internal/intent"
)

// Execution paths recorded on results and outcome logs.
const (
	PathWorkspace      = "workspace"
	PathIntegration    = "integration"
	PathFallback       = "fallback_internal_only"
	PathTruncated      = "truncated_history"
	PathMissingContext = "missing_context"
	PathAborted        = "aborted"
)

// EnabledTools lists the tool categories offered to the model.
type EnabledTools struct {
	Internal bool         `json:"internal"`
	External []intent.App `json:"external"`
}

// UsedTools reports which tool categories were actually called.
type UsedTools struct {
	Internal bool `json:"internal"`
	External bool `json:"external"`
}

// Metadata describes how a request was served.
type Metadata struct {
	ConversationID   string        `json:"conversation_id"`
	StreamID         string        `json:"stream_id"`
	Intent           intent.Intent `json:"intent"`
	EnabledTools     EnabledTools  `json:"enabled_tool_categories"`
	UsedTools        UsedTools     `json:"used_tool_categories"`
	ToolsUsed        []string      `json:"tools_used"`
	Steps            int           `json:"steps"`
	StepLimitReached bool          `json:"step_limit_reached,omitempty"`
	ExecutionPath    string        `json:"execution_path"`
	Model            string        `json:"model"`
	InputTokens      int           `json:"input_tokens"`
	OutputTokens     int           `json:"output_tokens"`
}

// Result is the response to SendMessage. On failure Error holds a
// user-safe sentence and Recovery, when present, the decision that
// ended the request.
type Result struct {
	Success  bool              `json:"success"`
	Content  string            `json:"content,omitempty"`
	Error    string            `json:"error,omitempty"`
	Metadata *Metadata         `json:"metadata,omitempty"`
	Recovery *failure.Recovery `json:"recovery,omitempty"`
}
