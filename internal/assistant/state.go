package assistant

// State is a stage of the per-request state machine.
type State int

const (
	StateIdle State = iota
	StateResolvingIdentity
	StateLoadingHistory
	StateBuildingPrompt
	StateModelStepLoop
	StatePersisting
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateIdle:              "idle",
	StateResolvingIdentity: "resolving_identity",
	StateLoadingHistory:    "loading_history",
	StateBuildingPrompt:    "building_prompt",
	StateModelStepLoop:     "model_step_loop",
	StatePersisting:        "persisting",
	StateDone:              "done",
	StateErrored:           "errored",
}

// String returns the snake_case state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventType discriminates Event.
type EventType string

const (
	EventState    EventType = "state"
	EventStep     EventType = "step"
	EventToolCall EventType = "tool_call"
	EventRecovery EventType = "recovery"
)

// Event reports progress of one request. Fields not relevant to Type
// are zero.
type Event struct {
	Type           EventType `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	StreamID       string    `json:"stream_id,omitempty"`
	State          State     `json:"state"`
	Step           int       `json:"step,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	ToolError      string    `json:"tool_error,omitempty"`
	Category       string    `json:"category,omitempty"`
	Message        string    `json:"message,omitempty"`
}

// Observer receives events synchronously on the request goroutine. It
// must not block.
type Observer func(Event)
