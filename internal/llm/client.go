package llm

import "context"

// Client is the interface that all providers must implement.
type Client interface {
	// Chat sends one chat completion request and returns the model's
	// turn, which may request tool calls.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
