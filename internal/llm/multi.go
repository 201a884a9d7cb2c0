package llm

import (
	"context"
	"fmt"
)

// MultiClient picks a provider per request from the model name. Models
// with no mapping go to the fallback client.
type MultiClient struct {
	providers map[string]Client
	routes    map[string]string // model -> provider
	fallback  Client
}

// NewMultiClient returns a MultiClient that sends unmapped models to
// fallback.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		providers: make(map[string]Client),
		routes:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers client under a provider name such as
// "anthropic" or "ollama".
func (m *MultiClient) AddProvider(name string, client Client) {
	m.providers[name] = client
}

// AddModel routes model to the named provider. A route to a provider
// that was never added falls back.
func (m *MultiClient) AddModel(model, provider string) {
	m.routes[model] = provider
}

func (m *MultiClient) route(model string) Client {
	if c, ok := m.providers[m.routes[model]]; ok {
		return c
	}
	return m.fallback
}

// Chat implements Client.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	c := m.route(model)
	if c == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return c.Chat(ctx, model, messages, tools)
}

// Ping fails if any registered provider or the fallback is unreachable.
func (m *MultiClient) Ping(ctx context.Context) error {
	if m.fallback == nil && len(m.providers) == 0 {
		return fmt.Errorf("no provider configured")
	}
	for name, c := range m.providers {
		if err := c.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if m.fallback != nil {
		return m.fallback.Ping(ctx)
	}
	return nil
}
