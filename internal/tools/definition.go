// Package tools defines the tools the assistant can call, selects the
// subset in scope for a request, and adapts them into callables for the
// model loop.
package tools

import (
	"fmt"

	"github.com/nugget/huddle/internal/intent"
)

// HandlerKind selects how a tool's backend binding is invoked.
type HandlerKind string

const (
	// KindRead is a non-mutating fetch.
	KindRead HandlerKind = "read"

	// KindWrite mutates workspace data.
	KindWrite HandlerKind = "write"

	// KindAction may call out to a third party and can take seconds.
	KindAction HandlerKind = "long_running_action"
)

// Valid reports whether k is a known handler kind.
func (k HandlerKind) Valid() bool {
	switch k {
	case KindRead, KindWrite, KindAction:
		return true
	}
	return false
}

// Binding is an opaque reference to a backend operation, e.g.
// "tasks:getMyTasks".
type Binding string

// ContextRequirements lists identity fields injected on every call.
type ContextRequirements struct {
	NeedsWorkspaceID bool `json:"needs_workspace_id"`
	NeedsUserID      bool `json:"needs_user_id"`
}

// Property describes one tool parameter.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Schema is the JSON-Schema-like parameter contract of a tool.
type Schema struct {
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// JSONSchema renders the schema as a JSON-Schema object.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
	}
	out := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(s.Required) > 0 {
		out["required"] = append([]string(nil), s.Required...)
	}
	return out
}

// Definition is the static descriptor of one tool.
type Definition struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Parameters  Schema              `json:"parameters"`
	Kind        HandlerKind         `json:"kind"`
	Binding     Binding             `json:"binding"`
	Context     ContextRequirements `json:"context"`

	// ExternalApp is empty for internal (workspace-data) tools.
	ExternalApp intent.App `json:"external_app,omitempty"`
}

// External reports whether the tool belongs to a third-party integration.
func (d Definition) External() bool {
	return d.ExternalApp != ""
}

// Spec returns the OpenAI-style function declaration sent to the model.
func (d Definition) Spec() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters.JSONSchema(),
		},
	}
}

func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("tool has no name")
	}
	if d.Binding == "" {
		return fmt.Errorf("tool %q has no binding", d.Name)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("tool %q has unknown handler kind %q", d.Name, d.Kind)
	}
	if d.External() && !d.ExternalApp.Valid() {
		return fmt.Errorf("tool %q has unknown external app %q", d.Name, d.ExternalApp)
	}
	for _, r := range d.Parameters.Required {
		if _, ok := d.Parameters.Properties[r]; !ok {
			return fmt.Errorf("tool %q requires undeclared parameter %q", d.Name, r)
		}
	}
	return nil
}
