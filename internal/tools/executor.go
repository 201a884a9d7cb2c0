package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/nugget/huddle/internal/config"
)

// Argument names injected from the request identity. A caller-supplied
// value under either name is overwritten.
const (
	ArgWorkspaceID = "workspaceId"
	ArgUserID      = "userId"
)

// Invoker executes backend operations by binding. Query is read-only,
// Mutation changes workspace data, and Action may call third parties and
// take seconds.
type Invoker interface {
	Query(ctx context.Context, binding Binding, args map[string]any) (any, error)
	Mutation(ctx context.Context, binding Binding, args map[string]any) (any, error)
	Action(ctx context.Context, binding Binding, args map[string]any) (any, error)
}

// Identity is the resolved workspace and user a request acts for.
type Identity struct {
	WorkspaceID string
	UserID      string
}

// Executor exposes a fixed tool selection to the model loop. It is
// built per request and not shared.
type Executor struct {
	defs    []Definition
	byName  map[string]int
	invoker Invoker
	ident   Identity
	logger  *slog.Logger
}

// NewExecutor binds defs to invoker for one request acting as ident.
func NewExecutor(defs []Definition, invoker Invoker, ident Identity, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		defs:    append([]Definition(nil), defs...),
		byName:  make(map[string]int, len(defs)),
		invoker: invoker,
		ident:   ident,
		logger:  logger,
	}
	for i, d := range e.defs {
		e.byName[d.Name] = i
	}
	return e
}

// Specs returns the function declarations for the model in selection
// order.
func (e *Executor) Specs() []map[string]any {
	out := make([]map[string]any, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d.Spec())
	}
	return out
}

// Names returns the selected tool names in order.
func (e *Executor) Names() []string {
	out := make([]string, 0, len(e.defs))
	for _, d := range e.defs {
		out = append(out, d.Name)
	}
	return out
}

// Has reports whether name is in the selection.
func (e *Executor) Has(name string) bool {
	_, ok := e.byName[name]
	return ok
}

// IsExternal reports whether name is a selected third-party tool.
func (e *Executor) IsExternal(name string) bool {
	i, ok := e.byName[name]
	return ok && e.defs[i].External()
}

// Call runs the tool named name with the model's arguments and returns
// the backend result as JSON, unmodified. A name outside the selection
// yields *ErrToolUnavailable; a dispatch failure yields *ErrToolFailed.
func (e *Executor) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	i, ok := e.byName[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	d := e.defs[i]

	merged := e.inject(d, args)

	e.logger.Log(ctx, config.LevelTrace, "tool dispatch",
		"tool", d.Name,
		"binding", d.Binding,
		"kind", d.Kind,
		"conversation", ConversationIDFromContext(ctx),
	)

	var (
		raw any
		err error
	)
	switch d.Kind {
	case KindRead:
		raw, err = e.invoker.Query(ctx, d.Binding, merged)
	case KindWrite:
		raw, err = e.invoker.Mutation(ctx, d.Binding, merged)
	case KindAction:
		raw, err = e.invoker.Action(ctx, d.Binding, merged)
	default:
		err = fmt.Errorf("unknown handler kind %q", d.Kind)
	}
	if err != nil {
		return "", &ErrToolFailed{Tool: d.Name, Err: err}
	}

	out, err := json.Marshal(raw)
	if err != nil {
		return "", &ErrToolFailed{Tool: d.Name, Err: fmt.Errorf("encode result: %w", err)}
	}
	return string(out), nil
}

// inject copies args and overwrites the identity fields d requires.
func (e *Executor) inject(d Definition, args map[string]any) map[string]any {
	merged := make(map[string]any, len(args)+2)
	maps.Copy(merged, args)
	if d.Context.NeedsWorkspaceID {
		merged[ArgWorkspaceID] = e.ident.WorkspaceID
	}
	if d.Context.NeedsUserID {
		merged[ArgUserID] = e.ident.UserID
	}
	return merged
}
