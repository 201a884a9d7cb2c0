package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/huddle/internal/integrations"
	"github.com/nugget/huddle/internal/tools"
)

// Router dispatches bindings owned by an in-process integration to
// that provider and everything else to the remote backend.
type Router struct {
	remote tools.Invoker
	local  map[tools.Binding]integrations.Provider
	logger *slog.Logger
}

// NewRouter returns a router over remote. A binding claimed by two
// providers is an error.
func NewRouter(remote tools.Invoker, logger *slog.Logger, providers ...integrations.Provider) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		remote: remote,
		local:  make(map[tools.Binding]integrations.Provider),
		logger: logger.With("component", "router"),
	}
	for _, p := range providers {
		for _, b := range p.Bindings() {
			if prev, dup := r.local[b]; dup {
				return nil, fmt.Errorf("binding %s claimed by both %s and %s", b, prev.Name(), p.Name())
			}
			r.local[b] = p
		}
	}
	return r, nil
}

// Local reports whether binding is served in-process.
func (r *Router) Local(binding tools.Binding) bool {
	_, ok := r.local[binding]
	return ok
}

// Query implements tools.Invoker.
func (r *Router) Query(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if p, ok := r.local[binding]; ok {
		return r.runLocal(ctx, p, binding, args)
	}
	return r.remote.Query(ctx, binding, args)
}

// Mutation implements tools.Invoker.
func (r *Router) Mutation(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if p, ok := r.local[binding]; ok {
		return r.runLocal(ctx, p, binding, args)
	}
	return r.remote.Mutation(ctx, binding, args)
}

// Action implements tools.Invoker.
func (r *Router) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if p, ok := r.local[binding]; ok {
		return r.runLocal(ctx, p, binding, args)
	}
	return r.remote.Action(ctx, binding, args)
}

func (r *Router) runLocal(ctx context.Context, p integrations.Provider, binding tools.Binding, args map[string]any) (any, error) {
	r.logger.Debug("local integration call", "provider", p.Name(), "binding", binding)
	out, err := p.Action(ctx, binding, args)
	if err != nil {
		return nil, fmt.Errorf("integration %s: %w", p.Name(), err)
	}
	return out, nil
}
