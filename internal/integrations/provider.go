// Package integrations runs third-party integration actions in-process:
// Gmail over SMTP and IMAP, GitHub through its REST SDK, and Slack,
// Notion, ClickUp and Linear through their JSON APIs.
//
// Each integration is a Provider claiming one or more tool bindings.
// Results are plain maps and slices so the executor can hand them to the
// model unchanged.
package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

// Provider serves a set of integration bindings.
type Provider interface {
	// Name is the integration tag, e.g. "gmail".
	Name() string

	// Bindings lists the bindings this provider serves.
	Bindings() []tools.Binding

	// Action runs binding with args. Identity fields injected by the
	// executor are present in args.
	Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error)
}

// FromConfig builds every integration provider. Providers are built
// even without credentials so that invoking one reports a
// *CredentialsError instead of an unknown tool.
func FromConfig(cfg config.IntegrationsConfig, logger *slog.Logger) ([]Provider, error) {
	gh, err := NewGitHub(httpkit.NewClient(httpkit.WithTimeout(apiTimeout)), cfg.GitHub, "", logger)
	if err != nil {
		return nil, err
	}
	return []Provider{
		NewGmail(cfg.Gmail, logger),
		gh,
		NewSlack(cfg.Slack, "", logger),
		NewNotion(cfg.Notion, "", logger),
		NewClickUp(cfg.ClickUp, "", logger),
		NewLinear(cfg.Linear, "", logger),
	}, nil
}

// CredentialsError is returned when an integration is invoked without
// the credentials it needs.
type CredentialsError struct {
	Integration string
}

// Error implements the error interface.
func (e *CredentialsError) Error() string {
	return fmt.Sprintf("%s credentials not configured; reconnect the account", e.Integration)
}

// ErrUnknownBinding is returned by a provider asked to run a binding it
// does not serve.
type ErrUnknownBinding struct {
	Provider string
	Binding  tools.Binding
}

// Error implements the error interface.
func (e *ErrUnknownBinding) Error() string {
	return fmt.Sprintf("%s: unknown binding %s", e.Provider, e.Binding)
}

// argString returns args[key] as a trimmed string, or "" if absent.
func argString(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// requireString returns args[key] or an error naming the missing
// parameter.
func requireString(args map[string]any, key string) (string, error) {
	s := argString(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return s, nil
}

// argInt returns args[key] as an int. JSON numbers arrive as float64;
// numeric strings are accepted too.
func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// argList splits a comma-separated string argument, or accepts a JSON
// array of strings. Empty entries are dropped.
func argList(args map[string]any, key string) []string {
	var raw []string
	switch v := args[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case []string:
		raw = v
	}
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// clamp bounds n to [1, max], using def when n is not positive.
func clamp(n, def, max int) int {
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

func errNoDefault(param, what string) error {
	return fmt.Errorf("missing required parameter %q and no default %s configured", param, what)
}
