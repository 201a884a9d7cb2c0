// Package backend invokes workspace-data operations on the serverless
// backend and routes integration bindings to in-process providers.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

// Function kinds map to the backend's HTTP endpoints.
const (
	kindQuery    = "query"
	kindMutation = "mutation"
	kindAction   = "action"
)

// HTTPClient calls backend functions over the HTTP function API:
// POST {url}/api/{query|mutation|action} with a JSON body naming the
// function path and its arguments.
type HTTPClient struct {
	baseURL string
	client  *http.Client // queries and mutations
	action  *http.Client // long-running actions
	logger  *slog.Logger
}

// NewHTTPClient creates a backend client from cfg.
func NewHTTPClient(cfg config.BackendConfig, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []httpkit.ClientOption{
		httpkit.WithLogger(logger),
		httpkit.WithRetry(2, 500*time.Millisecond),
	}
	if cfg.Token != "" {
		opts = append(opts, httpkit.WithHeader("Authorization", "Convex "+cfg.Token))
	}
	withTimeout := func(d time.Duration) *http.Client {
		return httpkit.NewClient(append(slices.Clone(opts), httpkit.WithTimeout(d))...)
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		client:  withTimeout(cfg.Timeout()),
		action:  withTimeout(cfg.ActionTimeout()),
		logger:  logger.With("component", "backend"),
	}
}

type functionRequest struct {
	Path   string         `json:"path"`
	Args   map[string]any `json:"args"`
	Format string         `json:"format"`
}

type functionResponse struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value"`
	ErrorMessage string          `json:"errorMessage"`
	ErrorData    json.RawMessage `json:"errorData,omitempty"`
}

// FunctionError is an error raised by the backend function itself.
type FunctionError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *FunctionError) Error() string {
	return fmt.Sprintf("backend function %s: %s", e.Path, e.Message)
}

// Query runs a read-only backend function.
func (c *HTTPClient) Query(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	return c.call(ctx, c.client, kindQuery, binding, args)
}

// Mutation runs a backend function that writes workspace data.
func (c *HTTPClient) Mutation(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	return c.call(ctx, c.client, kindMutation, binding, args)
}

// Action runs a long-running backend function.
func (c *HTTPClient) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	return c.call(ctx, c.action, kindAction, binding, args)
}

func (c *HTTPClient) call(ctx context.Context, client *http.Client, kind string, binding tools.Binding, args map[string]any) (any, error) {
	if c.baseURL == "" {
		return nil, errors.New("backend URL not configured")
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	var resp functionResponse
	err := httpkit.DoJSON(ctx, client, "backend", http.MethodPost, c.baseURL+"/api/"+kind,
		functionRequest{Path: string(binding), Args: args, Format: "json"}, &resp)
	c.logger.Debug("backend call",
		"kind", kind,
		"path", binding,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"error", err,
	)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case "success":
		if len(resp.Value) == 0 {
			return nil, nil
		}
		var v any
		if err := json.Unmarshal(resp.Value, &v); err != nil {
			return nil, fmt.Errorf("decode %s value: %w", binding, err)
		}
		return v, nil
	case "error":
		return nil, &FunctionError{Path: string(binding), Message: resp.ErrorMessage}
	default:
		return nil, fmt.Errorf("backend %s: unexpected status %q", binding, resp.Status)
	}
}

// Ping checks that the backend answers HTTP at all. Any response,
// including an error status, counts as reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("backend URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/version", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend unreachable: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return nil
}
