package integrations

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

const bindingClickUpCreate tools.Binding = "clickup:createTask"

// ClickUp creates tasks through the ClickUp v2 API.
type ClickUp struct {
	cfg     config.TokenConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewClickUp returns the ClickUp provider. An empty baseURL means
// https://api.clickup.com/api/v2.
func NewClickUp(cfg config.TokenConfig, baseURL string, logger *slog.Logger) *ClickUp {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.clickup.com/api/v2"
	}
	return &ClickUp{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpkit.NewClient(
			httpkit.WithTimeout(apiTimeout),
			// Personal tokens are sent bare, without a scheme.
			httpkit.WithHeader("Authorization", cfg.Token),
		),
		logger: logger.With("integration", "clickup"),
	}
}

// Name implements Provider.
func (c *ClickUp) Name() string { return "clickup" }

// Bindings implements Provider.
func (c *ClickUp) Bindings() []tools.Binding { return []tools.Binding{bindingClickUpCreate} }

// Action implements Provider.
func (c *ClickUp) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if c.cfg.Token == "" {
		return nil, &CredentialsError{Integration: "clickup"}
	}
	if binding != bindingClickUpCreate {
		return nil, &ErrUnknownBinding{Provider: c.Name(), Binding: binding}
	}

	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	list := argString(args, "list_id")
	if list == "" {
		list = c.cfg.DefaultTarget
	}
	if list == "" {
		return nil, errNoDefault("list_id", "list")
	}

	req := map[string]any{"name": name}
	if d := argString(args, "description"); d != "" {
		req["markdown_description"] = d
	}

	var resp struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		URL  string `json:"url"`
	}
	endpoint := c.baseURL + "/list/" + url.PathEscape(list) + "/task"
	if err := httpkit.DoJSON(ctx, c.client, "clickup", http.MethodPost, endpoint, req, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("task created", "list", list, "task", resp.ID)
	return map[string]any{
		"id":   resp.ID,
		"name": resp.Name,
		"url":  resp.URL,
	}, nil
}
