package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

const bindingSlackPost tools.Binding = "slack:postMessage"

// apiTimeout bounds a single call to a third-party JSON API.
const apiTimeout = 30 * time.Second

// slackAuthErrors are Slack error codes meaning the token is unusable.
var slackAuthErrors = map[string]bool{
	"not_authed":       true,
	"invalid_auth":     true,
	"token_revoked":    true,
	"token_expired":    true,
	"account_inactive": true,
}

// Slack posts messages with the Web API.
type Slack struct {
	cfg     config.TokenConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewSlack returns the Slack provider. An empty baseURL means
// https://slack.com/api.
func NewSlack(cfg config.TokenConfig, baseURL string, logger *slog.Logger) *Slack {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Slack{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpkit.NewClient(
			httpkit.WithTimeout(apiTimeout),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.Token),
		),
		logger: logger.With("integration", "slack"),
	}
}

// Name implements Provider.
func (s *Slack) Name() string { return "slack" }

// Bindings implements Provider.
func (s *Slack) Bindings() []tools.Binding { return []tools.Binding{bindingSlackPost} }

// Action implements Provider.
func (s *Slack) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if s.cfg.Token == "" {
		return nil, &CredentialsError{Integration: "slack"}
	}
	if binding != bindingSlackPost {
		return nil, &ErrUnknownBinding{Provider: s.Name(), Binding: binding}
	}

	text, err := requireString(args, "text")
	if err != nil {
		return nil, err
	}
	channel := argString(args, "channel")
	if channel == "" {
		channel = s.cfg.DefaultTarget
	}
	if channel == "" {
		return nil, errNoDefault("channel", "channel")
	}

	var resp struct {
		OK      bool   `json:"ok"`
		Error   string `json:"error"`
		Channel string `json:"channel"`
		TS      string `json:"ts"`
	}
	req := map[string]string{"channel": channel, "text": text}
	if err := httpkit.DoJSON(ctx, s.client, "slack", http.MethodPost, s.baseURL+"/chat.postMessage", req, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		if slackAuthErrors[resp.Error] {
			return nil, &CredentialsError{Integration: "slack"}
		}
		return nil, fmt.Errorf("slack: %s", resp.Error)
	}

	s.logger.Info("message posted", "channel", resp.Channel)
	return map[string]any{
		"posted":  true,
		"channel": resp.Channel,
		"ts":      resp.TS,
	}, nil
}
