package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

const bindingLinearCreate tools.Binding = "linear:createIssue"

const linearCreateIssue = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue { id identifier title url }
  }
}`

// Linear creates issues through Linear's GraphQL API.
type Linear struct {
	cfg     config.TokenConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewLinear returns the Linear provider. An empty baseURL means
// https://api.linear.app/graphql.
func NewLinear(cfg config.TokenConfig, baseURL string, logger *slog.Logger) *Linear {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.linear.app/graphql"
	}
	return &Linear{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpkit.NewClient(
			httpkit.WithTimeout(apiTimeout),
			httpkit.WithHeader("Authorization", cfg.Token),
		),
		logger: logger.With("integration", "linear"),
	}
}

// Name implements Provider.
func (l *Linear) Name() string { return "linear" }

// Bindings implements Provider.
func (l *Linear) Bindings() []tools.Binding { return []tools.Binding{bindingLinearCreate} }

// Action implements Provider.
func (l *Linear) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if l.cfg.Token == "" {
		return nil, &CredentialsError{Integration: "linear"}
	}
	if binding != bindingLinearCreate {
		return nil, &ErrUnknownBinding{Provider: l.Name(), Binding: binding}
	}

	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	team := argString(args, "team_id")
	if team == "" {
		team = l.cfg.DefaultTarget
	}
	if team == "" {
		return nil, errNoDefault("team_id", "team")
	}

	input := map[string]any{"teamId": team, "title": title}
	if d := argString(args, "description"); d != "" {
		input["description"] = d
	}
	req := map[string]any{
		"query":     linearCreateIssue,
		"variables": map[string]any{"input": input},
	}

	var resp struct {
		Data struct {
			IssueCreate struct {
				Success bool `json:"success"`
				Issue   struct {
					ID         string `json:"id"`
					Identifier string `json:"identifier"`
					Title      string `json:"title"`
					URL        string `json:"url"`
				} `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := httpkit.DoJSON(ctx, l.client, "linear", http.MethodPost, l.baseURL, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("linear: %s", strings.Join(msgs, "; "))
	}
	if !resp.Data.IssueCreate.Success {
		return nil, errors.New("linear: issue was not created")
	}

	issue := resp.Data.IssueCreate.Issue
	l.logger.Info("issue created", "team", team, "issue", issue.Identifier)
	return map[string]any{
		"id":         issue.ID,
		"identifier": issue.Identifier,
		"title":      issue.Title,
		"url":        issue.URL,
	}, nil
}
