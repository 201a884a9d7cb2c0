package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v69/github"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/tools"
)

const (
	bindingGitHubCreate tools.Binding = "github:createIssue"
	bindingGitHubList   tools.Binding = "github:listIssues"
)

// Issue is a GitHub issue as returned to the model.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Author    string    `json:"author,omitempty"`
	Labels    []string  `json:"labels,omitempty"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// GitHub opens and lists issues through the GitHub REST API.
type GitHub struct {
	client *gogithub.Client
	owner  string
	token  string
	logger *slog.Logger
}

// NewGitHub returns the GitHub provider. baseURL selects a GitHub
// Enterprise server; empty means github.com.
func NewGitHub(httpClient *http.Client, cfg config.GitHubConfig, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := gogithub.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("github base URL %q: %w", baseURL, err)
		}
	}
	return &GitHub{
		client: client,
		owner:  cfg.Owner,
		token:  cfg.Token,
		logger: logger.With("integration", "github"),
	}, nil
}

// Name implements Provider.
func (g *GitHub) Name() string { return "github" }

// Bindings implements Provider.
func (g *GitHub) Bindings() []tools.Binding {
	return []tools.Binding{bindingGitHubCreate, bindingGitHubList}
}

// Action implements Provider.
func (g *GitHub) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if g.token == "" {
		return nil, &CredentialsError{Integration: "github"}
	}
	switch binding {
	case bindingGitHubCreate:
		return g.createIssue(ctx, args)
	case bindingGitHubList:
		return g.listIssues(ctx, args)
	}
	return nil, &ErrUnknownBinding{Provider: g.Name(), Binding: binding}
}

func (g *GitHub) createIssue(ctx context.Context, args map[string]any) (any, error) {
	owner, name, err := g.resolveRepo(argString(args, "repo"))
	if err != nil {
		return nil, err
	}
	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	body := argString(args, "body")
	labels := argList(args, "labels")

	req := &gogithub.IssueRequest{Title: &title}
	if body != "" {
		req.Body = &body
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	result, resp, err := g.client.Issues.Create(ctx, owner, name, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	g.checkRateLimit(resp)

	issue := convertIssue(result)
	g.logger.Info("issue created", "repo", owner+"/"+name, "number", issue.Number)
	return issue, nil
}

func (g *GitHub) listIssues(ctx context.Context, args map[string]any) (any, error) {
	owner, name, err := g.resolveRepo(argString(args, "repo"))
	if err != nil {
		return nil, err
	}
	state := argString(args, "state")
	switch state {
	case "":
		state = "open"
	case "open", "closed", "all":
	default:
		return nil, fmt.Errorf("invalid state %q: expected open, closed, or all", state)
	}

	opts := &gogithub.IssueListByRepoOptions{
		State: state,
		ListOptions: gogithub.ListOptions{
			PerPage: clamp(argInt(args, "limit", 0), 20, 100),
		},
	}
	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, opts)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	g.checkRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		// The issues endpoint also returns pull requests.
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, convertIssue(r))
	}
	return map[string]any{
		"repo":   owner + "/" + name,
		"issues": issues,
		"count":  len(issues),
	}, nil
}

// resolveRepo splits "owner/name", filling in the configured owner for
// a bare name.
func (g *GitHub) resolveRepo(repo string) (string, string, error) {
	if repo == "" {
		return "", "", fmt.Errorf("missing required parameter %q", "repo")
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok {
		if g.owner == "" {
			return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
		}
		return g.owner, repo, nil
	}
	if owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return owner, name, nil
}

func (g *GitHub) checkRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < 100 {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

func convertIssue(i *gogithub.Issue) *Issue {
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	return out
}
