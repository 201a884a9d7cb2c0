package integrations

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/httpkit"
	"github.com/nugget/huddle/internal/tools"
)

const (
	bindingNotionCreate tools.Binding = "notion:createPage"

	notionVersion = "2022-06-28"

	// notionTextLimit is the API's maximum rich-text content length.
	notionTextLimit = 2000
)

// Notion creates pages through the Notion API.
type Notion struct {
	cfg     config.NotionConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewNotion returns the Notion provider. An empty baseURL means
// https://api.notion.com/v1.
func NewNotion(cfg config.NotionConfig, baseURL string, logger *slog.Logger) *Notion {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = "https://api.notion.com/v1"
	}
	return &Notion{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		client: httpkit.NewClient(
			httpkit.WithTimeout(apiTimeout),
			httpkit.WithHeader("Authorization", "Bearer "+cfg.Token),
			httpkit.WithHeader("Notion-Version", notionVersion),
		),
		logger: logger.With("integration", "notion"),
	}
}

// Name implements Provider.
func (n *Notion) Name() string { return "notion" }

// Bindings implements Provider.
func (n *Notion) Bindings() []tools.Binding { return []tools.Binding{bindingNotionCreate} }

// Action implements Provider.
func (n *Notion) Action(ctx context.Context, binding tools.Binding, args map[string]any) (any, error) {
	if n.cfg.Token == "" {
		return nil, &CredentialsError{Integration: "notion"}
	}
	if binding != bindingNotionCreate {
		return nil, &ErrUnknownBinding{Provider: n.Name(), Binding: binding}
	}

	title, err := requireString(args, "title")
	if err != nil {
		return nil, err
	}
	parent := argString(args, "parent")
	if parent == "" {
		parent = n.cfg.ParentPageID
	}
	if parent == "" {
		return nil, errNoDefault("parent", "page")
	}

	req := map[string]any{
		"parent": map[string]any{"page_id": parent},
		"properties": map[string]any{
			"title": map[string]any{"title": richText(title)},
		},
	}
	if blocks := paragraphs(argString(args, "content")); len(blocks) > 0 {
		req["children"] = blocks
	}

	var resp struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := httpkit.DoJSON(ctx, n.client, "notion", http.MethodPost, n.baseURL+"/pages", req, &resp); err != nil {
		return nil, err
	}

	n.logger.Info("page created", "page", resp.ID)
	return map[string]any{
		"id":    resp.ID,
		"url":   resp.URL,
		"title": title,
	}, nil
}

func richText(s string) []map[string]any {
	var out []map[string]any
	for len(s) > 0 {
		chunk := s
		if len(chunk) > notionTextLimit {
			chunk = chunk[:notionTextLimit]
		}
		s = s[len(chunk):]
		out = append(out, map[string]any{
			"type": "text",
			"text": map[string]any{"content": chunk},
		})
	}
	return out
}

// paragraphs turns blank-line separated text into paragraph blocks.
func paragraphs(content string) []map[string]any {
	var blocks []map[string]any
	for _, p := range strings.Split(content, "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		blocks = append(blocks, map[string]any{
			"object": "block",
			"type":   "paragraph",
			"paragraph": map[string]any{
				"rich_text": richText(p),
			},
		})
	}
	return blocks
}
