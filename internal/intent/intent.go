// Package intent classifies a user's query to decide which third-party
// integration tools are in scope for a request.
//
// The mapping from free text to integrations is keyword policy, kept in
// an ordered table per app so a deployment can replace it from config.
// A query that mentions no integration always yields the workspace-only
// intent.
package intent

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// App identifies a third-party integration.
type App string

const (
	Gmail   App = "gmail"
	Slack   App = "slack"
	GitHub  App = "github"
	Notion  App = "notion"
	ClickUp App = "clickup"
	Linear  App = "linear"
)

// Apps lists every supported integration in catalog order.
var Apps = []App{Gmail, Slack, GitHub, Notion, ClickUp, Linear}

// Valid reports whether a is a supported integration tag.
func (a App) Valid() bool {
	for _, known := range Apps {
		if a == known {
			return true
		}
	}
	return false
}

// Mode selects prompt wording only. Tool selection is driven by
// Intent.RequestedApps.
type Mode string

const (
	ModeWorkspace   Mode = "workspace"
	ModeIntegration Mode = "integration"
)

// Intent is the classified purpose of one inbound message. It is never
// persisted.
type Intent struct {
	Mode                  Mode  `json:"mode"`
	RequiresExternalTools bool  `json:"requires_external_tools"`
	RequestedApps         []App `json:"requested_apps"`
}

// HasApp reports whether app was requested.
func (i Intent) HasApp(app App) bool {
	for _, a := range i.RequestedApps {
		if a == app {
			return true
		}
	}
	return false
}

// defaultKeywords maps each app to explicit names and phrasing strongly
// tied to it. Matching is on word boundaries in lower-cased text.
var defaultKeywords = map[App][]string{
	Gmail: {
		"gmail", "email", "emails", "e-mail", "inbox", "mail to", "send a mail",
		"send mail", "reply to the email",
	},
	Slack: {
		"slack", "slack channel", "dm on slack",
	},
	GitHub: {
		"github", "pull request", "pull requests", "repo", "repository", "gh issue",
	},
	Notion: {
		"notion", "notion page", "notion doc",
	},
	ClickUp: {
		"clickup", "click up",
	},
	Linear: {
		"linear", "linear issue", "linear ticket",
	},
}

// DefaultKeywords returns a copy of the built-in keyword table.
func DefaultKeywords() map[App][]string {
	out := make(map[App][]string, len(defaultKeywords))
	for app, kws := range defaultKeywords {
		out[app] = append([]string(nil), kws...)
	}
	return out
}

type rule struct {
	app     App
	pattern *regexp.Regexp
}

// Classifier maps raw text to an Intent. It is immutable after
// construction and safe for concurrent use.
type Classifier struct {
	rules []rule
}

// NewClassifier builds a classifier from the default keyword table with
// per-app overrides applied. An override replaces the app's keyword
// list; unknown app tags are ignored.
func NewClassifier(overrides map[App][]string) *Classifier {
	keywords := DefaultKeywords()
	for app, kws := range overrides {
		if !app.Valid() || len(kws) == 0 {
			continue
		}
		keywords[app] = kws
	}

	c := &Classifier{}
	for _, app := range Apps {
		if p := compile(keywords[app]); p != nil {
			c.rules = append(c.rules, rule{app: app, pattern: p})
		}
	}
	return c
}

// compile joins keywords into one word-bounded alternation, longest
// first so multi-word phrases win over their prefixes.
func compile(keywords []string) *regexp.Regexp {
	var parts []string
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(kw))
	}
	if len(parts) == 0 {
		return nil
	}
	sort.SliceStable(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })
	return regexp.MustCompile(`(^|[^a-z0-9_-])(` + strings.Join(parts, "|") + `)($|[^a-z0-9_-])`)
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the process-wide classifier built from the default
// keyword table.
func Default() *Classifier {
	defaultOnce.Do(func() {
		defaultClassifier = NewClassifier(nil)
	})
	return defaultClassifier
}

// Classify returns the intent for text. It is total: any string,
// including the empty string, yields a valid intent. Requested apps are
// deduplicated and ordered by where they are first mentioned.
func (c *Classifier) Classify(text string) Intent {
	q := strings.ToLower(text)

	type hit struct {
		app App
		pos int
	}
	var hits []hit
	for _, r := range c.rules {
		loc := r.pattern.FindStringSubmatchIndex(q)
		if loc == nil {
			continue
		}
		// loc[4] is the start of the keyword group.
		hits = append(hits, hit{app: r.app, pos: loc[4]})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	intent := Intent{Mode: ModeWorkspace, RequestedApps: []App{}}
	for _, h := range hits {
		intent.RequestedApps = append(intent.RequestedApps, h.app)
	}
	if len(intent.RequestedApps) > 0 {
		intent.Mode = ModeIntegration
		intent.RequiresExternalTools = true
	}
	return intent
}

// Classify classifies text with the default classifier.
func Classify(text string) Intent {
	return Default().Classify(text)
}

// ParseOverrides converts config keyword lists keyed by string into
// typed overrides, dropping unknown app tags.
func ParseOverrides(raw map[string][]string) map[App][]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[App][]string, len(raw))
	for k, v := range raw {
		app := App(strings.ToLower(strings.TrimSpace(k)))
		if app.Valid() {
			out[app] = v
		}
	}
	return out
}
