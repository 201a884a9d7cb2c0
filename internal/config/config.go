// Package config handles Huddle assistant configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nugget/huddle/internal/intent"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/huddle/config.yaml, /etc/huddle/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "huddle", "config.yaml"))
	}

	paths = append(paths, "/etc/huddle/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all assistant configuration.
type Config struct {
	Listen       ListenConfig       `yaml:"listen"`
	Models       ModelsConfig       `yaml:"models"`
	Anthropic    AnthropicConfig    `yaml:"anthropic"`
	Ollama       OllamaConfig       `yaml:"ollama"`
	Backend      BackendConfig      `yaml:"backend"`
	Intent       IntentConfig       `yaml:"intent"`
	Integrations IntegrationsConfig `yaml:"integrations"`
	Outcomes     OutcomesConfig     `yaml:"outcomes"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
	LogFormat    string             `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects the model used for the assistant loop.
type ModelsConfig struct {
	Default     string        `yaml:"default"`
	Temperature float64       `yaml:"temperature"`
	Available   []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to the provider that serves it.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // anthropic, ollama
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// OllamaConfig defines the local Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// BackendConfig points at the serverless backend that owns workspace
// data. Tool bindings without a local integration are invoked here.
type BackendConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"` // deploy key
	// TimeoutSec bounds query and mutation calls (default 15).
	TimeoutSec int `yaml:"timeout_sec"`
	// ActionTimeoutSec bounds long-running actions (default 120).
	ActionTimeoutSec int `yaml:"action_timeout_sec"`
}

// Timeout returns the query/mutation timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// ActionTimeout returns the long-running action timeout as a duration.
func (b BackendConfig) ActionTimeout() time.Duration {
	return time.Duration(b.ActionTimeoutSec) * time.Second
}

// IntentConfig carries the per-deployment keyword policy for the
// query intent classifier. Keys are app tags (gmail, slack, ...);
// a listed app replaces the built-in keyword list for that app.
type IntentConfig struct {
	Keywords map[string][]string `yaml:"keywords"`
}

// IntegrationsConfig holds credentials for third-party integrations.
// An integration with no credentials still appears in the tool catalog;
// invoking it fails with a credentials error so the user is asked to
// reconnect.
type IntegrationsConfig struct {
	Gmail   GmailConfig  `yaml:"gmail"`
	GitHub  GitHubConfig `yaml:"github"`
	Slack   TokenConfig  `yaml:"slack"`
	Notion  NotionConfig `yaml:"notion"`
	ClickUp TokenConfig  `yaml:"clickup"`
	Linear  TokenConfig  `yaml:"linear"`
}

// GmailConfig configures the mailbox used by the Gmail tools.
type GmailConfig struct {
	Address  string `yaml:"address"` // From address, "Name <addr>" allowed
	Username string `yaml:"username"`
	Password string `yaml:"password"` // app password
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	IMAPHost string `yaml:"imap_host"`
	IMAPPort int    `yaml:"imap_port"`
}

// Configured reports whether the account can send mail.
func (g GmailConfig) Configured() bool {
	return g.Username != "" && g.Password != ""
}

// GitHubConfig configures the GitHub integration.
type GitHubConfig struct {
	Token string `yaml:"token"`
	Owner string `yaml:"owner"` // default owner for unqualified repo names
}

// NotionConfig configures the Notion integration.
type NotionConfig struct {
	Token        string `yaml:"token"`
	ParentPageID string `yaml:"parent_page_id"`
}

// TokenConfig is a bearer-token integration (Slack, ClickUp, Linear).
type TokenConfig struct {
	Token string `yaml:"token"`
	// DefaultTarget is the channel, list, or team used when the model
	// does not name one.
	DefaultTarget string `yaml:"default_target"`
}

// OutcomesConfig controls where request outcomes are recorded. The
// SQLite store under DataDir is always written; MQTT is optional.
type OutcomesConfig struct {
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional MQTT outcome publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
}

// Configured reports whether an MQTT broker is set.
func (m MQTTConfig) Configured() bool {
	return m.Broker != ""
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Default:     "claude-sonnet-4-20250514",
			Temperature: 0.7,
			Available: []ModelConfig{
				{Name: "claude-sonnet-4-20250514", Provider: "anthropic"},
			},
		},
		DataDir: "./data",
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Backend.TimeoutSec == 0 {
		c.Backend.TimeoutSec = 15
	}
	if c.Backend.ActionTimeoutSec == 0 {
		c.Backend.ActionTimeoutSec = 120
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = "http://localhost:11434"
	}

	g := &c.Integrations.Gmail
	if g.SMTPHost == "" {
		g.SMTPHost = "smtp.gmail.com"
	}
	if g.SMTPPort == 0 {
		g.SMTPPort = 587
	}
	if g.IMAPHost == "" {
		g.IMAPHost = "imap.gmail.com"
	}
	if g.IMAPPort == 0 {
		g.IMAPPort = 993
	}
	if g.Address == "" {
		g.Address = g.Username
	}

	m := &c.Outcomes.MQTT
	if m.TopicPrefix == "" {
		m.TopicPrefix = "huddle"
	}
	if m.ClientID == "" {
		m.ClientID = "huddle-assistant"
	}
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Models.Default == "" {
		return fmt.Errorf("models.default must not be empty")
	}
	if c.Models.Temperature < 0 || c.Models.Temperature > 2 {
		return fmt.Errorf("models.temperature %.2f out of range (0-2)", c.Models.Temperature)
	}
	for i, m := range c.Models.Available {
		switch m.Provider {
		case "anthropic", "ollama":
		default:
			return fmt.Errorf("models.available[%d] (%s): unknown provider %q", i, m.Name, m.Provider)
		}
	}
	if c.Backend.URL != "" && !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("backend.url %q must be an http(s) URL", c.Backend.URL)
	}
	for key, kws := range c.Intent.Keywords {
		if !intent.App(strings.ToLower(strings.TrimSpace(key))).Valid() {
			return fmt.Errorf("intent.keywords: unknown app %q", key)
		}
		if len(kws) == 0 {
			return fmt.Errorf("intent.keywords.%s must list at least one keyword", key)
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	return nil
}

// ProviderFor returns the provider configured for a model name, or
// "anthropic" when the model is not listed.
func (c *Config) ProviderFor(model string) string {
	for _, m := range c.Models.Available {
		if m.Name == model {
			return m.Provider
		}
	}
	return "anthropic"
}
