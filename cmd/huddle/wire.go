package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/huddle/internal/assistant"
	"github.com/nugget/huddle/internal/backend"
	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/integrations"
	"github.com/nugget/huddle/internal/intent"
	"github.com/nugget/huddle/internal/llm"
	"github.com/nugget/huddle/internal/outcome"
	"github.com/nugget/huddle/internal/store"
	"github.com/nugget/huddle/internal/tools"
)

// service is the wired assistant and everything it owns.
type service struct {
	orchestrator  *assistant.Orchestrator
	conversations *store.Store
	outcomeStore  *outcome.Store
	outcomeLog    *outcome.Logger
	mqtt          *outcome.MQTTSink
	llm           llm.Client
	backend       *backend.HTTPClient
	logger        *slog.Logger
}

// wire opens the stores under cfg.DataDir, builds the model client,
// the tool invoker (backend plus local integrations) and the outcome
// logger, and returns the orchestrator over them.
func wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	svc := &service{logger: logger}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	var err error
	svc.conversations, err = store.Open(filepath.Join(cfg.DataDir, "conversations.db"))
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	svc.outcomeStore, err = outcome.OpenStore(filepath.Join(cfg.DataDir, "outcomes.db"))
	if err != nil {
		return nil, fmt.Errorf("open outcome store: %w", err)
	}

	sinks := outcome.MultiSink{svc.outcomeStore}
	if cfg.Outcomes.MQTT.Configured() {
		svc.mqtt, err = outcome.DialMQTT(ctx, cfg.Outcomes.MQTT, logger)
		if err != nil {
			// Outcome publishing is best effort; the SQLite sink still
			// records everything.
			logger.Warn("MQTT outcome publishing disabled", "broker", cfg.Outcomes.MQTT.Broker, "error", err)
		} else {
			sinks = append(sinks, svc.mqtt)
			logger.Info("publishing outcomes to MQTT", "topic", svc.mqtt.Topic())
		}
	}
	svc.outcomeLog = outcome.NewLogger(sinks, logger)

	providers, err := integrations.FromConfig(cfg.Integrations, logger)
	if err != nil {
		return nil, fmt.Errorf("configure integrations: %w", err)
	}
	svc.backend = backend.NewHTTPClient(cfg.Backend, logger)
	invoker, err := backend.NewRouter(svc.backend, logger, providers...)
	if err != nil {
		return nil, fmt.Errorf("route tool bindings: %w", err)
	}
	catalog := tools.DefaultCatalog()
	for _, d := range catalog.Definitions() {
		if d.External() && !invoker.Local(d.Binding) {
			logger.Warn("integration tool has no local provider; it will be sent to the backend",
				"tool", d.Name, "binding", d.Binding)
		}
	}

	svc.llm = newLLMClient(cfg, logger)
	svc.orchestrator, err = assistant.New(assistant.Config{Model: cfg.Models.Default}, assistant.Deps{
		LLM:        svc.llm,
		Store:      svc.conversations,
		Invoker:    invoker,
		Outcomes:   svc.outcomeLog,
		Classifier: intent.NewClassifier(intent.ParseOverrides(cfg.Intent.Keywords)),
		Catalog:    catalog,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return svc, nil
}

// Close flushes pending outcome writes and closes the stores.
func (s *service) Close() {
	s.outcomeLog.Wait()
	if s.mqtt != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mqtt.Close(ctx); err != nil {
			s.logger.Debug("MQTT disconnect failed", "error", err)
		}
	}
	if s.outcomeStore != nil {
		s.outcomeStore.Close()
	}
	if s.conversations != nil {
		s.conversations.Close()
	}
}

// newLLMClient builds a multi-provider client. Models not listed in
// config go to Anthropic when a key is set, otherwise to Ollama.
func newLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	ollama := llm.NewOllamaClient(cfg.Ollama.URL, cfg.Models.Temperature, logger)

	var fallback llm.Client = ollama
	var anthropic *llm.AnthropicClient
	if cfg.Anthropic.APIKey != "" {
		anthropic = llm.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Models.Temperature, logger)
		fallback = anthropic
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("ollama", ollama)
	if anthropic != nil {
		multi.AddProvider("anthropic", anthropic)
		logger.Info("Anthropic provider configured")
	}
	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}
	logger.Info("LLM client initialized",
		"default_model", cfg.Models.Default,
		"default_provider", cfg.ProviderFor(cfg.Models.Default),
	)
	return multi
}
