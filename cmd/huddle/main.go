// Huddle is the AI assistant service for Huddle workspaces.
//
// It serves an HTTP and WebSocket API that turns a user's message into a
// bounded tool-calling conversation with a language model, acting on
// workspace data through the backend and on third-party apps through
// in-process integrations. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	huddle serve                               Start the API server
//	huddle ask -workspace ws -user u <text>    Send one message (for testing)
//	huddle version                             Print version and build information
//	huddle -o json version                     Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/huddle/internal/api"
	"github.com/nugget/huddle/internal/assistant"
	"github.com/nugget/huddle/internal/buildinfo"
	"github.com/nugget/huddle/internal/config"
	"github.com/nugget/huddle/internal/connwatch"
)

// main constructs the OS-level environment and delegates to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Structured logs go to stdout; args is
// os.Args[1:], parsed by hand to keep flag.CommandLine globals out of
// tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		return runAsk(ctx, stdout, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Current()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, f := range info.Fields() {
		fmt.Fprintf(w, "  %-12s %s\n", f[0]+":", f[1])
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Huddle - workspace AI assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: huddle [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Send one message (-workspace, -user, -conversation)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/huddle/config.yaml, /etc/huddle/config.yaml")
	return nil
}

// askArgs are the options of the ask subcommand.
type askArgs struct {
	workspace    string
	user         string
	conversation string
	text         string
}

func parseAskArgs(args []string) (askArgs, error) {
	var a askArgs
	var words []string
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-workspace" && i+1 < len(args):
			a.workspace = args[i+1]
			i++
		case args[i] == "-user" && i+1 < len(args):
			a.user = args[i+1]
			i++
		case args[i] == "-conversation" && i+1 < len(args):
			a.conversation = args[i+1]
			i++
		default:
			words = append(words, args[i])
		}
	}
	a.text = strings.TrimSpace(strings.Join(words, " "))
	if a.text == "" {
		return a, fmt.Errorf("usage: huddle ask [-workspace id] [-user id] [-conversation id] <message>")
	}
	return a, nil
}

// runAsk sends one message through the full orchestrator against the
// configured stores and prints the result. Useful for smoke tests
// without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath, outputFmt string, args []string) error {
	a, err := parseAskArgs(args)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	// Logs would interleave with the answer; keep them to warnings.
	logger := config.NewLogger(stdout, "warn", cfg.LogFormat)

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	res := svc.orchestrator.SendMessage(ctx, assistant.Request{
		ConversationID: a.conversation,
		WorkspaceID:    a.workspace,
		UserID:         a.user,
		Content:        a.text,
	})

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.Success {
		return fmt.Errorf("ask: %s", res.Error)
	}
	fmt.Fprintln(stdout, res.Content)
	return nil
}

// runServe loads config, wires the assistant and serves the API until
// SIGINT or SIGTERM. Shutdown drains in-flight HTTP requests, then
// waits for pending outcome writes before the stores close.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting Huddle assistant",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"branch", buildinfo.GitBranch,
		"built", buildinfo.BuildTime,
	)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"backend", cfg.Backend.URL,
		"data_dir", cfg.DataDir,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, svc.orchestrator, svc.conversations, logger)
	server.SetOutcomeReports(svc.outcomeStore)

	health := connwatch.New(connwatch.Config{}, logger)
	health.Watch(ctx, "model", svc.llm.Ping)
	if cfg.Backend.URL != "" {
		health.Watch(ctx, "backend", svc.backend.Ping)
	} else {
		logger.Warn("backend.url not set; workspace tools will fail")
	}
	server.SetHealth(health)
	defer func() {
		cancel()
		health.Wait()
	}()

	// drained closes once Shutdown has returned, so the stores stay open
	// until every handler is finished with them.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("API server shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		cancel()
		<-drained
		return fmt.Errorf("server failed: %w", err)
	}
	<-drained

	logger.Info("Huddle assistant stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
