// Parlor is a self-hostable gateway for streaming LLM chat.
//
// It exposes a small REST API plus a websocket chat endpoint for the
// browser UI, talking upstream to OpenAI-compatible and Anthropic
// endpoints. Conversations persist to SQLite; model presets live in a
// YAML file. Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	parlor serve                      Start the gateway server
//	parlor send -preset <id> <text>   One-shot chat to stdout
//	parlor models -preset <id>        List the preset provider's models
//	parlor verify                     Check every configured provider
//	parlor version                    Print version and build information
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/parlorhq/parlor/internal/buildinfo"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/history"
	"github.com/parlorhq/parlor/internal/llm"
	"github.com/parlorhq/parlor/internal/preset"
	"github.com/parlorhq/parlor/internal/server"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's global state gets in the way of calling run concurrently
// from tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var presetID string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-preset" && i+1 < len(args):
			presetID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-preset="):
			presetID = strings.TrimPrefix(args[i], "-preset=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			if command == "" {
				command = args[i]
			} else {
				cmdArgs = append(cmdArgs, args[i])
			}
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "send":
		if presetID == "" || len(cmdArgs) == 0 {
			return fmt.Errorf("usage: parlor send -preset <id> <text>")
		}
		return runSend(ctx, stdout, stderr, configPath, presetID, strings.Join(cmdArgs, " "))
	case "models":
		if presetID == "" {
			return fmt.Errorf("usage: parlor models -preset <id>")
		}
		return runModels(ctx, stdout, configPath, presetID)
	case "verify":
		return runVerify(ctx, stdout, configPath)
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Parlor - self-hostable LLM chat gateway")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: parlor [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                      Start the gateway server")
	fmt.Fprintln(w, "  send -preset <id> <text>   One-shot chat to stdout")
	fmt.Fprintln(w, "  models -preset <id>        List the preset provider's models")
	fmt.Fprintln(w, "  verify                     Check every configured provider")
	fmt.Fprintln(w, "  version                    Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>   Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -preset <id>     Preset for send and models")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./parlor.yaml, ~/.config/parlor/config.yaml, /etc/parlor/config.yaml")
	return nil
}

func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := buildinfo.Info()[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// loadConfig locates and parses the YAML configuration. A missing file
// is not fatal when no explicit path was given; built-in defaults let
// parlor run against env-var API keys with zero setup.
func loadConfig(explicit string, logger *slog.Logger) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		logger.Info("no config file found, using defaults")
		return config.Default(), nil
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	logger.Info("config loaded", "path", cfgPath)
	return cfg, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}
	logger.Info("starting", "build", buildinfo.String())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(cfg.DataDir, "parlor.db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	hist, err := history.NewStore(db)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}

	presets, err := preset.LoadRegistry(cfg.PresetsFile)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, presets, hist, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// chatClient builds the chat client for a preset's provider.
func chatClient(cfg *config.Config, p preset.Preset, logger *slog.Logger) (*llm.Client, error) {
	pc, ok := cfg.Provider(p.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", p.Provider)
	}
	return llm.New(llm.Config{
		Provider:  pc.ID,
		BaseURL:   pc.BaseURL,
		APIKey:    pc.APIKey,
		Streaming: pc.StreamingEnabled(),
	}, logger), nil
}

// runSend performs a one-shot chat: tokens stream to stdout, thinking
// to stderr, and the process exits on the terminal callback.
func runSend(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, presetID, text string) error {
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	presets, err := preset.LoadRegistry(cfg.PresetsFile)
	if err != nil {
		return err
	}
	p, err := presets.Get(presetID)
	if err != nil {
		return err
	}
	client, err := chatClient(cfg, p, logger)
	if err != nil {
		return err
	}

	req := preset.Apply(p, []llm.Message{{Role: "user", Content: text}})

	done := make(chan error, 1)
	req.OnContent = func(text string) { fmt.Fprint(stdout, text) }
	req.OnThinking = func(text string) { fmt.Fprint(stderr, text) }
	req.OnDone = func() {
		fmt.Fprintln(stdout)
		done <- nil
	}
	req.OnError = func(err error) { done <- err }

	handle := client.Chat(ctx, req)

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		handle.Cancel()
		return ctx.Err()
	}
}

func runModels(ctx context.Context, stdout io.Writer, configPath, presetID string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}
	presets, err := preset.LoadRegistry(cfg.PresetsFile)
	if err != nil {
		return err
	}
	p, err := presets.Get(presetID)
	if err != nil {
		return err
	}
	client, err := chatClient(cfg, p, logger)
	if err != nil {
		return err
	}

	models, err := client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models {
		fmt.Fprintln(stdout, m.ID)
	}
	return nil
}

func runVerify(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return err
	}

	failed := 0
	for _, pc := range cfg.Providers {
		client := llm.New(llm.Config{
			Provider:  pc.ID,
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			Streaming: pc.StreamingEnabled(),
		}, logger)

		if client.Verify(ctx) {
			fmt.Fprintf(stdout, "%-12s ok\n", pc.ID)
		} else {
			fmt.Fprintf(stdout, "%-12s FAILED\n", pc.ID)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d provider(s) failed verification", failed)
	}
	return nil
}
