package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/boat-builder/meetingpod"
	"github.com/boat-builder/meetingpod/internal/config"
	"github.com/boat-builder/meetingpod/internal/server"
	"github.com/boat-builder/meetingpod/internal/sweeper"
	"github.com/boat-builder/meetingpod/internal/telemetry"
)

var version = "dev"

// LLMFactory builds the LLM client for a loaded config (allows stubbing in tests)
type LLMFactory func(cfg *config.Config) (meetingpod.LLM, error)

// DefaultLLMFactory builds the configured provider client
func DefaultLLMFactory(cfg *config.Config) (meetingpod.LLM, error) {
	return cfg.ClientConfig().NewLLMClient()
}

// AppOptions carries the injectable dependencies of every command
type AppOptions struct {
	LLMFactory LLMFactory
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o AppOptions) withDefaults() AppOptions {
	if o.LLMFactory == nil {
		o.LLMFactory = DefaultLLMFactory
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	return o
}

var rootCmd = &cobra.Command{
	Use:          "meetingpod",
	Short:        "meetingpod - chat with your meeting transcripts",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket chat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), AppOptions{Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()})
	},
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask questions about a transcript file, once with -m or in a REPL",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(cmd.Context(), AppOptions{Stdin: cmd.InOrStdin(), Stdout: cmd.OutOrStdout(), Stderr: cmd.ErrOrStderr()})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd.OutOrStdout())
	},
}

var (
	configFlag     string
	transcriptFlag string
	messageFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML config file (defaults to $"+config.EnvConfigPath+")")
	askCmd.Flags().StringVarP(&transcriptFlag, "transcript", "t", "", "Transcript file to analyze")
	askCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single question to ask")
	_ = askCmd.MarkFlagRequired("transcript")
	rootCmd.AddCommand(serveCmd, askCmd, statusCmd)
	rootCmd.Version = version
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// openStore picks the session store for the configured driver.
func openStore(cfg *config.Config) (meetingpod.Storage, error) {
	switch cfg.Store.Driver {
	case "sqlite", "postgres":
		return meetingpod.NewGormStorage(cfg.Store.DSN)
	default:
		return meetingpod.NewMemoryStorage(), nil
	}
}

// buildLLM returns the provider client. Without an API key it returns a client that always fails,
// so chats degrade to guidance replies instead of the server refusing to start.
func buildLLM(cfg *config.Config, factory LLMFactory) (meetingpod.LLM, bool, error) {
	llm, err := factory(cfg)
	if errors.Is(err, meetingpod.ErrAPIKeyMissing) {
		slog.Warn("No LLM API key configured, replies will fall back to guidance messages",
			"provider", cfg.LLM.Provider)
		return meetingpod.LLMFunc(func(context.Context, string, []meetingpod.Turn) (*meetingpod.Generation, error) {
			return nil, meetingpod.ErrAPIKeyMissing
		}), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return llm, true, nil
}

func runServe(ctx context.Context, opts AppOptions) error {
	opts = opts.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg, opts.Stderr)

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err)
		}
	}()

	store, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	llm, keyConfigured, err := buildLLM(cfg, opts.LLMFactory)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	registry := meetingpod.NewSessionMemoryRegistry()
	orchestrator := meetingpod.NewResponseOrchestrator(registry, llm,
		meetingpod.WithTimeout(cfg.LLM.Timeout),
		meetingpod.WithLogger(logger.With("component", "orchestrator")))
	srv := server.New(store, orchestrator, server.Options{
		Addr:             cfg.Addr(),
		AllowOrigins:     cfg.Server.AllowOrigins,
		Provider:         cfg.LLM.Provider,
		APIKeyConfigured: keyConfigured,
		Model:            cfg.LLM.Model,
	})

	sw := sweeper.New(store, registry, cfg.Sessions.IdleTTL, cfg.Sessions.SweepSchedule)
	if err := sw.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	defer sw.Stop()

	logger.Info("Starting meetingpod",
		"version", version,
		"addr", cfg.Addr(),
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"store", cfg.Store.Driver)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	return g.Wait()
}

func runAsk(ctx context.Context, opts AppOptions) error {
	opts = opts.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := setupLogger(cfg, opts.Stderr)

	data, err := os.ReadFile(transcriptFlag)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	sess, err := meetingpod.NewSession("cli", string(data))
	if err != nil {
		return err
	}

	llm, _, err := buildLLM(cfg, opts.LLMFactory)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}

	store := meetingpod.NewMemoryStorage()
	if err := store.SaveSession(ctx, sess); err != nil {
		return err
	}
	orchestrator := meetingpod.NewResponseOrchestrator(meetingpod.NewSessionMemoryRegistry(), llm,
		meetingpod.WithTimeout(cfg.LLM.Timeout),
		meetingpod.WithLogger(logger))
	srv := server.New(store, orchestrator, server.Options{Model: cfg.LLM.Model})

	if messageFlag != "" {
		reply, err := srv.Chat(ctx, sess.ID, messageFlag)
		if err != nil {
			return fmt.Errorf("chat: %w", err)
		}
		fmt.Fprintln(opts.Stdout, reply.Text)
		return nil
	}

	fmt.Fprintf(opts.Stdout, "meetingpod: loaded %d characters (type 'exit' to quit)\n", sess.Summary().TranscriptLength)
	scanner := bufio.NewScanner(opts.Stdin)
	for {
		fmt.Fprint(opts.Stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := srv.Chat(ctx, sess.ID, input)
		if err != nil {
			fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(opts.Stdout, reply.Text)
	}
	return scanner.Err()
}

func runStatus(w io.Writer) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		fmt.Fprintf(w, "Config: error (%v)\n", err)
		return nil
	}

	path := cfg.Path
	if path == "" {
		path = "(defaults and environment)"
	}
	fmt.Fprintf(w, "Config: %s\n", path)
	fmt.Fprintf(w, "Provider: %s\n", providerDisplay(cfg.LLM.Provider))
	fmt.Fprintf(w, "Model: %s\n", cfg.LLM.Model)
	if cfg.LLM.BaseURL != "" {
		fmt.Fprintf(w, "Base URL: %s\n", cfg.LLM.BaseURL)
	}
	fmt.Fprintf(w, "API Key: %s\n", cfg.MaskedAPIKey())
	fmt.Fprintf(w, "Listen: %s\n", cfg.Addr())
	fmt.Fprintf(w, "Store: %s\n", cfg.Store.Driver)
	if cfg.Sessions.IdleTTL > 0 {
		fmt.Fprintf(w, "Session TTL: %s (sweep %s)\n", cfg.Sessions.IdleTTL, cfg.Sessions.SweepSchedule)
	} else {
		fmt.Fprintln(w, "Session TTL: disabled")
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		fmt.Fprintf(w, "Tracing: %s\n", cfg.Telemetry.OTLPEndpoint)
	} else {
		fmt.Fprintln(w, "Tracing: disabled")
	}
	return nil
}

func providerDisplay(p string) string {
	if p == "" {
		return meetingpod.ProviderOpenAI + " (default)"
	}
	return p
}
