// NeoMind is a streaming smart-home orchestration engine.
//
// It exposes an HTTP API for streaming chat, bridges LLM tool calls to
// MQTT devices and a local automation store, and routes each query to a
// model preset by complexity. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	neomind serve            Start the API server
//	neomind ask <question>   Ask a single question (for testing)
//	neomind version          Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mingmingshen/neomind/internal/api"
	"github.com/mingmingshen/neomind/internal/automation"
	"github.com/mingmingshen/neomind/internal/buildinfo"
	"github.com/mingmingshen/neomind/internal/config"
	"github.com/mingmingshen/neomind/internal/contextwin"
	"github.com/mingmingshen/neomind/internal/devices"
	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/memory"
	"github.com/mingmingshen/neomind/internal/prompts"
	"github.com/mingmingshen/neomind/internal/router"
	"github.com/mingmingshen/neomind/internal/stream"
	"github.com/mingmingshen/neomind/internal/tools"
	"github.com/mingmingshen/neomind/internal/usage"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the neomind command. All OS-level
// dependencies are injected as parameters: ctx controls process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand — the flag package relies
// on package-level globals, which makes it impossible to call run()
// concurrently from tests, and the argument surface is small.
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
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: neomind ask <question>")
		}
		return runAsk(ctx, stdout, configPath, cmdArgs)
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
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "NeoMind - Streaming Smart-Home Orchestration Engine")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: neomind [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/neomind/config.yaml, /etc/neomind/config.yaml")
	return nil
}

// runAsk handles the "neomind ask <question>" subcommand. It boots a
// minimal engine (no persistence, no MQTT) and streams one answer to
// stdout. Useful for smoke tests without starting the server.
func runAsk(ctx context.Context, stdout io.Writer, configPath string, args []string) error {
	logger := newLogger(stdout, slog.LevelWarn)

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := llm.NewOllamaClient(cfg.Ollama.URL)
	rtr := router.New(logger, routerConfig(cfg), client)
	engine := stream.NewEngine(stream.EngineConfig{
		Client:   client,
		Registry: tools.NewEmptyRegistry(),
		Logger:   logger,
	})

	model, guards, _ := rtr.Route(ctx, question)

	_, err = engine.Run(ctx, stream.Request{
		Model: model,
		Messages: []llm.Message{
			llm.System(prompts.BaseSystemPrompt()),
			llm.User(question),
		},
		Safeguards:    guards,
		MaxChainDepth: cfg.Chat.MaxChainDepth,
	}, func(ev events.StreamEvent) {
		if ev.Type == events.TypeContent {
			fmt.Fprint(stdout, ev.Text)
		}
	})
	fmt.Fprintln(stdout)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	return nil
}

// runServe handles the "neomind serve" subcommand: load config, open
// stores, connect MQTT, wire the engine and API server, and block
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting NeoMind",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"ollama_url", cfg.Ollama.URL,
		"balanced_model", cfg.Models.Balanced,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	memStore, err := memory.Open(filepath.Join(cfg.DataDir, "neomind.db"))
	if err != nil {
		return fmt.Errorf("open memory database: %w", err)
	}
	defer memStore.Close()

	usageStore, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return fmt.Errorf("open usage database: %w", err)
	}
	defer usageStore.Close()

	automationStore, err := automation.Open(filepath.Join(cfg.DataDir, "automation.db"))
	if err != nil {
		return fmt.Errorf("open automation database: %w", err)
	}
	defer automationStore.Close()

	bus := events.NewBus()

	// --- Device backend ---
	// Optional: without a broker the device tools report errors but
	// chat and automations still work.
	var backend tools.Backend
	var deviceSummary func() string
	if cfg.MQTT.Broker != "" {
		mqttBackend := devices.New(devices.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			CommandTimeout: time.Duration(cfg.MQTT.CommandTimeoutSec) * time.Second,
		}, bus, logger)
		if err := mqttBackend.Start(ctx); err != nil {
			return fmt.Errorf("start mqtt backend: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			mqttBackend.Stop(stopCtx)
		}()
		backend = mqttBackend
		deviceSummary = mqttBackend.DeviceSummary
		logger.Info("mqtt device backend started", "broker", cfg.MQTT.Broker)
	} else {
		logger.Warn("mqtt not configured - device tools will be unavailable")
	}

	registry := tools.NewRegistry(backend, automationStore)

	// --- LLM client and engine ---
	client := llm.NewOllamaClient(cfg.Ollama.URL)
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		logger.Warn("ollama not reachable at startup", "url", cfg.Ollama.URL, "error", err)
	}
	pingCancel()

	rtr := router.New(logger, routerConfig(cfg), client)

	var preamble stream.IntentClassifier
	if cfg.Chat.IntentPreamble {
		preamble = rtr
	}

	engine := stream.NewEngine(stream.EngineConfig{
		Client:   client,
		Registry: registry,
		Cache:    stream.NewResultCache(),
		Recorder: memStore,
		Preamble: preamble,
		Logger:   logger,
		Bus:      bus,
	})

	server := api.NewServer(api.Config{
		Address:       cfg.Listen.Address,
		Port:          cfg.Listen.Port,
		Engine:        engine,
		Router:        rtr,
		Assembler:     contextwin.NewAssembler(logger),
		Memory:        memStore,
		Usage:         usageStore,
		Bus:           bus,
		ContextWindow: cfg.Models.ContextWindow,
		MaxChainDepth: cfg.Chat.MaxChainDepth,
		DeviceSummary: deviceSummary,
		Logger:        logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}

func routerConfig(cfg *config.Config) router.Config {
	return router.Config{
		FastModel:      cfg.Models.Fast,
		BalancedModel:  cfg.Models.Balanced,
		ReasoningModel: cfg.Models.Reasoning,
	}
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
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
