// hivemind - terminal chat client for a multi-agent assistant gateway.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/morganforge/hivemind-tui/internal/api"
	"github.com/morganforge/hivemind-tui/internal/chat"
	"github.com/morganforge/hivemind-tui/internal/cli"
	"github.com/morganforge/hivemind-tui/internal/config"
	"github.com/morganforge/hivemind-tui/internal/history"
	"github.com/morganforge/hivemind-tui/internal/storage"
	"github.com/morganforge/hivemind-tui/internal/telemetry"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	cmd := ""
	if len(os.Args) > 1 {
		cmd = strings.ToLower(os.Args[1])
	}

	var err error
	switch cmd {
	case "", "chat":
		err = runChat()
	case "version", "-v", "--version":
		fmt.Printf("hivemind %s (%s, %s)\n", Version, GitCommit, BuildDate)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`hivemind - terminal chat client for a multi-agent assistant

Usage:
  hivemind [chat]     Start an interactive chat session
  hivemind version    Print version information
  hivemind help       Show this help

Configuration is read from ~/.hivemind/config.toml; HIVEMIND_* environment
variables override file values (HIVEMIND_GATEWAY_URL, HIVEMIND_CHAIN_ID,
HIVEMIND_WALLET, HIVEMIND_DATA_DIR, HIVEMIND_AGENTS, HIVEMIND_LOG_LEVEL).`)
}

// runChat wires the full stack and enters the REPL.
func runChat() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("chat requires an interactive terminal")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	dataDir, err := cfg.DataDirPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.NewStore(dataDir, logger)
	if err != nil {
		return err
	}
	if len(store.SelectedAgents()) == 0 && len(cfg.DefaultAgents) > 0 {
		if err := store.SetSelectedAgents(cfg.DefaultAgents); err != nil {
			logger.Warn("failed to seed agent selection", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := storage.NewWatcher(ctx, store)
	if err != nil {
		logger.Warn("store watcher unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	recorder, err := telemetry.NewRunRecorder(filepath.Join(dataDir, "telemetry.db"))
	if err != nil {
		logger.Warn("telemetry archive unavailable", "error", err)
		recorder = nil
	} else {
		defer recorder.Close()
	}

	client := api.NewClient(cfg.GatewayURL, cfg.ChainID, cfg.WalletAddress).
		WithTimeout(cfg.Timeout()).
		WithMaxRetries(cfg.MaxRetries).
		WithLogger(logger)
	if cfg.RateLimitRPS > 0 {
		client.WithRateLimit(cfg.RateLimitRPS, 1)
	}

	hist := history.NewManager(store, logger)
	engine := chat.NewEngine(store, hist, client, recorder, logger)

	repl := cli.NewREPL(engine, store, hist, recorder, dataDir, logger)
	return repl.Run(ctx)
}

// newLogger builds the process logger writing to stderr so log lines
// never interleave with REPL output on stdout.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
