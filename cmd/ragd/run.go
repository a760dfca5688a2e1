package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/llmc-dev/ragd"
	"github.com/llmc-dev/ragd/internal/config"
	"github.com/llmc-dev/ragd/internal/log"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		configPath string
		apiAddr    string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the indexing daemon",
		Long: `Run the indexing daemon: scheduler tick loop, worker pool, and status API.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. Config file (--config, $RAGD_CONFIG, or <home>/rag-daemon.yml)
  3. .env file (if one exists in the current directory)
  4. Environment variables
  5. Command line flags

Environment variables:
  LLMC_HOME                      llmc home directory (default: ~/.llmc)
  RAGD_CONFIG                    Daemon config file path
  RAGD_TICK_INTERVAL_SECONDS     Scheduler tick interval (default: 60)
  RAGD_MAX_CONCURRENT_JOBS       Worker pool size; 0 pauses job submission (default: 2)
  RAGD_MAX_CONSECUTIVE_FAILURES  Failure count that parks a repo (default: 5)
  RAGD_BASE_BACKOFF_SECONDS      First failure backoff delay (default: 60)
  RAGD_MAX_BACKOFF_SECONDS       Backoff ceiling (default: 3600)
  RAGD_REGISTRY_PATH             Registry file (default: <home>/repos.yml)
  RAGD_STATE_STORE_PATH          Per-repo state directory (default: <home>/rag-state)
  RAGD_CONTROL_DIR               Control flag directory (default: <home>/rag-control)
  RAGD_LOG_PATH                  Daemon log file (default: <home>/logs/rag-daemon/rag-daemon.log)
  RAGD_JOB_RUNNER_CMD            External job runner command; empty runs jobs in-process
  RAGD_LOG_LEVEL                 Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  RAGD_LOG_FORMAT                Log format: pretty, json (default: pretty)
  RAGD_API_ADDR                  Status API listen address; empty disables it
  RAGD_REPOS_ROOT                Directory tree registered repos must live under

  RAGD_LOCAL_*                   Local model server (OpenAI-compatible)
    BASE_URL                     Base URL (default: http://127.0.0.1:8080/v1)
    API_KEY                      API key, if the server requires one

  RAGD_GATEWAY_*                 Remote gateway serving the nano tier
    BASE_URL                     Gateway base URL
    API_KEY                      Gateway API key
    MODEL                        Gateway model identifier
    TIMEOUT_SECONDS              Per-call timeout (default: 180)

  ROUTER_*                       Enrichment tier router thresholds
    CONTEXT_LIMIT, MAX_TOKENS_HEADROOM, NODE_LIMIT, DEPTH_LIMIT,
    ARRAY_LIMIT, CSV_LIMIT, NESTING_LIMIT, LINE_THRESHOLDS=low,high,
    DEFAULT_TIER, PROMOTE_ONCE

  OPENAI_API_KEY                 Credentials for openai embedding profiles
  OPENAI_BASE_URL                Base URL override for openai embedding profiles`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, apiAddr, logLevel)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default: $RAGD_CONFIG or <home>/rag-daemon.yml)")
	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "Status API listen address (overrides config)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR (overrides config)")

	return cmd
}

func runDaemon(configPath, apiAddr, logLevel string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Apply command line overrides (flags take precedence over env vars)
	cfg = applyRunOverrides(cfg, apiAddr, logLevel)

	// The rolling log file needs its directory before logging starts
	if err := cfg.EnsureDirs(); err != nil {
		return fmt.Errorf("prepare daemon directories: %w", err)
	}

	logger, logCloser, err := log.ConfigureDaemon(cfg)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() { _ = logCloser.Close() }()
	slogger := logger.Slog()

	attrs := append([]slog.Attr{slog.String("version", version)}, cfg.LogAttrs()...)
	slogger.LogAttrs(context.Background(), slog.LevelInfo, "starting ragd", attrs...)

	d, err := ragd.New(cfg, ragd.WithLogger(slogger), ragd.WithVersion(version))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			slogger.Error("failed to close daemon", slog.Any("error", err))
		}
	}()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		slogger.Info("shutdown signal received, draining jobs")
		cancel()
		// Further signals are ignored; shutdown is best-effort graceful
		// and in-flight jobs run to completion.
		for range sigChan {
			slogger.Info("already shutting down, waiting for jobs to drain")
		}
	}()

	if err := d.Run(ctx); err != nil {
		return fmt.Errorf("daemon: %w", err)
	}

	slogger.Info("ragd stopped")
	return nil
}

// applyRunOverrides applies command line flag overrides to the config.
func applyRunOverrides(cfg config.AppConfig, apiAddr, logLevel string) config.AppConfig {
	var opts []config.AppConfigOption

	if apiAddr != "" {
		opts = append(opts, config.WithAPIAddr(apiAddr))
	}
	if logLevel != "" {
		opts = append(opts, config.WithLogLevel(logLevel))
	}

	return cfg.Apply(opts...)
}
