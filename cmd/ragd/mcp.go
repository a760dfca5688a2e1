package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/llmc-dev/ragd"
	"github.com/llmc-dev/ragd/internal/log"
	"github.com/llmc-dev/ragd/internal/mcp"
	"github.com/spf13/cobra"
)

func mcpCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server on stdio",
		Long: `Start the MCP (Model Context Protocol) server on stdio.

Exposes the search and fleet_status tools so agent clients can query fresh
span indexes directly. Configuration is loaded from environment variables
and the config file.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")

	return cmd
}

func runMCP(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// stdout is the MCP transport; logs must stay off it.
	logger := log.NewLoggerWithWriter(os.Stderr, cfg.LogFormat(), cfg.LogLevel())
	log.SetDefaultLogger(logger)
	slogger := logger.Slog()

	slogger.Info("starting MCP server",
		slog.String("version", version),
		slog.String("home_root", cfg.HomeRoot()),
	)

	d, err := ragd.New(cfg, ragd.WithLogger(slogger), ragd.WithVersion(version))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			slogger.Error("failed to close daemon", slog.Any("error", err))
		}
	}()

	return mcp.NewServer(d.Search, d.Registry(), d.States(), version, slogger).ServeStdio()
}
