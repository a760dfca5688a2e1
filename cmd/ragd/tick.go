package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/llmc-dev/ragd"
	"github.com/llmc-dev/ragd/internal/log"
	"github.com/spf13/cobra"
)

func tickCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduler pass and exit",
		Long: `Run one scheduler pass and exit.

Recovers stale running states left by a crashed daemon, consumes control
flags, schedules every eligible repository, and waits for the resulting jobs
to finish. Useful from cron and for debugging scheduling decisions.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")

	return cmd
}

func runTick(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := log.Configure(cfg)
	slogger := logger.Slog()

	d, err := ragd.New(cfg, ragd.WithLogger(slogger), ragd.WithVersion(version))
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			slogger.Error("failed to close daemon", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shutdown := d.RunTick(ctx); shutdown {
		slogger.Info("shutdown flag consumed")
	}
	return nil
}
