package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/llmc-dev/ragd"
	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/internal/log"
	"github.com/spf13/cobra"
)

func jobCmd() *cobra.Command {
	var (
		configPath    string
		repoPath      string
		workspacePath string
		profile       string
	)

	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run one repository job and exit",
		Long: `Run one index-enrich-embed job for a single repository and exit.

This is the job runner entry point: setting job_runner_cmd to "ragd job"
makes the daemon run every job in a child process with this command. The job
summary is printed to stdout as a JSON object on the final line. Exit code 0
means success; anything else is a failure whose reason is on stderr. Logs go
to stderr.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			if repoPath == "" {
				return usageError{errors.New("--repo is required")}
			}
			return runJob(configPath, repoPath, workspacePath, profile)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")
	cmd.Flags().StringVar(&repoPath, "repo", "", "Repository path (required)")
	cmd.Flags().StringVar(&workspacePath, "workspace", "", "Workspace path (default: <repo>/.llmc/rag)")
	cmd.Flags().StringVar(&profile, "profile", "", "Embedding profile override")

	return cmd
}

func runJob(configPath, repoPath, workspacePath, profile string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// stdout carries the summary line the parent parses; logs go to stderr.
	logger := log.NewLoggerWithWriter(os.Stderr, cfg.LogFormat(), cfg.LogLevel())
	log.SetDefaultLogger(logger)
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

	desc := fleet.NewDescriptor(repoPath, workspacePath, "", profile)

	// The parent kills the child when the budget expires; applying the same
	// budget here first lets the job stop cleanly and still print a summary.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.JobTimeBudget())
	defer cancel()

	result := d.Jobs.Run(ctx, desc)

	summary := result.Summary()
	if summary == nil {
		summary = map[string]any{}
	}
	out, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	fmt.Println(string(out))

	if !result.Success() {
		return errors.New(result.ErrorReason())
	}
	return nil
}
