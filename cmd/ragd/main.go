// Package main is the entry point for the ragd CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/llmc-dev/ragd/internal/config"
	"github.com/spf13/cobra"
)

// Version information set via ldflags during build.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, "Run 'ragd --help' for usage.")
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragd",
		Short: "Always-fresh code index daemon",
		Long: `ragd keeps code-understanding indexes fresh for a fleet of local
repositories. It re-reads a shared registry on every tick, runs differential
index jobs for repositories whose files changed, enriches changed spans
through tiered LLM routing, and serves the results to agent tooling over a
localhost status API and MCP.

Running ragd without a subcommand starts the daemon loop, same as 'ragd run'.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon("", "", "")
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err}
	})

	cmd.AddCommand(runCmd())
	cmd.AddCommand(tickCmd())
	cmd.AddCommand(configCmd())
	cmd.AddCommand(doctorCmd())
	cmd.AddCommand(jobCmd())
	cmd.AddCommand(mcpCmd())
	cmd.AddCommand(versionCmd())

	return cmd
}

// usageError marks operator mistakes (bad flags, wrong arguments) so main
// exits 2 instead of 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// usageArgs wraps a cobra argument validator so its failures carry the
// usage exit status.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// loadConfig loads the daemon configuration from the .env file, environment
// variables, and the config file.
func loadConfig(configPath string) (config.AppConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.AppConfig{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
