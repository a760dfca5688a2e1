package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/infrastructure/registry"
	"github.com/llmc-dev/ragd/internal/config"
	"github.com/llmc-dev/ragd/internal/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func doctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check daemon paths, permissions, and configuration",
		Long: `Check that the daemon can actually run: the configuration is valid, the
registry parses, the state, control, and log directories are writable, every
registered repository is reachable, and the job runner command resolves.

Prints one PASS or FAIL line per check and exits non-zero if any check fails.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file")

	return cmd
}

// check is one doctor diagnostic: a human-readable name and a probe that
// returns nil on PASS.
type check struct {
	name string
	run  func() error
}

func runDoctor(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Directory creation comes first so writability probes on a fresh
	// install exercise the same paths the daemon would create.
	checks := []check{
		{"config valid", cfg.Validate},
		{"daemon directories: " + cfg.HomeRoot(), cfg.EnsureDirs},
		{"registry parseable: " + cfg.RegistryPath(), func() error { return checkRegistryFile(cfg.RegistryPath()) }},
		{"state dir writable: " + cfg.StateDir(), func() error { return checkWritable(cfg.StateDir()) }},
		{"control dir writable: " + cfg.ControlDir(), func() error { return checkWritable(cfg.ControlDir()) }},
		{"log dir writable: " + filepath.Dir(cfg.LogPath()), func() error { return checkWritable(filepath.Dir(cfg.LogPath())) }},
		{"job runner resolvable", func() error { return checkJobRunner(cfg.JobRunnerCmd()) }},
	}
	checks = append(checks, repoChecks(cfg)...)

	pass := color.New(color.FgGreen).Sprint("PASS")
	fail := color.New(color.FgRed).Sprint("FAIL")

	failures := 0
	for _, c := range checks {
		if err := c.run(); err != nil {
			failures++
			fmt.Printf("%s  %s: %v\n", fail, c.name, err)
			continue
		}
		fmt.Printf("%s  %s\n", pass, c.name)
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d checks failed", failures, len(checks))
	}
	fmt.Printf("\n%d checks passed\n", len(checks))
	return nil
}

// repoChecks builds one check per registered repository. The registry
// forgives a corrupt file; checkRegistryFile reports that case separately.
func repoChecks(cfg config.AppConfig) []check {
	reg := registry.NewFileRegistry(cfg.RegistryPath(), cfg.ReposRoot(), log.Default().Slog())
	descs, err := reg.Load(context.Background())
	if err != nil {
		return []check{{"registry readable", func() error { return err }}}
	}

	ids := make([]string, 0, len(descs))
	for id := range descs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	checks := make([]check, 0, len(ids))
	for _, id := range ids {
		desc := descs[id]
		checks = append(checks, check{
			name: fmt.Sprintf("repo %s: %s", desc.DisplayName(), desc.RepoPath()),
			run:  func() error { return checkRepo(desc) },
		})
	}
	return checks
}

func checkRepo(desc fleet.Descriptor) error {
	info, err := os.Stat(desc.RepoPath())
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}

	// A missing workspace is fine: the first job creates it.
	if _, err := os.Stat(desc.WorkspacePath()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return checkWritable(desc.WorkspacePath())
}

// checkRegistryFile verifies the registry parses as a YAML mapping. The
// daemon itself treats a corrupt registry as empty and keeps running, so this
// is the only place a broken file surfaces loudly.
func checkRegistryFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // empty fleet
		}
		return err
	}
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}

func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".ragd-doctor-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

func checkJobRunner(command string) error {
	if command == "" {
		return nil // jobs run in-process
	}
	fields := strings.Fields(command)
	if _, err := exec.LookPath(fields[0]); err != nil {
		return err
	}
	return nil
}
