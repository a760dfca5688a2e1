package service

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/internal/config"
)

// workspaceSchemaVersion is the workspace layout generation recorded in
// config/version.yml when a workspace is first materialized.
const workspaceSchemaVersion = 1

type workspaceRoute struct {
	Table     string `yaml:"table"`
	Profile   string `yaml:"profile"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type workspaceConfig struct {
	Profile string                    `yaml:"profile"`
	Routes  map[string]workspaceRoute `yaml:"routes"`
}

type workspaceVersion struct {
	SchemaVersion int `yaml:"schema_version"`
}

// scaffoldWorkspace materializes config/rag.yml and config/version.yml on a
// workspace's first run. Existing files are left alone: the workspace keeps
// recording the configuration it was built with, so later daemon config
// changes are visible as drift instead of silently rewriting history.
func scaffoldWorkspace(cfg config.AppConfig, repo fleet.Descriptor) error {
	configDir := filepath.Join(repo.WorkspacePath(), "config")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create workspace config dir: %w", err)
	}

	ragYML := func() (any, error) {
		routes := make(map[string]workspaceRoute, len(cfg.Routes()))
		for name := range cfg.Routes() {
			route, profile, _, err := cfg.ResolveRoute(name)
			if err != nil {
				return nil, fmt.Errorf("resolve route %q: %w", name, err)
			}
			routes[name] = workspaceRoute{
				Table:     route.Table(),
				Profile:   route.Profile(),
				Model:     profile.Model(),
				Dimension: profile.Dimension(),
			}
		}
		return workspaceConfig{Profile: effectiveProfile(cfg, repo), Routes: routes}, nil
	}
	if err := writeYAMLIfAbsent(filepath.Join(configDir, "rag.yml"), ragYML); err != nil {
		return err
	}

	versionYML := func() (any, error) {
		return workspaceVersion{SchemaVersion: workspaceSchemaVersion}, nil
	}
	return writeYAMLIfAbsent(filepath.Join(configDir, "version.yml"), versionYML)
}

// effectiveProfile names the profile this repo enriches and embeds with: the
// descriptor's own when set, otherwise the default route's.
func effectiveProfile(cfg config.AppConfig, repo fleet.Descriptor) string {
	if repo.Profile() != "" {
		return repo.Profile()
	}
	if route, ok := cfg.Routes()[cfg.DefaultRoute()]; ok {
		return route.Profile()
	}
	return ""
}

func writeYAMLIfAbsent(path string, build func() (any, error)) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	doc, err := build()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
