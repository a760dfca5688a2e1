// Package registry persists the fleet's repository descriptors in a single
// YAML file. Writes replace the whole file atomically so concurrent readers
// see either the old or the new view, never a partial one.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/llmc-dev/ragd/domain/fleet"
)

// sensitivePrefixes are system directories a registered repository may never
// live under. Entries beneath them are dropped from the loaded view.
var sensitivePrefixes = []string{"/etc", "/proc", "/sys", "/dev"}

// entry is the on-disk shape of one registered repository.
type entry struct {
	RepoPath          string    `yaml:"repo_path"`
	WorkspacePath     string    `yaml:"rag_workspace_path"`
	DisplayName       string    `yaml:"display_name"`
	Profile           string    `yaml:"rag_profile"`
	Tags              []string  `yaml:"tags,omitempty"`
	CreatedAt         time.Time `yaml:"created_at"`
	UpdatedAt         time.Time `yaml:"updated_at"`
	MinRefreshSeconds int       `yaml:"min_refresh_interval_seconds,omitempty"`
}

// FileRegistry implements fleet.Registry on top of a YAML file.
type FileRegistry struct {
	path      string
	reposRoot string
	logger    *slog.Logger
}

// NewFileRegistry creates a registry backed by the YAML file at path. When
// reposRoot is non-empty, loaded entries outside it are dropped.
func NewFileRegistry(path, reposRoot string, logger *slog.Logger) *FileRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if reposRoot != "" {
		reposRoot = filepath.Clean(reposRoot)
	}
	return &FileRegistry{path: path, reposRoot: reposRoot, logger: logger}
}

// Path returns the registry file location.
func (r *FileRegistry) Path() string { return r.path }

// Load returns every valid registered descriptor keyed by repo ID. A missing
// or corrupt registry file yields an empty map, not an error.
func (r *FileRegistry) Load(ctx context.Context) (map[string]fleet.Descriptor, error) {
	raw, err := r.readAll()
	if err != nil {
		return nil, err
	}

	view := make(map[string]fleet.Descriptor, len(raw))
	for id, e := range raw {
		if !r.allowed(e.RepoPath) {
			continue
		}
		view[id] = toDescriptor(id, e)
	}
	return view, nil
}

// Register adds or replaces the descriptor's registry entry.
func (r *FileRegistry) Register(ctx context.Context, desc fleet.Descriptor) error {
	raw, err := r.readAll()
	if err != nil {
		return err
	}
	raw[desc.RepoID()] = fromDescriptor(desc)
	return r.writeAll(raw)
}

// Unregister removes the entry for repoID. Unknown IDs return
// fleet.ErrNotRegistered.
func (r *FileRegistry) Unregister(ctx context.Context, repoID string) error {
	raw, err := r.readAll()
	if err != nil {
		return err
	}
	if _, ok := raw[repoID]; !ok {
		return fmt.Errorf("%w: %s", fleet.ErrNotRegistered, repoID)
	}
	delete(raw, repoID)
	return r.writeAll(raw)
}

// FindByPath returns the descriptor registered for the repository at
// repoPath. The path is resolved to its canonical form before matching.
func (r *FileRegistry) FindByPath(ctx context.Context, repoPath string) (fleet.Descriptor, error) {
	canonical := CanonicalPath(repoPath)
	view, err := r.Load(ctx)
	if err != nil {
		return fleet.Descriptor{}, err
	}
	for _, desc := range view {
		if desc.RepoPath() == canonical {
			return desc, nil
		}
	}
	return fleet.Descriptor{}, fmt.Errorf("%w: %s", fleet.ErrNotRegistered, repoPath)
}

// FindByID returns the descriptor registered under repoID.
func (r *FileRegistry) FindByID(ctx context.Context, repoID string) (fleet.Descriptor, error) {
	view, err := r.Load(ctx)
	if err != nil {
		return fleet.Descriptor{}, err
	}
	desc, ok := view[repoID]
	if !ok {
		return fleet.Descriptor{}, fmt.Errorf("%w: %s", fleet.ErrNotRegistered, repoID)
	}
	return desc, nil
}

// CanonicalPath returns the absolute, symlink-resolved form of path. Paths
// that do not exist yet resolve as far as the filesystem allows.
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// allowed reports whether a stored repo path may appear in the loaded view.
func (r *FileRegistry) allowed(repoPath string) bool {
	if !filepath.IsAbs(repoPath) {
		return false
	}
	clean := filepath.Clean(repoPath)
	for _, prefix := range sensitivePrefixes {
		if clean == prefix || strings.HasPrefix(clean, prefix+string(filepath.Separator)) {
			return false
		}
	}
	if r.reposRoot != "" {
		if clean != r.reposRoot && !strings.HasPrefix(clean, r.reposRoot+string(filepath.Separator)) {
			return false
		}
	}
	return true
}

// readAll parses the registry file into its raw entries. A corrupt payload
// is logged and treated as empty so the daemon keeps running.
func (r *FileRegistry) readAll() (map[string]entry, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	raw := map[string]entry{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		r.logger.Warn("registry file is corrupt, treating as empty",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		return map[string]entry{}, nil
	}
	return raw, nil
}

// writeAll replaces the registry file with the given entries via temp-file
// plus rename.
func (r *FileRegistry) writeAll(entries map[string]entry) error {
	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func toDescriptor(id string, e entry) fleet.Descriptor {
	workspace := e.WorkspacePath
	if workspace == "" {
		workspace = fleet.DefaultWorkspacePath(e.RepoPath)
	}
	return fleet.ReconstructDescriptor(
		id,
		e.RepoPath,
		workspace,
		e.DisplayName,
		e.Profile,
		time.Duration(e.MinRefreshSeconds)*time.Second,
		e.Tags,
		e.CreatedAt,
		e.UpdatedAt,
	)
}

func fromDescriptor(d fleet.Descriptor) entry {
	return entry{
		RepoPath:          d.RepoPath(),
		WorkspacePath:     d.WorkspacePath(),
		DisplayName:       d.DisplayName(),
		Profile:           d.Profile(),
		Tags:              d.Tags(),
		CreatedAt:         d.CreatedAt(),
		UpdatedAt:         d.UpdatedAt(),
		MinRefreshSeconds: int(d.MinRefreshInterval() / time.Second),
	}
}
