// Package control drains operator signals from a directory of flag files.
// Creating a file is the whole protocol: `shutdown.flag` stops the daemon,
// `refresh_all.flag` forces the fleet, and `refresh_<repo_id>.flag` forces
// one repository. Every recognized flag is deleted after it is read, so a
// signal fires exactly once even if acting on it later fails.
package control

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/llmc-dev/ragd/domain/fleet"
)

const (
	flagSuffix      = ".flag"
	shutdownFlag    = "shutdown" + flagSuffix
	refreshAllFlag  = "refresh_all" + flagSuffix
	refreshPrefix   = "refresh_"
	refreshShortest = len(refreshPrefix) + 1
)

// FlagSurface implements fleet.ControlSurface on top of a flag directory.
type FlagSurface struct {
	dir    string
	logger *slog.Logger
}

// NewFlagSurface creates a control surface reading flags from dir.
func NewFlagSurface(dir string, logger *slog.Logger) *FlagSurface {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlagSurface{dir: dir, logger: logger}
}

// Dir returns the flag directory.
func (s *FlagSurface) Dir() string { return s.dir }

// Read scans the flag directory once, consumes every recognized flag, and
// returns the drained batch. A missing directory is an empty batch.
// Unrecognized files are left in place for the operator to inspect.
func (s *FlagSurface) Read(ctx context.Context) (fleet.ControlEvents, error) {
	events := fleet.NewControlEvents()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return events, nil
	}
	if err != nil {
		return events, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		switch {
		case name == shutdownFlag:
			events = events.WithShutdown()
		case name == refreshAllFlag:
			events = events.WithRefreshAll()
		case isRepoRefreshFlag(name):
			repoID := strings.TrimSuffix(strings.TrimPrefix(name, refreshPrefix), flagSuffix)
			events = events.WithRefreshRepo(repoID)
		default:
			continue
		}

		s.consume(name)
	}
	return events, nil
}

// consume deletes one recognized flag file. Deletion failures are logged and
// otherwise ignored; a flag that will not delete fires again next tick, which
// is safe because every signal is idempotent.
func (s *FlagSurface) consume(name string) {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("failed to delete control flag",
			slog.String("flag", name),
			slog.String("error", err.Error()),
		)
	}
}

// isRepoRefreshFlag reports whether name is refresh_<repo_id>.flag with a
// non-empty repo ID. refresh_all.flag is matched earlier and never reaches
// this check with its literal name, but guard against the empty ID anyway.
func isRepoRefreshFlag(name string) bool {
	return strings.HasPrefix(name, refreshPrefix) &&
		strings.HasSuffix(name, flagSuffix) &&
		len(name) >= refreshShortest+len(flagSuffix)
}
