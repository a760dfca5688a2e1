// Package state persists per-repository run state as one JSON file per repo
// under a root directory. Each upsert rewrites a single repo's file via
// temp-file plus rename; there is no cross-repo transaction.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/llmc-dev/ragd/domain/fleet"
)

const stateFileSuffix = ".json"

// document is the on-disk shape of one repository's state. Timestamps are
// RFC 3339; absent instants are omitted.
type document struct {
	RepoID              string         `json:"repo_id"`
	Status              string         `json:"last_run_status"`
	LastRunStartedAt    *time.Time     `json:"last_run_started_at,omitempty"`
	LastRunFinishedAt   *time.Time     `json:"last_run_finished_at,omitempty"`
	LastErrorReason     string         `json:"last_error_reason,omitempty"`
	ConsecutiveFailures int            `json:"consecutive_failures"`
	NextEligibleAt      *time.Time     `json:"next_eligible_at,omitempty"`
	LastJobSummary      map[string]any `json:"last_job_summary,omitempty"`
}

// FileStore implements fleet.StateStore on top of a directory of JSON files.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a state store rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{root: dir, logger: logger}
}

// Root returns the state directory.
func (s *FileStore) Root() string { return s.root }

// LoadAll returns every readable state keyed by repo ID. Corrupt files are
// logged and skipped so one bad repo cannot hide the rest of the fleet.
func (s *FileStore) LoadAll(ctx context.Context) (map[string]fleet.State, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]fleet.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	states := make(map[string]fleet.State, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), stateFileSuffix) {
			continue
		}
		st, err := s.readFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			s.logger.Warn("skipping unreadable state file",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		states[st.RepoID()] = st
	}
	return states, nil
}

// Get returns the stored state for repoID. Missing files return
// fleet.ErrStateNotFound.
func (s *FileStore) Get(ctx context.Context, repoID string) (fleet.State, error) {
	st, err := s.readFile(s.filePath(repoID))
	if errors.Is(err, fs.ErrNotExist) {
		return fleet.State{}, fmt.Errorf("%w: %s", fleet.ErrStateNotFound, repoID)
	}
	if err != nil {
		return fleet.State{}, err
	}
	return st, nil
}

// Upsert writes the state to <repo_id>.json.tmp and renames it into place.
func (s *FileStore) Upsert(ctx context.Context, state fleet.State) error {
	if state.RepoID() == "" {
		return errors.New("state has no repo id")
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(fromState(state), "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	path := s.filePath(state.RepoID())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// Update reads the current state (or a fresh one when absent), applies
// mutate, and persists the result. An unreadable file is replaced rather
// than blocking the repo forever.
func (s *FileStore) Update(ctx context.Context, repoID string, mutate func(fleet.State) fleet.State) (fleet.State, error) {
	current, err := s.Get(ctx, repoID)
	switch {
	case errors.Is(err, fleet.ErrStateNotFound):
		current = fleet.NewState(repoID)
	case err != nil:
		s.logger.Warn("replacing unreadable state file",
			slog.String("repo_id", repoID),
			slog.String("error", err.Error()),
		)
		current = fleet.NewState(repoID)
	}

	next := mutate(current)
	if err := s.Upsert(ctx, next); err != nil {
		return fleet.State{}, err
	}
	return next, nil
}

func (s *FileStore) filePath(repoID string) string {
	return filepath.Join(s.root, repoID+stateFileSuffix)
}

func (s *FileStore) readFile(path string) (fleet.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fleet.State{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fleet.State{}, fmt.Errorf("decode state: %w", err)
	}
	if doc.RepoID == "" {
		doc.RepoID = strings.TrimSuffix(filepath.Base(path), stateFileSuffix)
	}
	status := fleet.RunStatus(doc.Status)
	if !status.IsValid() {
		return fleet.State{}, fmt.Errorf("invalid run status %q", doc.Status)
	}
	return toState(doc, status), nil
}

func toState(doc document, status fleet.RunStatus) fleet.State {
	return fleet.ReconstructState(
		doc.RepoID,
		status,
		timeValue(doc.LastRunStartedAt),
		timeValue(doc.LastRunFinishedAt),
		doc.LastErrorReason,
		doc.ConsecutiveFailures,
		timeValue(doc.NextEligibleAt),
		doc.LastJobSummary,
	)
}

func fromState(st fleet.State) document {
	return document{
		RepoID:              st.RepoID(),
		Status:              string(st.Status()),
		LastRunStartedAt:    timePointer(st.LastRunStartedAt()),
		LastRunFinishedAt:   timePointer(st.LastRunFinishedAt()),
		LastErrorReason:     st.LastErrorReason(),
		ConsecutiveFailures: st.ConsecutiveFailures(),
		NextEligibleAt:      timePointer(st.NextEligibleAt()),
		LastJobSummary:      st.LastJobSummary(),
	}
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func timePointer(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
