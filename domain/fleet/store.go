package fleet

import (
	"context"
	"errors"
)

// ErrNotRegistered is returned by registry lookups for unknown repositories.
var ErrNotRegistered = errors.New("repository not registered")

// ErrStateNotFound is returned by Get for repositories without a state file.
var ErrStateNotFound = errors.New("repository state not found")

// Registry persists the fleet's repository descriptors. Writes replace the
// whole file atomically; concurrent readers see the old or the new view,
// never a partial one.
type Registry interface {
	// Load returns every valid registered descriptor keyed by repo ID.
	// A corrupt registry yields an empty map, not an error.
	Load(ctx context.Context) (map[string]Descriptor, error)
	Register(ctx context.Context, desc Descriptor) error
	Unregister(ctx context.Context, repoID string) error
	FindByPath(ctx context.Context, repoPath string) (Descriptor, error)
	FindByID(ctx context.Context, repoID string) (Descriptor, error)
}

// StateStore persists one State per repository. Upsert is atomic per repo;
// there is no cross-repo transaction.
type StateStore interface {
	// LoadAll returns every readable state keyed by repo ID. Corrupt
	// per-repo files are skipped.
	LoadAll(ctx context.Context) (map[string]State, error)
	Get(ctx context.Context, repoID string) (State, error)
	Upsert(ctx context.Context, state State) error
	// Update reads the current state (or a fresh NewState when absent),
	// applies mutate, and persists the result. mutate must not perform I/O.
	Update(ctx context.Context, repoID string, mutate func(State) State) (State, error)
}

// ControlSurface drains operator signals. Every recognized flag is consumed
// exactly once per Read, even when acting on it later fails.
type ControlSurface interface {
	Read(ctx context.Context) (ControlEvents, error)
}
