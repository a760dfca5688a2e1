// Package fleet defines the repository fleet: registry descriptors,
// per-repo run state, control events, and the scheduling policy that
// decides when a repository's index is refreshed.
package fleet

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

// RepoIDLength is the number of hex characters in a derived repo ID.
const RepoIDLength = 12

// DeriveRepoID returns the stable identifier for a repository at the given
// canonical path: the first 12 hex characters of the path's SHA-256 digest.
// Callers must canonicalize the path first; the same path always yields the
// same ID.
func DeriveRepoID(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:])[:RepoIDLength]
}

// DefaultWorkspacePath returns the workspace directory used when a
// registration does not name one explicitly.
func DefaultWorkspacePath(repoPath string) string {
	return filepath.Join(repoPath, ".llmc", "rag")
}

// Descriptor identifies one registered repository and how it should be
// refreshed. Immutable for the lifetime of a scheduling tick.
type Descriptor struct {
	repoID        string
	repoPath      string
	workspacePath string
	displayName   string
	profile       string
	minRefresh    time.Duration
	tags          []string
	createdAt     time.Time
	updatedAt     time.Time
}

// NewDescriptor creates a Descriptor for a repository at repoPath. The repo
// ID is derived from the path; an empty workspacePath falls back to
// DefaultWorkspacePath.
func NewDescriptor(repoPath, workspacePath, displayName, profile string) Descriptor {
	if workspacePath == "" {
		workspacePath = DefaultWorkspacePath(repoPath)
	}
	now := time.Now().UTC()
	return Descriptor{
		repoID:        DeriveRepoID(repoPath),
		repoPath:      repoPath,
		workspacePath: workspacePath,
		displayName:   displayName,
		profile:       profile,
		createdAt:     now,
		updatedAt:     now,
	}
}

// ReconstructDescriptor creates a Descriptor with all fields (used by the
// registry when loading).
func ReconstructDescriptor(
	repoID, repoPath, workspacePath, displayName, profile string,
	minRefresh time.Duration,
	tags []string,
	createdAt, updatedAt time.Time,
) Descriptor {
	return Descriptor{
		repoID:        repoID,
		repoPath:      repoPath,
		workspacePath: workspacePath,
		displayName:   displayName,
		profile:       profile,
		minRefresh:    minRefresh,
		tags:          copyTags(tags),
		createdAt:     createdAt,
		updatedAt:     updatedAt,
	}
}

// RepoID returns the stable repository identifier.
func (d Descriptor) RepoID() string { return d.repoID }

// RepoPath returns the absolute repository path.
func (d Descriptor) RepoPath() string { return d.repoPath }

// WorkspacePath returns the directory holding the index store and logs.
func (d Descriptor) WorkspacePath() string { return d.workspacePath }

// IndexDBPath returns the span index database file inside the workspace.
func (d Descriptor) IndexDBPath() string {
	return filepath.Join(d.workspacePath, "indexes", "spans.db")
}

// DisplayName returns the human-readable name.
func (d Descriptor) DisplayName() string { return d.displayName }

// Profile returns the embedding/enrichment profile key.
func (d Descriptor) Profile() string { return d.profile }

// MinRefreshInterval returns the per-repo refresh floor. Zero means "use the
// global tick interval".
func (d Descriptor) MinRefreshInterval() time.Duration { return d.minRefresh }

// Tags returns a copy of the descriptor tags.
func (d Descriptor) Tags() []string { return copyTags(d.tags) }

// CreatedAt returns when the repository was registered.
func (d Descriptor) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns when the registration was last modified.
func (d Descriptor) UpdatedAt() time.Time { return d.updatedAt }

// WithMinRefreshInterval returns a copy with the refresh floor set.
func (d Descriptor) WithMinRefreshInterval(interval time.Duration) Descriptor {
	d.minRefresh = interval
	d.updatedAt = time.Now().UTC()
	return d
}

// WithTags returns a copy with the tags replaced.
func (d Descriptor) WithTags(tags ...string) Descriptor {
	d.tags = copyTags(tags)
	d.updatedAt = time.Now().UTC()
	return d
}

// WithDisplayName returns a copy with the display name replaced.
func (d Descriptor) WithDisplayName(name string) Descriptor {
	d.displayName = name
	d.updatedAt = time.Now().UTC()
	return d
}

func copyTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, len(tags))
	copy(out, tags)
	return out
}
