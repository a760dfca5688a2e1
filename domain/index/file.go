// Package index defines the per-repo code index: files, spans, enrichments,
// embeddings, and the pending-work views over them.
package index

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// HashFile computes a file's content identity: the hex-encoded SHA-256 of
// its bytes. The indexer compares it against the stored record to
// short-circuit unchanged files.
func HashFile(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// FileRecord is one indexed source file within a repo workspace.
// Immutable value object; identity within a repo is the relative path.
type FileRecord struct {
	id       int64
	path     string
	lang     string
	fileHash string
	size     int64
	mtime    time.Time
}

// NewFileRecord creates a file record for a file observed on disk.
func NewFileRecord(path, lang, fileHash string, size int64, mtime time.Time) FileRecord {
	return FileRecord{
		path:     path,
		lang:     lang,
		fileHash: fileHash,
		size:     size,
		mtime:    mtime,
	}
}

// ReconstructFileRecord recreates a file record from persistence.
func ReconstructFileRecord(id int64, path, lang, fileHash string, size int64, mtime time.Time) FileRecord {
	f := NewFileRecord(path, lang, fileHash, size, mtime)
	f.id = id
	return f
}

// ID returns the database identifier (0 when not yet persisted).
func (f FileRecord) ID() int64 { return f.id }

// Path returns the file path relative to the repo root.
func (f FileRecord) Path() string { return f.path }

// Lang returns the detected language.
func (f FileRecord) Lang() string { return f.lang }

// FileHash returns the content digest of the whole file.
func (f FileRecord) FileHash() string { return f.fileHash }

// Size returns the file size in bytes.
func (f FileRecord) Size() int64 { return f.size }

// ModTime returns the file modification time observed at index time.
func (f FileRecord) ModTime() time.Time { return f.mtime }

// WithID returns a copy with the database identifier set.
func (f FileRecord) WithID(id int64) FileRecord {
	f.id = id
	return f
}
