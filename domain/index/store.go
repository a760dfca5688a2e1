package index

import (
	"context"
	"time"
)

// SpanDiff reports the effect of a differential span replace.
type SpanDiff struct {
	Added     int
	Deleted   int
	Unchanged int
}

// Stats summarizes one index store for status surfaces.
type Stats struct {
	Files       int64
	Spans       int64
	Enrichments int64
	Edges       int64
	// Embeddings counts vectors per route table.
	Embeddings map[string]int64
}

// Store is one repo's index: files, spans, enrichments, per-route
// embedding tables, and the tech-docs edge graph. Implementations keep all
// multi-row writes inside a single transaction.
type Store interface {
	// UpsertFile inserts or updates a file record keyed by path and
	// returns the record with its database identifier set.
	UpsertFile(ctx context.Context, record FileRecord) (FileRecord, error)

	// DeleteFile removes a file and, via cascade, its spans, enrichments,
	// and embeddings.
	DeleteFile(ctx context.Context, path string) error

	// Files returns file records matching the options.
	Files(ctx context.Context, options ...Option) ([]FileRecord, error)

	// ReplaceSpansDifferential reconciles a file's spans against a newly
	// extracted set: spans whose hash disappeared are deleted (cascading),
	// new hashes are inserted, and unchanged spans are left untouched so
	// their enrichments and embeddings survive.
	ReplaceSpansDifferential(ctx context.Context, fileID int64, spans []Span) (SpanDiff, error)

	// Spans returns spans matching the options.
	Spans(ctx context.Context, options ...Option) ([]Span, error)

	// PendingEnrichments returns spans without enrichment rows in
	// insertion order, skipping spans whose file was modified within the
	// cooldown window. Candidates are over-fetched before the cooldown
	// filter so recently touched files cannot starve the batch.
	PendingEnrichments(ctx context.Context, limit int, cooldown time.Duration) ([]WorkItem, error)

	// PendingEmbeddings returns spans lacking a vector in the given route
	// table, in insertion order. A non-empty langs list restricts the
	// result to spans of those languages, so spans belonging to another
	// route never clog this route's pending set.
	PendingEmbeddings(ctx context.Context, limit int, table string, langs []string) ([]WorkItem, error)

	// StoreEnrichment persists an enrichment, replacing any previous
	// payload for the same span hash.
	StoreEnrichment(ctx context.Context, e Enrichment) error

	// Enrichments returns enrichments matching the options.
	Enrichments(ctx context.Context, options ...Option) ([]Enrichment, error)

	// StoreEmbedding writes a vector into the given route table,
	// replacing any previous vector for the same span hash.
	StoreEmbedding(ctx context.Context, table string, e Embedding) error

	// Vectors returns every embedding in the given route table.
	Vectors(ctx context.Context, table string) ([]Embedding, error)

	// WriteEdges persists tech-docs edges idempotently, keyed on
	// (source span, edge type, target text).
	WriteEdges(ctx context.Context, edges []Edge) error

	// IncrementSpanFailure bumps the persistent failure counter for a
	// span and returns the new count.
	IncrementSpanFailure(ctx context.Context, spanHash string) (int64, error)

	// FailureCounts returns the failure counters for the given spans.
	// Spans with no recorded failures are absent from the result.
	FailureCounts(ctx context.Context, spanHashes []string) (map[string]int64, error)

	// WorkItemsByHash resolves spans (with their file paths and
	// languages) for the given hashes.
	WorkItemsByHash(ctx context.Context, spanHashes []string) ([]WorkItem, error)

	// Stats summarizes row counts for status surfaces.
	Stats(ctx context.Context) (Stats, error)

	// Close releases the underlying database.
	Close() error
}

// StoreOpener opens the index store inside a repo workspace. A corrupt
// store file is quarantined (renamed aside with a timestamp suffix) and
// recreated empty; a second failure on the fresh file is returned.
type StoreOpener interface {
	Open(ctx context.Context, dbPath string) (Store, error)
}
