package indexstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/internal/testdb"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db := testdb.NewPlain(t)
	require.NoError(t, autoMigrate(context.Background(), db))
	return NewSQLiteStore(db, slog.Default())
}

// seedFile indexes one file with spans derived from the given bodies and
// returns the persisted record plus the span hashes in body order.
func seedFile(t *testing.T, s *SQLiteStore, path string, bodies ...string) (index.FileRecord, []string) {
	t.Helper()
	ctx := context.Background()

	record, err := s.UpsertFile(ctx, index.NewFileRecord(
		path, "go", "filehash-"+path, 100, time.Now().Add(-time.Hour),
	))
	require.NoError(t, err)

	spans := make([]index.Span, len(bodies))
	hashes := make([]string, len(bodies))
	for i, body := range bodies {
		hashes[i] = index.HashSpan("go", []byte(body))
		spans[i] = index.NewSpan(
			fmt.Sprintf("sym%d", i), index.KindFunction,
			i*10+1, i*10+5, int64(i*100), int64(i*100+80),
			hashes[i], "",
		)
	}
	_, err = s.ReplaceSpansDifferential(ctx, record.ID(), spans)
	require.NoError(t, err)
	return record, hashes
}

func enrich(t *testing.T, s *SQLiteStore, spanHash string) {
	t.Helper()
	payload := index.Payload{Summary: "does a thing"}
	err := s.StoreEnrichment(context.Background(), index.NewEnrichment(spanHash, payload, "qwen2.5-coder-7b-instruct", "7b"))
	require.NoError(t, err)
}

func TestUpsertFile_InsertThenUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mtime := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)

	first, err := s.UpsertFile(ctx, index.NewFileRecord("pkg/a.go", "go", "hash1", 10, mtime))
	require.NoError(t, err)
	assert.NotZero(t, first.ID())

	second, err := s.UpsertFile(ctx, index.NewFileRecord("pkg/a.go", "go", "hash2", 20, mtime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID(), "upsert must keep the row identity")
	assert.Equal(t, "hash2", second.FileHash())

	files, err := s.Files(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
}

func TestReplaceSpansDifferential_FirstIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, err := s.UpsertFile(ctx, index.NewFileRecord("pkg/a.go", "go", "h", 10, time.Now()))
	require.NoError(t, err)

	spans := []index.Span{
		index.NewSpan("A", index.KindFunction, 1, 5, 0, 80, index.HashSpan("go", []byte("func A()")), ""),
		index.NewSpan("B", index.KindFunction, 7, 12, 90, 200, index.HashSpan("go", []byte("func B()")), ""),
	}
	diff, err := s.ReplaceSpansDifferential(ctx, record.ID(), spans)
	require.NoError(t, err)
	assert.Equal(t, index.SpanDiff{Added: 2, Deleted: 0, Unchanged: 0}, diff)

	stored, err := s.Spans(ctx, index.WithFileID(record.ID()))
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestReplaceSpansDifferential_PreservesUnchangedEnrichments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// a.py indexed with three spans, all enriched.
	record, hashes := seedFile(t, s, "a.py", "def a():", "def b():", "def c():")
	hA := hashes[0]
	for _, h := range hashes {
		enrich(t, s, h)
	}
	before, err := s.Enrichments(ctx)
	require.NoError(t, err)
	require.Len(t, before, 3)

	// Edit: hB changes, hC is removed, hD appears.
	hBPrime := index.HashSpan("go", []byte("def b(): # edited"))
	hD := index.HashSpan("go", []byte("def d():"))
	edited := []index.Span{
		index.NewSpan("a", index.KindFunction, 1, 5, 0, 80, hA, ""),
		index.NewSpan("b", index.KindFunction, 7, 12, 90, 200, hBPrime, ""),
		index.NewSpan("d", index.KindFunction, 14, 20, 210, 320, hD, ""),
	}
	diff, err := s.ReplaceSpansDifferential(ctx, record.ID(), edited)
	require.NoError(t, err)
	assert.Equal(t, index.SpanDiff{Added: 2, Deleted: 2, Unchanged: 1}, diff)

	// Span rows are exactly the new set.
	stored, err := s.Spans(ctx, index.WithFileID(record.ID()))
	require.NoError(t, err)
	got := make(map[string]bool, len(stored))
	for _, sp := range stored {
		got[sp.Hash()] = true
	}
	assert.Equal(t, map[string]bool{hA: true, hBPrime: true, hD: true}, got)

	// Enrichment for hA survives; the hB and hC rows cascade away.
	after, err := s.Enrichments(ctx)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, hA, after[0].SpanHash())

	// The two new spans are pending.
	pending, err := s.PendingEnrichments(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	pendingHashes := []string{pending[0].SpanHash(), pending[1].SpanHash()}
	assert.ElementsMatch(t, []string{hBPrime, hD}, pendingHashes)
}

func TestReplaceSpansDifferential_NoOpWhenUnchanged(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	record, hashes := seedFile(t, s, "a.go", "func A()", "func B()")
	same := []index.Span{
		index.NewSpan("A", index.KindFunction, 1, 5, 0, 80, hashes[0], ""),
		index.NewSpan("B", index.KindFunction, 7, 12, 90, 200, hashes[1], ""),
	}

	diff, err := s.ReplaceSpansDifferential(ctx, record.ID(), same)
	require.NoError(t, err)
	assert.Equal(t, index.SpanDiff{Added: 0, Deleted: 0, Unchanged: 2}, diff)
}

func TestDeleteFile_CascadesToDerivedRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()")
	enrich(t, s, hashes[0])
	err := s.StoreEmbedding(ctx, "embeddings", index.NewEmbedding(hashes[0], []float32{1, 2, 3}, "docs", "default-docs"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, "a.go"))

	spans, err := s.Spans(ctx)
	require.NoError(t, err)
	assert.Empty(t, spans)

	enrichments, err := s.Enrichments(ctx)
	require.NoError(t, err)
	assert.Empty(t, enrichments)

	vectors, err := s.Vectors(ctx, "embeddings")
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestPendingEnrichments_InsertionOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()", "func B()", "func C()")

	pending, err := s.PendingEnrichments(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, hashes[0], pending[0].SpanHash())
	assert.Equal(t, hashes[1], pending[1].SpanHash())
	assert.Equal(t, "a.go", pending[0].Path())
	assert.Equal(t, "go", pending[0].Lang())
}

func TestPendingEnrichments_SkipsEnrichedSpans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()", "func B()")
	enrich(t, s, hashes[0])

	pending, err := s.PendingEnrichments(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, hashes[1], pending[0].SpanHash())
}

func TestPendingEnrichments_CooldownSkipsFreshFiles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Fresh file: mtime now, inside the cooldown window.
	fresh, err := s.UpsertFile(ctx, index.NewFileRecord("fresh.go", "go", "h1", 10, time.Now()))
	require.NoError(t, err)
	_, err = s.ReplaceSpansDifferential(ctx, fresh.ID(), []index.Span{
		index.NewSpan("F", index.KindFunction, 1, 3, 0, 30, index.HashSpan("go", []byte("fresh")), ""),
	})
	require.NoError(t, err)

	// Settled file: mtime an hour ago.
	_, settledHashes := seedFile(t, s, "settled.go", "func S()")

	pending, err := s.PendingEnrichments(ctx, 10, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, settledHashes[0], pending[0].SpanHash())
}

func TestPendingEnrichments_OverFetchSurvivesCooldownFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Three fresh spans occupy the head of the insertion order; with a
	// plain `LIMIT 2` fetch they would starve the batch entirely.
	fresh, err := s.UpsertFile(ctx, index.NewFileRecord("fresh.go", "go", "h1", 10, time.Now()))
	require.NoError(t, err)
	freshSpans := make([]index.Span, 3)
	for i := range freshSpans {
		body := fmt.Sprintf("fresh %d", i)
		freshSpans[i] = index.NewSpan(
			fmt.Sprintf("f%d", i), index.KindFunction,
			i*10+1, i*10+3, int64(i*50), int64(i*50+30),
			index.HashSpan("go", []byte(body)), "",
		)
	}
	_, err = s.ReplaceSpansDifferential(ctx, fresh.ID(), freshSpans)
	require.NoError(t, err)

	_, settledHashes := seedFile(t, s, "settled.go", "func S()", "func T()")

	pending, err := s.PendingEnrichments(ctx, 2, 10*time.Minute)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, settledHashes[0], pending[0].SpanHash())
	assert.Equal(t, settledHashes[1], pending[1].SpanHash())
}

func TestPendingEmbeddings_PerRouteTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()", "func B()")

	err := s.StoreEmbedding(ctx, "emb_code", index.NewEmbedding(hashes[0], []float32{1, 0}, "code", "default-code"))
	require.NoError(t, err)

	// hashes[0] has a vector in emb_code, so only hashes[1] is pending there.
	pendingCode, err := s.PendingEmbeddings(ctx, 10, "emb_code", nil)
	require.NoError(t, err)
	require.Len(t, pendingCode, 1)
	assert.Equal(t, hashes[1], pendingCode[0].SpanHash())

	// The docs table is untouched, so both spans are pending in it.
	pendingDocs, err := s.PendingEmbeddings(ctx, 10, "embeddings", nil)
	require.NoError(t, err)
	assert.Len(t, pendingDocs, 2)
}

func TestPendingEmbeddings_LangFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, goHashes := seedFile(t, s, "a.go", "func A()")

	doc, err := s.UpsertFile(ctx, index.NewFileRecord("guide.md", "markdown", "h-md", 20, time.Now().Add(-time.Hour)))
	require.NoError(t, err)
	mdSpan := index.NewSpan("Guide", index.KindSection, 1, 5, 0, 40,
		index.HashSpan("markdown", []byte("# Guide")), "")
	_, err = s.ReplaceSpansDifferential(ctx, doc.ID(), []index.Span{mdSpan})
	require.NoError(t, err)

	pending, err := s.PendingEmbeddings(ctx, 10, "embeddings", []string{"markdown", "plain"})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mdSpan.Hash(), pending[0].SpanHash())

	all, err := s.PendingEmbeddings(ctx, 10, "embeddings", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, goHashes[0], all[0].SpanHash())
}

func TestStoreEnrichment_LastWriterWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()")
	h := hashes[0]

	first := index.NewEnrichment(h, index.Payload{Summary: "first"}, "m1", "7b")
	require.NoError(t, s.StoreEnrichment(ctx, first))

	second := index.NewEnrichment(h, index.Payload{
		Summary: "second",
		Inputs:  []string{"ctx context.Context"},
		Tags:    []string{"io"},
	}, "m2", "14b")
	require.NoError(t, s.StoreEnrichment(ctx, second))

	got, err := s.Enrichments(ctx, index.WithSpanHash(h))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "second", got[0].Payload().Summary)
	assert.Equal(t, []string{"ctx context.Context"}, got[0].Payload().Inputs)
	assert.Equal(t, "m2", got[0].Model())
	assert.Equal(t, "14b", got[0].TierUsed())
}

func TestStoreEmbedding_ReplaceAndReadBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()")
	h := hashes[0]

	require.NoError(t, s.StoreEmbedding(ctx, "embeddings", index.NewEmbedding(h, []float32{1, 2, 3}, "docs", "default-docs")))
	require.NoError(t, s.StoreEmbedding(ctx, "embeddings", index.NewEmbedding(h, []float32{4, 5, 6}, "docs", "default-docs")))

	vectors, err := s.Vectors(ctx, "embeddings")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, []float32{4, 5, 6}, vectors[0].Vector())
	assert.Equal(t, "docs", vectors[0].RouteName())
	assert.Equal(t, "default-docs", vectors[0].ProfileName())
}

func TestStoreEmbedding_RejectsHostileTableName(t *testing.T) {
	s := newTestStore(t)
	err := s.StoreEmbedding(context.Background(), "emb; DROP TABLE spans", index.NewEmbedding("h", []float32{1}, "x", "y"))
	require.Error(t, err)
}

func TestWriteEdges_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "doc.md", "## Setup section")
	edges := []index.Edge{
		index.NewEdge(hashes[0], "", "config.Load", index.EdgeReferences, 0.8),
		index.NewEdge(hashes[0], "", "CGO_ENABLED=1", index.EdgeRequires, 0.9),
	}

	require.NoError(t, s.WriteEdges(ctx, edges))
	require.NoError(t, s.WriteEdges(ctx, edges))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Edges)
}

func TestIncrementSpanFailure_CountsAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.IncrementSpanFailure(ctx, "hash-x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.IncrementSpanFailure(ctx, "hash-x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := s.FailureCounts(ctx, []string{"hash-x", "hash-never-failed"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"hash-x": 2}, counts)
}

func TestWorkItemsByHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()", "func B()")

	items, err := s.WorkItemsByHash(ctx, []string{hashes[1]})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, hashes[1], items[0].SpanHash())
	assert.Equal(t, "a.go", items[0].Path())
}

func TestStats_CountsRouteTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, hashes := seedFile(t, s, "a.go", "func A()", "func B()")
	enrich(t, s, hashes[0])
	require.NoError(t, s.StoreEmbedding(ctx, "embeddings", index.NewEmbedding(hashes[0], []float32{1}, "docs", "default-docs")))
	require.NoError(t, s.StoreEmbedding(ctx, "emb_code", index.NewEmbedding(hashes[1], []float32{1}, "code", "default-code")))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Files)
	assert.Equal(t, int64(2), stats.Spans)
	assert.Equal(t, int64(1), stats.Enrichments)
	assert.Equal(t, int64(1), stats.Embeddings["embeddings"])
	assert.Equal(t, int64(1), stats.Embeddings["emb_code"])
}

func TestOpener_CreatesMissingStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rag", "indexes", "index.db")

	store, err := NewOpener(slog.Default()).Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Files)
}

func TestOpener_QuarantinesCorruptStore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "index.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("this is not a sqlite file, not even close"), 0o644))

	store, err := NewOpener(slog.Default()).Open(context.Background(), dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	// The fresh store works.
	_, err = store.UpsertFile(context.Background(), index.NewFileRecord("a.go", "go", "h", 1, time.Now()))
	require.NoError(t, err)

	// The corrupt file was renamed aside with a timestamp suffix.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	quarantined := 0
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupt-") {
			quarantined++
		}
	}
	assert.Equal(t, 1, quarantined)
}
