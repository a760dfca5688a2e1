package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/indexstore"
	"github.com/llmc-dev/ragd/infrastructure/provider"
)

// scriptedEmbedder returns canned vectors or a canned error.
type scriptedEmbedder struct {
	vectors [][]float32
	err     error
	dim     int
}

func (s scriptedEmbedder) EmbedPassages(context.Context, []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

func (s scriptedEmbedder) EmbedQueries(ctx context.Context, texts []string) ([][]float32, error) {
	return s.EmbedPassages(ctx, texts)
}

func (s scriptedEmbedder) Dimension() int { return s.dim }

func (s scriptedEmbedder) Close() error { return nil }

// captureHandler records every log record, for asserting on log volume.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) count(message string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Message == message {
			n++
		}
	}
	return n
}

func engineStore(t *testing.T) index.Store {
	t.Helper()
	store, err := indexstore.NewOpener(nil).Open(context.Background(), filepath.Join(t.TempDir(), "spans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func workItem(hash, snippet string) index.WorkItem {
	return index.NewWorkItem(hash, "pkg/a.go", "go", 1, 2, 0, int64(len(snippet))).WithSnippet(snippet)
}

func TestEmbeddingEngine_EmbedBatch_WritesVectors(t *testing.T) {
	store := engineStore(t)
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": fixedEmbedder{vector: []float32{1, 0, 0}},
	}, nil)

	items := []index.WorkItem{workItem("span-1", "alpha"), workItem("span-2", "beta")}
	written, err := engine.EmbedBatch(context.Background(), store, "docs", items)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	vectors, err := store.Vectors(context.Background(), "embeddings")
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	for _, v := range vectors {
		assert.Equal(t, "docs", v.RouteName())
		assert.Equal(t, "default-docs", v.ProfileName())
		assert.Equal(t, 3, v.Dimension())
	}
}

func TestEmbeddingEngine_EmbedBatch_EmptyBatch(t *testing.T) {
	engine := NewEmbeddingEngine(searchTestConfig(), nil, nil)

	written, err := engine.EmbedBatch(context.Background(), nil, "docs", nil)
	require.NoError(t, err)
	assert.Zero(t, written)
}

func TestEmbeddingEngine_EmbedBatch_MissingEmbedder(t *testing.T) {
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{}, nil)

	_, err := engine.EmbedBatch(context.Background(), nil, "docs", []index.WorkItem{workItem("span-1", "alpha")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no embedder loaded")
}

func TestEmbeddingEngine_EmbedBatch_BackendError(t *testing.T) {
	backendErr := errors.New("model offline")
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": scriptedEmbedder{err: backendErr, dim: 3},
	}, nil)

	written, err := engine.EmbedBatch(context.Background(), nil, "docs", []index.WorkItem{workItem("span-1", "alpha")})
	require.ErrorIs(t, err, backendErr)
	assert.Zero(t, written)
}

func TestEmbeddingEngine_EmbedBatch_CountMismatch(t *testing.T) {
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": scriptedEmbedder{vectors: [][]float32{{1, 0, 0}}, dim: 3},
	}, nil)

	items := []index.WorkItem{workItem("span-1", "alpha"), workItem("span-2", "beta")}
	_, err := engine.EmbedBatch(context.Background(), nil, "docs", items)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vectors for 2 passages")
}

func TestEmbeddingEngine_EmbedBatch_SkipsWrongWidthVectors(t *testing.T) {
	store := engineStore(t)
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": scriptedEmbedder{vectors: [][]float32{{1, 0, 0}, {1, 0}}, dim: 3},
	}, nil)

	items := []index.WorkItem{workItem("span-1", "alpha"), workItem("span-2", "beta")}
	written, err := engine.EmbedBatch(context.Background(), store, "docs", items)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	vectors, err := store.Vectors(context.Background(), "embeddings")
	require.NoError(t, err)
	require.Len(t, vectors, 1)
	assert.Equal(t, "span-1", vectors[0].SpanHash())
}

func TestEmbeddingEngine_EmbedBatch_BackendDimensionMismatchSkipsRoute(t *testing.T) {
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": scriptedEmbedder{vectors: [][]float32{{1, 0, 0, 0, 0}}, dim: 5},
	}, nil)

	written, err := engine.EmbedBatch(context.Background(), nil, "docs", []index.WorkItem{workItem("span-1", "alpha")})
	require.NoError(t, err)
	assert.Zero(t, written, "a misconfigured route is skipped, not failed")
}

func TestEmbeddingEngine_EmbedQuery(t *testing.T) {
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": fixedEmbedder{vector: []float32{0, 1, 0}},
	}, nil)

	vec, table, err := engine.EmbedQuery(context.Background(), "docs", "how does it work?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 1, 0}, vec)
	assert.Equal(t, "embeddings", table)
}

func TestEmbeddingEngine_UnknownRouteFallsBackOnce(t *testing.T) {
	handler := &captureHandler{}
	engine := NewEmbeddingEngine(searchTestConfig(), map[string]provider.Embedder{
		"default-docs": fixedEmbedder{vector: []float32{0, 1, 0}},
	}, slog.New(handler))

	for range 3 {
		_, table, err := engine.EmbedQuery(context.Background(), "audit", "query")
		require.NoError(t, err)
		assert.Equal(t, "embeddings", table, "unknown routes resolve to the default route")
	}

	assert.Equal(t, 1, handler.count("route not configured, using default route"))
}
