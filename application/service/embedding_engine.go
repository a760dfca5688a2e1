package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/provider"
	"github.com/llmc-dev/ragd/internal/config"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// EmbeddingEngine writes span vectors into route-specific tables. One engine
// serves the whole daemon: embedders are loaded once per profile and shared
// across jobs, while the index store of the repo at hand is passed per call.
type EmbeddingEngine struct {
	cfg       config.AppConfig
	embedders map[string]provider.Embedder // keyed by profile name
	logger    *slog.Logger

	mu     sync.Mutex
	warned map[string]bool // route names that already logged a fallback
}

// NewEmbeddingEngine wires an engine around the loaded embedders. The map
// key is the profile name each embedder was built for.
func NewEmbeddingEngine(cfg config.AppConfig, embedders map[string]provider.Embedder, logger *slog.Logger) *EmbeddingEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbeddingEngine{
		cfg:       cfg,
		embedders: embedders,
		logger:    logger,
		warned:    make(map[string]bool),
	}
}

// EmbedBatch embeds the planned items onto the named route and returns the
// number of vectors written. Backend failures abort the batch without
// retrying; spans left pending are picked up by a later job.
func (e *EmbeddingEngine) EmbedBatch(ctx context.Context, store index.Store, routeName string, items []index.WorkItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	route, profile, emb, err := e.resolve(routeName)
	if err != nil {
		return 0, err
	}
	if d := emb.Dimension(); d != 0 && profile.Dimension() != 0 && d != profile.Dimension() {
		e.logger.Error("embedder dimension does not match profile, skipping route",
			slog.String("route", routeName),
			slog.String("profile", route.Profile()),
			slog.Int("backend_dim", d),
			slog.Int("profile_dim", profile.Dimension()),
		)
		return 0, nil
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Snippet()
	}

	vectors, err := emb.EmbedPassages(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed %d passages on route %q: %w", len(items), routeName, err)
	}
	if len(vectors) != len(items) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d passages", len(vectors), len(items))
	}

	written := 0
	for i, item := range items {
		vec := vectors[i]
		if profile.Dimension() != 0 && len(vec) != profile.Dimension() {
			e.logger.Warn("vector width mismatch, skipping span",
				slog.String("span_hash", item.SpanHash()),
				slog.Int("got", len(vec)),
				slog.Int("want", profile.Dimension()),
			)
			continue
		}
		rec := index.NewEmbedding(item.SpanHash(), vec, routeName, route.Profile())
		if err := store.StoreEmbedding(ctx, route.Table(), rec); err != nil {
			return written, fmt.Errorf("store embedding %s: %w", item.SpanHash(), err)
		}
		metrics.EmbeddingsWritten.WithLabelValues(routeName).Inc()
		written++
	}
	return written, nil
}

// EmbedQuery embeds one query string with the named route's profile and
// returns the vector together with the route's table name.
func (e *EmbeddingEngine) EmbedQuery(ctx context.Context, routeName, text string) ([]float32, string, error) {
	route, _, emb, err := e.resolve(routeName)
	if err != nil {
		return nil, "", err
	}

	vectors, err := emb.EmbedQueries(ctx, []string{text})
	if err != nil {
		return nil, "", fmt.Errorf("embed query on route %q: %w", routeName, err)
	}
	if len(vectors) != 1 {
		return nil, "", fmt.Errorf("embedder returned %d vectors for one query", len(vectors))
	}
	return vectors[0], route.Table(), nil
}

// resolve maps a route name to its configuration and loaded embedder,
// logging at most one fallback warning per route name.
func (e *EmbeddingEngine) resolve(routeName string) (config.Route, config.Profile, provider.Embedder, error) {
	route, profile, fellBack, err := e.cfg.ResolveRoute(routeName)
	if err != nil {
		return config.Route{}, config.Profile{}, nil, fmt.Errorf("resolve route %q: %w", routeName, err)
	}
	if fellBack {
		e.warnFallback(routeName)
	}

	emb, ok := e.embedders[route.Profile()]
	if !ok {
		return config.Route{}, config.Profile{}, nil, fmt.Errorf("no embedder loaded for profile %q", route.Profile())
	}
	return route, profile, emb, nil
}

func (e *EmbeddingEngine) warnFallback(routeName string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.warned[routeName] {
		return
	}
	e.warned[routeName] = true
	e.logger.Warn("route not configured, using default route",
		slog.String("route", routeName),
		slog.String("default", e.cfg.DefaultRoute()),
	)
}
