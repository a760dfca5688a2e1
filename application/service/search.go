// Package service provides application layer services that orchestrate domain operations.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/domain/routing"
	"github.com/llmc-dev/ragd/infrastructure/search"
)

// defaultSearchLimit caps result counts when the caller does not ask for one.
const defaultSearchLimit = 10

// SearchOption configures a search request.
type SearchOption func(*searchConfig)

// searchConfig holds search parameters.
type searchConfig struct {
	route string
	limit int
	langs []string
}

// newSearchConfig creates a searchConfig with defaults.
func newSearchConfig() *searchConfig {
	return &searchConfig{limit: defaultSearchLimit}
}

// WithRoute pins the query to a named route instead of classifying it.
func WithRoute(name string) SearchOption {
	return func(c *searchConfig) {
		c.route = name
	}
}

// WithLimit sets the maximum number of results.
func WithLimit(n int) SearchOption {
	return func(c *searchConfig) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithLangFilter restricts results to the given languages.
func WithLangFilter(langs ...string) SearchOption {
	return func(c *searchConfig) {
		for _, lang := range langs {
			if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
				c.langs = append(c.langs, lang)
			}
		}
	}
}

// SearchHit is one ranked span with its location and enrichment summary.
type SearchHit struct {
	spanHash  string
	path      string
	lang      string
	startLine int
	endLine   int
	score     float64
	summary   string
}

// NewSearchHit assembles a ranked hit.
func NewSearchHit(spanHash, path, lang string, startLine, endLine int, score float64, summary string) SearchHit {
	return SearchHit{
		spanHash:  spanHash,
		path:      path,
		lang:      lang,
		startLine: startLine,
		endLine:   endLine,
		score:     score,
		summary:   summary,
	}
}

// SpanHash returns the span's content hash.
func (h SearchHit) SpanHash() string { return h.spanHash }

// Path returns the repo-relative file path containing the span.
func (h SearchHit) Path() string { return h.path }

// Lang returns the span's language.
func (h SearchHit) Lang() string { return h.lang }

// StartLine returns the span's first line (1-based).
func (h SearchHit) StartLine() int { return h.startLine }

// EndLine returns the span's last line (1-based, inclusive).
func (h SearchHit) EndLine() int { return h.endLine }

// Score returns the cosine similarity against the query.
func (h SearchHit) Score() float64 { return h.score }

// Summary returns the span's enrichment summary, empty when not yet enriched.
func (h SearchHit) Summary() string { return h.summary }

// SearchResult carries the ranked hits plus the route the query ran on.
type SearchResult struct {
	route      string
	confidence float64
	reasons    []string
	hits       []SearchHit
}

// NewSearchResult assembles a result envelope.
func NewSearchResult(route string, confidence float64, reasons []string, hits []SearchHit) SearchResult {
	return SearchResult{
		route:      route,
		confidence: confidence,
		reasons:    slices.Clone(reasons),
		hits:       slices.Clone(hits),
	}
}

// Route returns the route name the query was embedded with.
func (r SearchResult) Route() string { return r.route }

// Confidence returns the classifier's confidence, 1 for explicit overrides.
func (r SearchResult) Confidence() float64 { return r.confidence }

// Reasons returns the classifier's signals, for operator-facing surfaces.
func (r SearchResult) Reasons() []string { return slices.Clone(r.reasons) }

// Hits returns the ranked matches, best first.
func (r SearchResult) Hits() []SearchHit { return slices.Clone(r.hits) }

// Count returns the number of hits.
func (r SearchResult) Count() int { return len(r.hits) }

// SearchService answers interactive queries against one registered
// repository's index: classify the query onto a route, embed it with that
// route's profile, rank the stored span vectors, and join in enrichment
// summaries where they exist.
type SearchService struct {
	registry   fleet.Registry
	opener     index.StoreOpener
	embeddings *EmbeddingEngine
	router     routing.Router
	logger     *slog.Logger
}

// NewSearchService creates a SearchService.
func NewSearchService(
	registry fleet.Registry,
	opener index.StoreOpener,
	embeddings *EmbeddingEngine,
	router routing.Router,
	logger *slog.Logger,
) *SearchService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchService{
		registry:   registry,
		opener:     opener,
		embeddings: embeddings,
		router:     router,
		logger:     logger,
	}
}

// Search runs query against the repository identified by repoRef, which may
// be a repo ID or a filesystem path. Reads go straight to the repo's live
// index store, so results reflect whatever the last completed job wrote.
func (s *SearchService) Search(ctx context.Context, repoRef, query string, opts ...SearchOption) (SearchResult, error) {
	searchCfg := newSearchConfig()
	for _, opt := range opts {
		opt(searchCfg)
	}

	desc, err := s.lookupRepo(ctx, repoRef)
	if err != nil {
		return SearchResult{}, err
	}

	route := routing.QueryRoute{Route: searchCfg.route, Confidence: 1, Reasons: []string{"route override"}}
	if searchCfg.route == "" {
		route = s.router.ClassifyQuery(query)
		s.logger.Debug("classified query",
			"repo_id", desc.RepoID(),
			"route", route.Route,
			"confidence", route.Confidence,
			"reasons", strings.Join(route.Reasons, "; "))
	}

	vector, table, err := s.embeddings.EmbedQuery(ctx, route.Route, query)
	if err != nil {
		return SearchResult{}, fmt.Errorf("embed query: %w", err)
	}

	store, err := s.opener.Open(ctx, desc.IndexDBPath())
	if err != nil {
		return SearchResult{}, fmt.Errorf("open index store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			s.logger.Warn("failed to close index store", "repo_id", desc.RepoID(), "error", closeErr)
		}
	}()

	vectors, err := store.Vectors(ctx, table)
	if err != nil {
		return SearchResult{}, fmt.Errorf("load vectors: %w", err)
	}

	result := SearchResult{route: route.Route, confidence: route.Confidence, reasons: route.Reasons}
	if len(vectors) == 0 {
		return result, nil
	}

	// A language filter discards hits after ranking, so rank the whole
	// table and trim to the limit at the end.
	k := searchCfg.limit
	if len(searchCfg.langs) > 0 {
		k = len(vectors)
	}
	matches := search.TopK(vector, vectors, k)

	hashes := make([]string, len(matches))
	for i, m := range matches {
		hashes[i] = m.SpanHash()
	}

	items, err := store.WorkItemsByHash(ctx, hashes)
	if err != nil {
		return SearchResult{}, fmt.Errorf("resolve spans: %w", err)
	}
	byHash := make(map[string]index.WorkItem, len(items))
	for _, item := range items {
		byHash[item.SpanHash()] = item
	}

	summaries := s.fetchSummaries(ctx, store, hashes, desc.RepoID())

	for _, m := range matches {
		item, ok := byHash[m.SpanHash()]
		if !ok {
			// The span was deleted after its vector was written; the next
			// job's differential pass removes the orphan.
			continue
		}
		if len(searchCfg.langs) > 0 && !slices.Contains(searchCfg.langs, item.Lang()) {
			continue
		}
		result.hits = append(result.hits, SearchHit{
			spanHash:  m.SpanHash(),
			path:      item.Path(),
			lang:      item.Lang(),
			startLine: item.StartLine(),
			endLine:   item.EndLine(),
			score:     m.Score(),
			summary:   summaries[m.SpanHash()],
		})
		if len(result.hits) == searchCfg.limit {
			break
		}
	}

	s.logger.Debug("search complete",
		"repo_id", desc.RepoID(),
		"route", route.Route,
		"candidates", len(vectors),
		"hits", len(result.hits))
	return result, nil
}

// lookupRepo resolves repoRef as a repo ID first, then as a repository path.
func (s *SearchService) lookupRepo(ctx context.Context, repoRef string) (fleet.Descriptor, error) {
	desc, err := s.registry.FindByID(ctx, repoRef)
	if err == nil {
		return desc, nil
	}
	return s.registry.FindByPath(ctx, repoRef)
}

// fetchSummaries joins enrichment summaries onto the given span hashes.
// Missing enrichments are normal for spans the engine has not reached yet,
// and a read failure degrades the results rather than failing the query.
func (s *SearchService) fetchSummaries(ctx context.Context, store index.Store, hashes []string, repoID string) map[string]string {
	enrichments, err := store.Enrichments(ctx, index.WithSpanHashIn(hashes))
	if err != nil {
		s.logger.Warn("failed to fetch enrichments", "repo_id", repoID, "error", err)
		return nil
	}
	summaries := make(map[string]string, len(enrichments))
	for _, e := range enrichments {
		summaries[e.SpanHash()] = e.Payload().Summary
	}
	return summaries
}
