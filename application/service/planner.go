package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/llmc-dev/ragd/domain/index"
)

// planFetchFactor is how many times the requested batch size the planner
// pulls from the store, so the failure-cap filter and the diversity pass
// have candidates to choose from.
const planFetchFactor = 4

// Planner turns pending store rows into work items ready for an engine:
// it filters out spans that failed too often, spreads a batch across
// distinct files, and attaches the span text read back from disk.
type Planner struct {
	store    index.Store
	repoRoot string
	logger   *slog.Logger
}

// NewPlanner creates a planner reading span bytes relative to repoRoot.
func NewPlanner(store index.Store, repoRoot string, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{store: store, repoRoot: repoRoot, logger: logger}
}

// PlanEnrichment returns up to limit spans awaiting enrichment, with
// prompt snippets attached. Spans whose persistent failure count reached
// maxFailures are skipped; snippets are truncated to snippetMax characters.
func (p *Planner) PlanEnrichment(
	ctx context.Context,
	limit int,
	cooldown time.Duration,
	maxFailures int,
	snippetMax int,
) ([]index.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	candidates, err := p.store.PendingEnrichments(ctx, limit*planFetchFactor, cooldown)
	if err != nil {
		return nil, err
	}

	candidates, err = p.dropCapped(ctx, candidates, maxFailures)
	if err != nil {
		return nil, err
	}

	return p.attachSnippets(diversify(candidates, limit), snippetMax), nil
}

// PlanEmbedding returns up to limit spans lacking a vector in the route's
// table, with the full span text attached. langs restricts candidates to
// the route's languages; nil means every span.
func (p *Planner) PlanEmbedding(
	ctx context.Context,
	limit int,
	table string,
	langs []string,
) ([]index.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	candidates, err := p.store.PendingEmbeddings(ctx, limit*planFetchFactor, table, langs)
	if err != nil {
		return nil, err
	}

	// Embedding backends consume the whole span, not a prompt snippet.
	return p.attachSnippets(diversify(candidates, limit), 0), nil
}

// dropCapped removes spans whose failure counter reached maxFailures.
// maxFailures <= 0 disables the cap.
func (p *Planner) dropCapped(ctx context.Context, items []index.WorkItem, maxFailures int) ([]index.WorkItem, error) {
	if maxFailures <= 0 || len(items) == 0 {
		return items, nil
	}

	hashes := make([]string, len(items))
	for i, it := range items {
		hashes[i] = it.SpanHash()
	}
	counts, err := p.store.FailureCounts(ctx, hashes)
	if err != nil {
		return nil, err
	}

	kept := items[:0]
	for _, it := range items {
		if counts[it.SpanHash()] >= int64(maxFailures) {
			p.logger.Debug("span reached failure cap, skipping",
				slog.String("span_hash", it.SpanHash()),
				slog.String("path", it.Path()),
				slog.Int64("failures", counts[it.SpanHash()]),
			)
			continue
		}
		kept = append(kept, it)
	}
	return kept, nil
}

// diversify picks up to limit items preferring distinct files before
// repeating within a file. Batches that already fit are returned unchanged
// in insertion order.
func diversify(items []index.WorkItem, limit int) []index.WorkItem {
	if len(items) <= limit {
		return items
	}

	byFile := make(map[string][]index.WorkItem)
	var fileOrder []string
	for _, it := range items {
		if _, seen := byFile[it.Path()]; !seen {
			fileOrder = append(fileOrder, it.Path())
		}
		byFile[it.Path()] = append(byFile[it.Path()], it)
	}

	out := make([]index.WorkItem, 0, limit)
	for round := 0; len(out) < limit; round++ {
		took := false
		for _, path := range fileOrder {
			bucket := byFile[path]
			if round >= len(bucket) {
				continue
			}
			out = append(out, bucket[round])
			took = true
			if len(out) == limit {
				return out
			}
		}
		if !took {
			break
		}
	}
	return out
}

// attachSnippets reads each item's span bytes from disk. Items whose file
// vanished or whose byte range no longer fits are dropped; the next index
// pass will reconcile them. maxChars > 0 truncates the text.
func (p *Planner) attachSnippets(items []index.WorkItem, maxChars int) []index.WorkItem {
	cache := make(map[string][]byte, len(items))

	out := make([]index.WorkItem, 0, len(items))
	for _, it := range items {
		data, ok := cache[it.Path()]
		if !ok {
			var err error
			data, err = os.ReadFile(filepath.Join(p.repoRoot, filepath.FromSlash(it.Path())))
			if err != nil {
				p.logger.Debug("span file unreadable, skipping",
					slog.String("path", it.Path()),
					slog.String("error", err.Error()),
				)
				data = nil
			}
			cache[it.Path()] = data
		}
		if data == nil {
			continue
		}

		start, end := it.ByteStart(), it.ByteEnd()
		if start < 0 || end > int64(len(data)) || start >= end {
			p.logger.Debug("span byte range stale, skipping",
				slog.String("span_hash", it.SpanHash()),
				slog.String("path", it.Path()),
			)
			continue
		}

		snippet := string(data[start:end])
		if maxChars > 0 && len(snippet) > maxChars {
			snippet = snippet[:maxChars]
		}
		out = append(out, it.WithSnippet(snippet))
	}
	return out
}
