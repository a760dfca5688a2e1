package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/llmc-dev/ragd/domain/fleet"
	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/infrastructure/enricher"
	"github.com/llmc-dev/ragd/infrastructure/provider"
	"github.com/llmc-dev/ragd/infrastructure/scan"
	"github.com/llmc-dev/ragd/internal/config"
	"github.com/llmc-dev/ragd/internal/metrics"
)

// budgetReserve is how much of the job's time budget a phase leaves for the
// remaining work before starting another batch.
const budgetReserve = 30 * time.Second

// JobService is the in-process job runner: one call refreshes one repo's
// file index, enrichments, and embeddings. It implements fleet.JobRunner.
type JobService struct {
	cfg        config.AppConfig
	opener     index.StoreOpener
	extractor  index.Extractor
	local      provider.TextGenerator
	gateway    provider.TextGenerator
	embeddings *EmbeddingEngine
	classifier RouteClassifier
	logger     *slog.Logger
}

// NewJobService wires the in-process runner. The embedding engine is shared
// across jobs; everything else is cheap per-call state. The enrichment
// ledger and quarantine live in each repo's workspace and are opened per run.
func NewJobService(
	cfg config.AppConfig,
	opener index.StoreOpener,
	extractor index.Extractor,
	local provider.TextGenerator,
	gateway provider.TextGenerator,
	embeddings *EmbeddingEngine,
	logger *slog.Logger,
) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		cfg:        cfg,
		opener:     opener,
		extractor:  extractor,
		local:      local,
		gateway:    gateway,
		embeddings: embeddings,
		classifier: NewRouteClassifier(),
		logger:     logger,
	}
}

// Run refreshes one repository: differential index pass, then enrichment
// batches, then embedding batches. Running out of time budget is a normal
// terminator; the job reports success with whatever it finished.
func (s *JobService) Run(ctx context.Context, repo fleet.Descriptor) fleet.JobResult {
	summary := map[string]any{}
	log := s.logger.With(slog.String("repo_id", repo.RepoID()))

	if err := scaffoldWorkspace(s.cfg, repo); err != nil {
		return fleet.FailureResult(1, fmt.Sprintf("scaffold workspace: %v", err), nil)
	}

	store, err := s.opener.Open(ctx, repo.IndexDBPath())
	if err != nil {
		return fleet.FailureResult(1, fmt.Sprintf("open index store: %v", err), nil)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Warn("close index store", slog.String("error", closeErr.Error()))
		}
	}()

	ledger, err := enricher.OpenLedger(filepath.Join(repo.WorkspacePath(), "logs", "enrich.jsonl"))
	if err != nil {
		return fleet.FailureResult(1, fmt.Sprintf("open enrichment ledger: %v", err), nil)
	}
	defer func() {
		if closeErr := ledger.Close(); closeErr != nil {
			log.Warn("close enrichment ledger", slog.String("error", closeErr.Error()))
		}
	}()
	quarantine := enricher.NewQuarantine(filepath.Join(repo.WorkspacePath(), "tmp", "quarantine"))

	planner := NewPlanner(store, repo.RepoPath(), s.logger)

	phases := []struct {
		name string
		run  func() error
	}{
		{"index pass", func() error { return s.indexPass(ctx, log, store, repo, summary) }},
		{"enrichment", func() error { return s.enrichPhase(ctx, log, store, planner, ledger, quarantine, repo, summary) }},
		{"embedding", func() error { return s.embedPhase(ctx, log, store, planner, summary) }},
	}
	for _, phase := range phases {
		if err := phase.run(); err != nil {
			if budgetExhausted(ctx) {
				log.Info("job stopped at time budget", slog.String("phase", phase.name))
				summary["budget_exhausted"] = true
				return fleet.SuccessResult(summary)
			}
			return fleet.FailureResult(1, fmt.Sprintf("%s: %v", phase.name, err), summary)
		}
	}
	return fleet.SuccessResult(summary)
}

// indexPass reconciles the store against the working tree: changed files
// get a differential span replace, vanished files are deleted, files whose
// content hash is unchanged are left untouched.
func (s *JobService) indexPass(
	ctx context.Context,
	log *slog.Logger,
	store index.Store,
	repo fleet.Descriptor,
	summary map[string]any,
) error {
	walker, err := scan.NewWalker(repo.RepoPath(), workspaceSkip(repo), s.logger)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}
	candidates, err := walker.Walk(ctx)
	if err != nil {
		return fmt.Errorf("walk repository: %w", err)
	}

	existing, err := store.Files(ctx)
	if err != nil {
		return fmt.Errorf("load file records: %w", err)
	}
	known := make(map[string]index.FileRecord, len(existing))
	for _, f := range existing {
		known[f.Path()] = f
	}

	var seen, changed, removed, unchangedFiles int
	var spansAdded, spansDeleted, spansUnchanged int

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen++

		content, readErr := os.ReadFile(c.AbsPath)
		if readErr != nil {
			// Vanished or unreadable mid-walk. Keep the stored record; the
			// next pass settles it.
			delete(known, c.RelPath)
			log.Debug("file unreadable, keeping previous index",
				slog.String("path", c.RelPath),
				slog.String("error", readErr.Error()),
			)
			continue
		}

		hash := index.HashFile(content)
		prev, wasKnown := known[c.RelPath]
		delete(known, c.RelPath)
		if wasKnown && prev.FileHash() == hash {
			unchangedFiles++
			continue
		}

		record, err := store.UpsertFile(ctx, index.NewFileRecord(c.RelPath, c.Lang, hash, c.Size, c.ModTime))
		if err != nil {
			return fmt.Errorf("upsert file %s: %w", c.RelPath, err)
		}

		diff, err := store.ReplaceSpansDifferential(ctx, record.ID(), s.extractor.Extract(c.RelPath, c.Lang, content))
		if err != nil {
			return fmt.Errorf("replace spans for %s: %w", c.RelPath, err)
		}
		changed++
		spansAdded += diff.Added
		spansDeleted += diff.Deleted
		spansUnchanged += diff.Unchanged
		metrics.SpansIndexed.WithLabelValues(metrics.OpAdded).Add(float64(diff.Added))
		metrics.SpansIndexed.WithLabelValues(metrics.OpDeleted).Add(float64(diff.Deleted))
		metrics.SpansIndexed.WithLabelValues(metrics.OpUnchanged).Add(float64(diff.Unchanged))
	}

	gone := make([]string, 0, len(known))
	for path := range known {
		gone = append(gone, path)
	}
	sort.Strings(gone)
	for _, path := range gone {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := store.DeleteFile(ctx, path); err != nil {
			return fmt.Errorf("delete file %s: %w", path, err)
		}
		removed++
	}

	summary["files_seen"] = seen
	summary["files_changed"] = changed
	summary["files_deleted"] = removed
	summary["spans_added"] = spansAdded
	summary["spans_deleted"] = spansDeleted
	summary["spans_unchanged"] = spansUnchanged

	log.Info("index pass complete",
		slog.Int("files_seen", seen),
		slog.Int("files_changed", changed),
		slog.Int("files_deleted", removed),
		slog.Int("files_unchanged", unchangedFiles),
		slog.Int("spans_added", spansAdded),
		slog.Int("spans_deleted", spansDeleted),
	)
	return nil
}

// enrichPhase runs enrichment batches until no pending work, the batch cap,
// or the time budget.
func (s *JobService) enrichPhase(
	ctx context.Context,
	log *slog.Logger,
	store index.Store,
	planner *Planner,
	ledger *enricher.Ledger,
	quarantine enricher.Quarantine,
	repo fleet.Descriptor,
	summary map[string]any,
) error {
	engine := NewEnrichmentEngine(
		s.cfg, store, s.local, s.gateway,
		ledger, quarantine, s.writeEdgesFor(repo), s.logger,
	)

	var passed, failed int
	defer func() {
		summary["enriched"] = passed
		summary["enrich_failed"] = failed
	}()

	for batch := 0; batch < s.cfg.EnrichMaxBatches(); batch++ {
		if nearDeadline(ctx) {
			summary["budget_exhausted"] = true
			log.Info("enrichment stopped near time budget", slog.Int("batches", batch))
			return nil
		}

		items, err := planner.PlanEnrichment(ctx,
			s.cfg.EnrichBatchSize(), s.cfg.Cooldown(),
			s.cfg.MaxFailuresPerSpan(), s.cfg.SnippetMaxChars(),
		)
		if err != nil {
			return fmt.Errorf("plan enrichment: %w", err)
		}
		if len(items) == 0 {
			return nil
		}

		p, f, err := engine.EnrichBatch(ctx, items)
		passed += p
		failed += f
		if err != nil {
			return fmt.Errorf("enrichment batch: %w", err)
		}
	}
	return nil
}

// embedPhase drains pending embeddings route by route under the same
// terminating conditions as enrichment.
func (s *JobService) embedPhase(
	ctx context.Context,
	log *slog.Logger,
	store index.Store,
	planner *Planner,
	summary map[string]any,
) error {
	routes := s.cfg.Routes()
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)

	total := 0
	defer func() {
		summary["embedded"] = total
	}()

	for _, name := range names {
		route, _, _, err := s.cfg.ResolveRoute(name)
		if err != nil {
			return fmt.Errorf("resolve route %q: %w", name, err)
		}
		langs := s.classifier.LangsFor(name)

		for batch := 0; batch < s.cfg.EmbedMaxBatches(); batch++ {
			if nearDeadline(ctx) {
				summary["budget_exhausted"] = true
				log.Info("embedding stopped near time budget",
					slog.String("route", name), slog.Int("batches", batch))
				return nil
			}

			items, err := planner.PlanEmbedding(ctx, s.cfg.EmbedBatchSize(), route.Table(), langs)
			if err != nil {
				return fmt.Errorf("plan embedding for %q: %w", name, err)
			}
			if len(items) == 0 {
				break
			}

			written, err := s.embeddings.EmbedBatch(ctx, store, name, items)
			total += written
			if err != nil {
				return fmt.Errorf("embedding batch for %q: %w", name, err)
			}
			if written == 0 {
				// Every item was skipped (dimension mismatch or stale
				// ranges); retrying the same batch cannot make progress.
				break
			}
		}
	}
	return nil
}

// writeEdgesFor decides whether this repo's enrichments also emit graph
// edges: the repo's own profile wins, otherwise the default route's profile.
func (s *JobService) writeEdgesFor(repo fleet.Descriptor) bool {
	if p, ok := s.cfg.Profiles()[repo.Profile()]; ok {
		return p.Edges()
	}
	if _, p, _, err := s.cfg.ResolveRoute(s.cfg.DefaultRoute()); err == nil {
		return p.Edges()
	}
	return false
}

// workspaceSkip returns the workspace directory as a walk skip entry when
// it lives inside the repository tree.
func workspaceSkip(repo fleet.Descriptor) []string {
	rel, err := filepath.Rel(repo.RepoPath(), repo.WorkspacePath())
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	return []string{filepath.ToSlash(rel)}
}

// nearDeadline reports whether less than budgetReserve remains before the
// job's deadline. Contexts without a deadline never report true.
func nearDeadline(ctx context.Context) bool {
	deadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	return time.Until(deadline) < budgetReserve
}

// budgetExhausted reports whether the job context died of its time budget.
// The budget deadline is the only deadline the worker pool attaches, so
// hitting it is a normal terminator rather than a failure.
func budgetExhausted(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
