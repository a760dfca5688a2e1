// Package indexstore implements the per-repo index on a single SQLite file
// inside the repo workspace: files, spans, enrichments, route-partitioned
// embedding tables, and the tech-docs edge graph. All multi-row writes run
// inside one transaction, and span deletion cascades so orphan enrichments
// cannot persist.
package indexstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/llmc-dev/ragd/domain/index"
	"github.com/llmc-dev/ragd/internal/database"
)

// overFetchFactor is how many times the requested limit PendingEnrichments
// reads before applying the cooldown filter, so a burst of fresh edits
// cannot starve the batch.
const overFetchFactor = 5

// deleteChunkSize bounds IN (...) lists so large differential deletes stay
// under SQLite's variable limit.
const deleteChunkSize = 500

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// staticTables lists the fixed schema; every other table in the store file
// is a route embedding table.
var staticTables = map[string]bool{
	"files":           true,
	"spans":           true,
	"enrichments":     true,
	"tech_docs_edges": true,
	"span_failures":   true,
}

// SQLiteStore implements index.Store on one workspace SQLite file.
type SQLiteStore struct {
	db          database.Database
	files       database.Repository[index.FileRecord, FileModel]
	spans       database.Repository[index.Span, SpanModel]
	enrichments database.Repository[index.Enrichment, EnrichmentModel]
	edges       database.Repository[index.Edge, EdgeModel]
	logger      *slog.Logger

	mu     sync.Mutex
	routes map[string]database.Repository[index.Embedding, EmbeddingModel]
}

// Opener implements index.StoreOpener with quarantine-and-recover: a store
// file that fails to open or migrate is renamed aside with a timestamp
// suffix and recreated empty. A second failure on the fresh file is
// returned to the caller.
type Opener struct {
	logger *slog.Logger
}

// NewOpener creates a store opener.
func NewOpener(logger *slog.Logger) Opener {
	if logger == nil {
		logger = slog.Default()
	}
	return Opener{logger: logger}
}

// Open opens (creating if needed) the index store at dbPath.
func (o Opener) Open(ctx context.Context, dbPath string) (index.Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	store, err := openStore(ctx, dbPath, o.logger)
	if err == nil {
		return store, nil
	}

	quarantined := fmt.Sprintf("%s.corrupt-%s", dbPath, time.Now().UTC().Format("20060102T150405Z"))
	if renameErr := os.Rename(dbPath, quarantined); renameErr != nil {
		return nil, fmt.Errorf("open index store: %w (quarantine failed: %v)", err, renameErr)
	}
	o.logger.Warn("quarantined corrupt index store",
		slog.String("db_path", dbPath),
		slog.String("quarantined_as", quarantined),
		slog.String("error", err.Error()),
	)

	store, err = openStore(ctx, dbPath, o.logger)
	if err != nil {
		return nil, fmt.Errorf("reopen index store after quarantine: %w", err)
	}
	return store, nil
}

// openStore connects and migrates. Foreign keys are enabled through the DSN
// so every pooled connection enforces the cascades.
func openStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	url := fmt.Sprintf("sqlite:///%s?_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := database.NewDatabase(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := autoMigrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate index store: %w", err)
	}
	return NewSQLiteStore(db, logger), nil
}

// NewSQLiteStore wraps an already-open database. Callers that want the
// quarantine behavior use Opener instead.
func NewSQLiteStore(db database.Database, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{
		db:          db,
		files:       database.NewRepository[index.FileRecord, FileModel](db, FileMapper{}, "file"),
		spans:       database.NewRepository[index.Span, SpanModel](db, SpanMapper{}, "span"),
		enrichments: database.NewRepository[index.Enrichment, EnrichmentModel](db, EnrichmentMapper{}, "enrichment"),
		edges:       database.NewRepository[index.Edge, EdgeModel](db, EdgeMapper{}, "edge"),
		logger:      logger,
		routes:      make(map[string]database.Repository[index.Embedding, EmbeddingModel]),
	}
}

// UpsertFile inserts or updates a file record keyed by path and returns the
// record with its database identifier set.
func (s *SQLiteStore) UpsertFile(ctx context.Context, record index.FileRecord) (index.FileRecord, error) {
	model := FileMapper{}.ToModel(record)
	model.ID = 0

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		DoUpdates: clause.AssignmentColumns([]string{"lang", "file_hash", "size", "mtime", "updated_at"}),
	}).Create(&model)
	if result.Error != nil {
		return index.FileRecord{}, fmt.Errorf("upsert file: %w", result.Error)
	}

	// SQLite does not report the surviving row id on the conflict path,
	// so read it back by path.
	return s.files.FindOne(ctx, index.WithPath(record.Path()))
}

// DeleteFile removes a file and, via FK cascade, its spans, enrichments,
// embeddings, and edges.
func (s *SQLiteStore) DeleteFile(ctx context.Context, path string) error {
	return s.files.DeleteBy(ctx, index.WithPath(path))
}

// Files returns file records matching the options.
func (s *SQLiteStore) Files(ctx context.Context, options ...index.Option) ([]index.FileRecord, error) {
	return s.files.Find(ctx, options...)
}

// ReplaceSpansDifferential reconciles a file's spans against a newly
// extracted set. Spans whose hash disappeared are deleted (cascading to
// their enrichments and embeddings), new hashes are inserted, and unchanged
// spans are left untouched so their derived data survives re-indexing.
func (s *SQLiteStore) ReplaceSpansDifferential(ctx context.Context, fileID int64, spans []index.Span) (index.SpanDiff, error) {
	return database.WithTransactionResult(ctx, s.db, func(tx *gorm.DB) (index.SpanDiff, error) {
		var existing []string
		err := tx.Model(&SpanModel{}).
			Where("file_id = ?", fileID).
			Pluck("span_hash", &existing).Error
		if err != nil {
			return index.SpanDiff{}, fmt.Errorf("load existing spans: %w", err)
		}

		existingSet := make(map[string]bool, len(existing))
		for _, h := range existing {
			existingSet[h] = true
		}

		// Dedupe the proposed set: identical bytes occurring twice in one
		// file are one span by definition.
		newSet := make(map[string]bool, len(spans))
		var toAdd []SpanModel
		for _, sp := range spans {
			if newSet[sp.Hash()] {
				continue
			}
			newSet[sp.Hash()] = true
			if !existingSet[sp.Hash()] {
				toAdd = append(toAdd, SpanMapper{}.ToModel(sp.WithFileID(fileID)))
			}
		}

		var toDelete []string
		unchanged := 0
		for _, h := range existing {
			if newSet[h] {
				unchanged++
			} else {
				toDelete = append(toDelete, h)
			}
		}

		for start := 0; start < len(toDelete); start += deleteChunkSize {
			end := min(start+deleteChunkSize, len(toDelete))
			err := tx.Where("file_id = ? AND span_hash IN ?", fileID, toDelete[start:end]).
				Delete(&SpanModel{}).Error
			if err != nil {
				return index.SpanDiff{}, fmt.Errorf("delete stale spans: %w", err)
			}
		}

		if len(toAdd) > 0 {
			// DoNothing covers the same content already indexed under
			// another file; span_hash identity is store-wide.
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "span_hash"}},
				DoNothing: true,
			}).CreateInBatches(toAdd, deleteChunkSize).Error
			if err != nil {
				return index.SpanDiff{}, fmt.Errorf("insert new spans: %w", err)
			}
		}

		return index.SpanDiff{
			Added:     len(toAdd),
			Deleted:   len(toDelete),
			Unchanged: unchanged,
		}, nil
	})
}

// Spans returns spans matching the options.
func (s *SQLiteStore) Spans(ctx context.Context, options ...index.Option) ([]index.Span, error) {
	return s.spans.Find(ctx, options...)
}

// pendingRow is the scan target for the pending-work join queries.
type pendingRow struct {
	SpanHash  string
	Path      string
	Lang      string
	StartLine int
	EndLine   int
	ByteStart int64
	ByteEnd   int64
	Mtime     time.Time
}

func (r pendingRow) workItem() index.WorkItem {
	return index.NewWorkItem(r.SpanHash, r.Path, r.Lang, r.StartLine, r.EndLine, r.ByteStart, r.ByteEnd)
}

// PendingEnrichments returns spans without enrichment rows in insertion
// order. Spans whose file was modified within the cooldown window are
// skipped; candidates are over-fetched before that filter is applied.
func (s *SQLiteStore) PendingEnrichments(ctx context.Context, limit int, cooldown time.Duration) ([]index.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var rows []pendingRow
	err := s.db.Session(ctx).Raw(`
		SELECT s.span_hash, f.path, f.lang, s.start_line, s.end_line,
		       s.byte_start, s.byte_end, f.mtime
		FROM spans s
		JOIN files f ON f.id = s.file_id
		LEFT JOIN enrichments e ON e.span_hash = s.span_hash
		WHERE e.span_hash IS NULL
		ORDER BY s.id ASC
		LIMIT ?`, limit*overFetchFactor).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pending enrichments: %w", err)
	}

	cutoff := time.Now().Add(-cooldown)
	items := make([]index.WorkItem, 0, limit)
	for _, row := range rows {
		if cooldown > 0 && row.Mtime.After(cutoff) {
			continue
		}
		items = append(items, row.workItem())
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

// PendingEmbeddings returns spans lacking a vector in the given route
// table, in insertion order. A non-empty langs list restricts the result to
// spans of those languages.
func (s *SQLiteStore) PendingEmbeddings(ctx context.Context, limit int, table string, langs []string) ([]index.WorkItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	if _, err := s.routeRepository(ctx, table); err != nil {
		return nil, err
	}

	langFilter := ""
	args := []any{}
	if len(langs) > 0 {
		langFilter = "AND f.lang IN ?"
		args = append(args, langs)
	}
	args = append(args, limit)

	var rows []pendingRow
	query := fmt.Sprintf(`
		SELECT s.span_hash, f.path, f.lang, s.start_line, s.end_line,
		       s.byte_start, s.byte_end, f.mtime
		FROM spans s
		JOIN files f ON f.id = s.file_id
		LEFT JOIN %s v ON v.span_hash = s.span_hash
		WHERE v.span_hash IS NULL %s
		ORDER BY s.id ASC
		LIMIT ?`, table, langFilter)
	if err := s.db.Session(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("pending embeddings for %s: %w", table, err)
	}

	items := make([]index.WorkItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.workItem())
	}
	return items, nil
}

// StoreEnrichment persists an enrichment, replacing any previous payload
// for the same span hash in full.
func (s *SQLiteStore) StoreEnrichment(ctx context.Context, e index.Enrichment) error {
	model := EnrichmentMapper{}.ToModel(e)

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "span_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary", "inputs", "outputs", "side_effects", "pitfalls",
			"usage_snippet", "evidence", "tags", "model", "tier_used",
			"schema_version", "created_at",
		}),
	}).Create(&model)
	if result.Error != nil {
		return fmt.Errorf("store enrichment: %w", result.Error)
	}
	return nil
}

// Enrichments returns enrichments matching the options.
func (s *SQLiteStore) Enrichments(ctx context.Context, options ...index.Option) ([]index.Enrichment, error) {
	return s.enrichments.Find(ctx, options...)
}

// StoreEmbedding writes a vector into the given route table, replacing any
// previous vector for the same span hash.
func (s *SQLiteStore) StoreEmbedding(ctx context.Context, table string, e index.Embedding) error {
	repo, err := s.routeRepository(ctx, table)
	if err != nil {
		return err
	}

	model := repo.Mapper().ToModel(e)
	model.CreatedAt = time.Now()

	result := repo.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "span_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"vec", "route_name", "profile_name", "created_at"}),
	}).Create(&model)
	if result.Error != nil {
		return fmt.Errorf("store embedding in %s: %w", table, result.Error)
	}
	return nil
}

// Vectors returns every embedding in the given route table.
func (s *SQLiteStore) Vectors(ctx context.Context, table string) ([]index.Embedding, error) {
	repo, err := s.routeRepository(ctx, table)
	if err != nil {
		return nil, err
	}
	return repo.Find(ctx)
}

// WriteEdges persists tech-docs edges idempotently, keyed on
// (source span, edge type, target text). Re-enrichment refreshes the
// resolved target and confidence without duplicating rows.
func (s *SQLiteStore) WriteEdges(ctx context.Context, edges []index.Edge) error {
	if len(edges) == 0 {
		return nil
	}

	models := make([]EdgeModel, len(edges))
	now := time.Now()
	for i, e := range edges {
		models[i] = EdgeMapper{}.ToModel(e)
		models[i].CreatedAt = now
	}

	result := s.db.Session(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source_span_hash"}, {Name: "edge_type"}, {Name: "target_text"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"target_span_hash", "confidence"}),
	}).CreateInBatches(models, deleteChunkSize)
	if result.Error != nil {
		return fmt.Errorf("write edges: %w", result.Error)
	}
	return nil
}

// IncrementSpanFailure bumps the persistent failure counter for a span and
// returns the new count.
func (s *SQLiteStore) IncrementSpanFailure(ctx context.Context, spanHash string) (int64, error) {
	return database.WithTransactionResult(ctx, s.db, func(tx *gorm.DB) (int64, error) {
		model := SpanFailureModel{SpanHash: spanHash, Failures: 1, UpdatedAt: time.Now()}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "span_hash"}},
			DoUpdates: clause.Assignments(map[string]any{
				"failures":   gorm.Expr("failures + 1"),
				"updated_at": time.Now(),
			}),
		}).Create(&model).Error
		if err != nil {
			return 0, fmt.Errorf("increment span failure: %w", err)
		}

		var current SpanFailureModel
		if err := tx.Where("span_hash = ?", spanHash).First(&current).Error; err != nil {
			return 0, fmt.Errorf("read span failure count: %w", err)
		}
		return current.Failures, nil
	})
}

// FailureCounts returns the failure counters for the given spans. Spans
// with no recorded failures are absent from the result.
func (s *SQLiteStore) FailureCounts(ctx context.Context, spanHashes []string) (map[string]int64, error) {
	counts := make(map[string]int64, len(spanHashes))
	for start := 0; start < len(spanHashes); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(spanHashes))

		var rows []SpanFailureModel
		err := s.db.Session(ctx).
			Where("span_hash IN ?", spanHashes[start:end]).
			Find(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("failure counts: %w", err)
		}
		for _, row := range rows {
			counts[row.SpanHash] = row.Failures
		}
	}
	return counts, nil
}

// WorkItemsByHash resolves spans (with their file paths and languages) for
// the given hashes.
func (s *SQLiteStore) WorkItemsByHash(ctx context.Context, spanHashes []string) ([]index.WorkItem, error) {
	if len(spanHashes) == 0 {
		return nil, nil
	}

	var items []index.WorkItem
	for start := 0; start < len(spanHashes); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(spanHashes))

		var rows []pendingRow
		err := s.db.Session(ctx).Raw(`
			SELECT s.span_hash, f.path, f.lang, s.start_line, s.end_line,
			       s.byte_start, s.byte_end, f.mtime
			FROM spans s
			JOIN files f ON f.id = s.file_id
			WHERE s.span_hash IN ?
			ORDER BY s.id ASC`, spanHashes[start:end]).Scan(&rows).Error
		if err != nil {
			return nil, fmt.Errorf("work items by hash: %w", err)
		}
		for _, row := range rows {
			items = append(items, row.workItem())
		}
	}
	return items, nil
}

// Stats summarizes row counts for status surfaces. Route embedding tables
// are discovered from the schema so vectors written in earlier runs are
// counted even before this process touches their routes.
func (s *SQLiteStore) Stats(ctx context.Context) (index.Stats, error) {
	stats := index.Stats{Embeddings: make(map[string]int64)}

	counts := []struct {
		table  string
		target *int64
	}{
		{"files", &stats.Files},
		{"spans", &stats.Spans},
		{"enrichments", &stats.Enrichments},
		{"tech_docs_edges", &stats.Edges},
	}
	for _, c := range counts {
		err := s.db.Session(ctx).Table(c.table).Count(c.target).Error
		if err != nil {
			return index.Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	tables, err := s.routeTableNames(ctx)
	if err != nil {
		return index.Stats{}, err
	}
	for _, table := range tables {
		var count int64
		if err := s.db.Session(ctx).Table(table).Count(&count).Error; err != nil {
			return index.Stats{}, fmt.Errorf("count %s: %w", table, err)
		}
		stats.Embeddings[table] = count
	}
	return stats, nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// routeRepository returns (creating the table if needed) the repository for
// one route's embedding table.
func (s *SQLiteStore) routeRepository(ctx context.Context, table string) (database.Repository[index.Embedding, EmbeddingModel], error) {
	if !tableNamePattern.MatchString(table) {
		return database.Repository[index.Embedding, EmbeddingModel]{}, fmt.Errorf("invalid route table name %q", table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if repo, ok := s.routes[table]; ok {
		return repo, nil
	}

	if err := s.db.Session(ctx).Exec(routeTableSQL(table)).Error; err != nil {
		return database.Repository[index.Embedding, EmbeddingModel]{}, fmt.Errorf("create route table %s: %w", table, err)
	}

	repo := database.NewRepositoryForTable[index.Embedding, EmbeddingModel](
		s.db, EmbeddingMapper{}, "embedding", table,
	)
	s.routes[table] = repo
	return repo, nil
}

// routeTableNames lists every non-static table in the store file.
func (s *SQLiteStore) routeTableNames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.Session(ctx).Raw(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`,
	).Scan(&names).Error
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	var routes []string
	for _, name := range names {
		if !staticTables[name] {
			routes = append(routes, name)
		}
	}
	return routes, nil
}
