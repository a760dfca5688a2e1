package indexstore

import (
	"context"
	"fmt"
	"time"

	"github.com/llmc-dev/ragd/internal/database"
)

// FileModel represents an indexed source file in the store.
type FileModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Path      string    `gorm:"column:path;uniqueIndex;size:1024;not null"`
	Lang      string    `gorm:"column:lang;index;size:64"`
	FileHash  string    `gorm:"column:file_hash;size:64;not null"`
	Size      int64     `gorm:"column:size"`
	Mtime     time.Time `gorm:"column:mtime"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`

	Spans []SpanModel `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name.
func (FileModel) TableName() string {
	return "files"
}

// SpanModel represents an extracted span in the store. span_hash is the
// global content identity: identical bytes in the same language share a row.
type SpanModel struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	FileID    int64     `gorm:"column:file_id;index;not null"`
	Symbol    string    `gorm:"column:symbol;size:512"`
	Kind      string    `gorm:"column:kind;index;size:32"`
	StartLine int       `gorm:"column:start_line"`
	EndLine   int       `gorm:"column:end_line"`
	ByteStart int64     `gorm:"column:byte_start"`
	ByteEnd   int64     `gorm:"column:byte_end"`
	SpanHash  string    `gorm:"column:span_hash;uniqueIndex;size:64;not null"`
	DocHint   string    `gorm:"column:doc_hint;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`

	Enrichments []EnrichmentModel `gorm:"foreignKey:SpanHash;references:SpanHash;constraint:OnDelete:CASCADE"`
	Edges       []EdgeModel       `gorm:"foreignKey:SourceSpanHash;references:SpanHash;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name.
func (SpanModel) TableName() string {
	return "spans"
}

// EnrichmentModel represents one enrichment document. List fields are
// serialized JSON arrays; last writer wins on span_hash.
type EnrichmentModel struct {
	SpanHash      string    `gorm:"column:span_hash;primaryKey;size:64"`
	Summary       string    `gorm:"column:summary;type:text"`
	Inputs        string    `gorm:"column:inputs;type:text"`
	Outputs       string    `gorm:"column:outputs;type:text"`
	SideEffects   string    `gorm:"column:side_effects;type:text"`
	Pitfalls      string    `gorm:"column:pitfalls;type:text"`
	UsageSnippet  string    `gorm:"column:usage_snippet;type:text"`
	Evidence      string    `gorm:"column:evidence;type:text"`
	Tags          string    `gorm:"column:tags;type:text"`
	Model         string    `gorm:"column:model;size:255"`
	TierUsed      string    `gorm:"column:tier_used;size:16"`
	SchemaVersion int       `gorm:"column:schema_version;default:1"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName returns the table name.
func (EnrichmentModel) TableName() string {
	return "enrichments"
}

// EmbeddingModel represents one vector row inside a route table. The struct
// carries no TableName: the same shape backs every route table through
// database.NewRepositoryForTable.
type EmbeddingModel struct {
	SpanHash    string               `gorm:"column:span_hash;primaryKey;size:64"`
	Vec         database.Float32Blob `gorm:"column:vec;type:blob"`
	RouteName   string               `gorm:"column:route_name;size:64"`
	ProfileName string               `gorm:"column:profile_name;size:64"`
	CreatedAt   time.Time            `gorm:"column:created_at"`
}

// EdgeModel represents one tech-docs graph edge.
type EdgeModel struct {
	ID             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	SourceSpanHash string    `gorm:"column:source_span_hash;uniqueIndex:idx_edges_identity;size:64;not null"`
	TargetSpanHash string    `gorm:"column:target_span_hash;index;size:64"`
	TargetText     string    `gorm:"column:target_text;uniqueIndex:idx_edges_identity;size:512;not null"`
	EdgeType       string    `gorm:"column:edge_type;uniqueIndex:idx_edges_identity;size:32;not null"`
	Confidence     float64   `gorm:"column:confidence"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName returns the table name.
func (EdgeModel) TableName() string {
	return "tech_docs_edges"
}

// SpanFailureModel counts enrichment failures per span hash. Deliberately
// not FK-bound to spans: the counter caps retries across span lifetimes,
// so it must survive a span being deleted and re-added.
type SpanFailureModel struct {
	SpanHash  string    `gorm:"column:span_hash;primaryKey;size:64"`
	Failures  int64     `gorm:"column:failures;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName returns the table name.
func (SpanFailureModel) TableName() string {
	return "span_failures"
}

// autoMigrate creates or updates the static schema. Route embedding tables
// are created separately, one per configured route, because GORM caches
// schemas by struct type and cannot map one struct to many tables.
func autoMigrate(ctx context.Context, db database.Database) error {
	return db.Session(ctx).AutoMigrate(
		&FileModel{},
		&SpanModel{},
		&EnrichmentModel{},
		&EdgeModel{},
		&SpanFailureModel{},
	)
}

// routeTableSQL returns the eager CREATE TABLE statement for one route's
// embedding table. The FK mirrors the cascade the static schema gets from
// AutoMigrate: deleting a span deletes its vectors.
func routeTableSQL(table string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    span_hash VARCHAR(64) PRIMARY KEY,
    vec BLOB NOT NULL,
    route_name VARCHAR(64),
    profile_name VARCHAR(64),
    created_at DATETIME,
    FOREIGN KEY (span_hash) REFERENCES spans(span_hash) ON DELETE CASCADE
)`, table)
}
