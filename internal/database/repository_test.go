package database

import (
	"context"
	"errors"
	"testing"

	"github.com/llmc-dev/ragd/domain/index"
)

type langRow struct {
	ID   int64  `gorm:"primaryKey"`
	Path string `gorm:"column:path"`
	Lang string `gorm:"column:lang"`
}

func (langRow) TableName() string { return "lang_rows" }

type langDoc struct {
	ID   int64
	Path string
	Lang string
}

type langMapper struct{}

func (langMapper) ToDomain(e langRow) langDoc {
	return langDoc{ID: e.ID, Path: e.Path, Lang: e.Lang}
}

func (langMapper) ToModel(d langDoc) langRow {
	return langRow{ID: d.ID, Path: d.Path, Lang: d.Lang}
}

func newLangRepo(t *testing.T) (Repository[langDoc, langRow], Database) {
	t.Helper()
	ctx := context.Background()
	db := openTestDB(t)
	if err := db.Session(ctx).AutoMigrate(&langRow{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewRepository[langDoc, langRow](db, langMapper{}, "lang row"), db
}

func seedLangRows(t *testing.T, db Database) {
	t.Helper()
	ctx := context.Background()
	rows := []langRow{
		{Path: "a.go", Lang: "go"},
		{Path: "b.go", Lang: "go"},
		{Path: "c.py", Lang: "python"},
	}
	for i := range rows {
		if err := db.Session(ctx).Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestRepository_Find(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	docs, err := repo.Find(ctx, index.WithLang("go"), index.WithOrderAsc("path"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if docs[0].Path != "a.go" || docs[1].Path != "b.go" {
		t.Errorf("unexpected order: %v", docs)
	}
}

func TestRepository_Find_LimitOffset(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	docs, err := repo.Find(ctx, index.WithOrderAsc("id"), index.WithLimit(1), index.WithOffset(1))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("len = %d, want 1", len(docs))
	}
	if docs[0].Path != "b.go" {
		t.Errorf("Path = %q, want b.go", docs[0].Path)
	}
}

func TestRepository_Find_RawCondition(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	docs, err := repo.Find(ctx, index.WithWhere("path LIKE ?", "%.go"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("len = %d, want 2", len(docs))
	}
}

func TestRepository_FindOne(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	doc, err := repo.FindOne(ctx, index.WithPath("c.py"))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc.Lang != "python" {
		t.Errorf("Lang = %q, want python", doc.Lang)
	}
}

func TestRepository_FindOne_NotFound(t *testing.T) {
	ctx := context.Background()
	repo, _ := newLangRepo(t)

	_, err := repo.FindOne(ctx, index.WithPath("missing.go"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestRepository_CountAndExists(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	count, err := repo.Count(ctx, index.WithLang("go"))
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("Count = %d, want 2", count)
	}

	exists, err := repo.Exists(ctx, index.WithLang("python"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Error("Exists = false, want true")
	}

	exists, err = repo.Exists(ctx, index.WithLang("rust"))
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Error("Exists = true, want false")
	}
}

func TestRepository_DeleteBy(t *testing.T) {
	ctx := context.Background()
	repo, db := newLangRepo(t)
	seedLangRows(t, db)

	if err := repo.DeleteBy(ctx, index.WithLang("go")); err != nil {
		t.Fatalf("DeleteBy: %v", err)
	}

	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 survivor", count)
	}
}

type vecRow struct {
	SpanHash string `gorm:"column:span_hash;primaryKey"`
	Route    string `gorm:"column:route_name"`
}

type vecDoc struct {
	SpanHash string
	Route    string
}

type vecMapper struct{}

func (vecMapper) ToDomain(e vecRow) vecDoc { return vecDoc{SpanHash: e.SpanHash, Route: e.Route} }
func (vecMapper) ToModel(d vecDoc) vecRow  { return vecRow{SpanHash: d.SpanHash, Route: d.Route} }

// One struct, several tables: the shape used for per-route embedding tables.
func TestRepository_ForTable_IsolatesTables(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	for _, table := range []string{"embeddings", "emb_code"} {
		stmt := "CREATE TABLE " + table + " (span_hash TEXT PRIMARY KEY, route_name TEXT)"
		if err := db.Session(ctx).Exec(stmt).Error; err != nil {
			t.Fatalf("create %s: %v", table, err)
		}
	}

	docs := NewRepositoryForTable[vecDoc, vecRow](db, vecMapper{}, "embedding", "embeddings")
	code := NewRepositoryForTable[vecDoc, vecRow](db, vecMapper{}, "embedding", "emb_code")

	if err := docs.DB(ctx).Create(&vecRow{SpanHash: "aaa", Route: "docs"}).Error; err != nil {
		t.Fatalf("create docs row: %v", err)
	}
	if err := code.DB(ctx).Create(&vecRow{SpanHash: "bbb", Route: "code"}).Error; err != nil {
		t.Fatalf("create code row: %v", err)
	}

	fromDocs, err := docs.Find(ctx)
	if err != nil {
		t.Fatalf("Find docs: %v", err)
	}
	if len(fromDocs) != 1 || fromDocs[0].SpanHash != "aaa" {
		t.Errorf("docs table rows = %v", fromDocs)
	}

	fromCode, err := code.Find(ctx)
	if err != nil {
		t.Fatalf("Find code: %v", err)
	}
	if len(fromCode) != 1 || fromCode[0].SpanHash != "bbb" {
		t.Errorf("code table rows = %v", fromCode)
	}

	if docs.Table() != "embeddings" || code.Table() != "emb_code" {
		t.Errorf("Table() = %q / %q", docs.Table(), code.Table())
	}
}

func TestRepository_ForTable_FindOneAndDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	stmt := "CREATE TABLE emb_code (span_hash TEXT PRIMARY KEY, route_name TEXT)"
	if err := db.Session(ctx).Exec(stmt).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	repo := NewRepositoryForTable[vecDoc, vecRow](db, vecMapper{}, "embedding", "emb_code")
	if err := repo.DB(ctx).Create(&vecRow{SpanHash: "aaa", Route: "code"}).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	doc, err := repo.FindOne(ctx, index.WithSpanHash("aaa"))
	if err != nil {
		t.Fatalf("FindOne: %v", err)
	}
	if doc.Route != "code" {
		t.Errorf("Route = %q, want code", doc.Route)
	}

	if err := repo.DeleteBy(ctx, index.WithSpanHash("aaa")); err != nil {
		t.Fatalf("DeleteBy: %v", err)
	}
	count, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}
