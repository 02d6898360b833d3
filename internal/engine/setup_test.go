package engine

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"rocket-import/internal/config"
	"rocket-import/internal/importer"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

const catalogDDL = `
CREATE TABLE categories (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    deleted_at TEXT
);
CREATE TABLE products (
    id          TEXT PRIMARY KEY,
    sku         TEXT NOT NULL UNIQUE,
    name        TEXT,
    price       REAL,
    active      INTEGER,
    stock       INTEGER,
    category_id TEXT REFERENCES categories(id),
    created_at  TEXT DEFAULT (datetime('now')),
    updated_at  TEXT DEFAULT (datetime('now'))
);
CREATE TABLE tags (
    id   TEXT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE
);
CREATE TABLE product_tags (
    product_id TEXT NOT NULL REFERENCES products(id),
    tag_id     TEXT NOT NULL REFERENCES tags(id),
    PRIMARY KEY (product_id, tag_id)
);
INSERT INTO categories (id, name) VALUES ('c1', 'Fruit'), ('c2', 'Vegetables');
INSERT INTO tags (id, code) VALUES ('t1', 'FRESH'), ('t2', 'LOCAL'), ('t3', 'ORGANIC');
`

func catalogEntities() []*metadata.Entity {
	return []*metadata.Entity{
		{
			Name: "category", Table: "categories", SoftDelete: true,
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "string", Required: true},
				{Name: "deleted_at", Type: "timestamp"},
			},
		},
		{
			Name: "product", Table: "products",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "uuid", Generated: true},
			Fields: []metadata.Field{
				{Name: "id", Type: "uuid"},
				{Name: "sku", Type: "string", Required: true, Unique: true},
				{Name: "name", Type: "string"},
				{Name: "price", Type: "decimal"},
				{Name: "active", Type: "boolean"},
				{Name: "stock", Type: "int"},
				{Name: "category_id", Type: "uuid"},
				{Name: "created_at", Type: "timestamp", Auto: "create"},
				{Name: "updated_at", Type: "timestamp", Auto: "update"},
			},
		},
		{
			Name: "tag", Table: "tags",
			PrimaryKey: metadata.PrimaryKey{Field: "id", Type: "string"},
			Fields: []metadata.Field{
				{Name: "id", Type: "string"},
				{Name: "code", Type: "string", Required: true},
			},
		},
	}
}

func catalogRelations() []*metadata.Relation {
	return []*metadata.Relation{
		{Name: "category_products", Type: "one_to_many", Source: "category", Target: "product",
			SourceKey: "id", TargetKey: "category_id", OnDelete: "set_null"},
		{Name: "tags", Type: "many_to_many", Source: "product", Target: "tag", SourceKey: "id",
			JoinTable: "product_tags", SourceJoinKey: "product_id", TargetJoinKey: "tag_id"},
	}
}

// newTestStore opens a bootstrapped SQLite database holding the product catalog.
func newTestStore(t *testing.T) (*store.Store, *metadata.Registry) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "engine"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := s.DB.ExecContext(ctx, catalogDDL); err != nil {
		t.Fatalf("create catalog tables: %v", err)
	}

	reg := metadata.NewRegistry()
	reg.Load(catalogEntities(), catalogRelations())
	return s, reg
}

func newTestRunner(t *testing.T) (*ImportRunner, *store.Store, *metadata.Registry) {
	t.Helper()
	s, reg := newTestStore(t)
	cfg := config.ImportConfig{Delimiter: ",", Mode: "create_update", MaxRows: 100}
	return NewImportRunner(s, reg, cfg, zerolog.New(io.Discard)), s, reg
}

func record(pairs ...any) *importer.NormalizedRecord {
	rec := importer.NewRecord()
	for i := 0; i+1 < len(pairs); i += 2 {
		rec.Set(pairs[i].(string), importer.ValueOf(pairs[i+1]))
	}
	return rec
}

func countRows(t *testing.T, s *store.Store, table string) int {
	t.Helper()
	row, err := store.QueryRow(context.Background(), s.DB, "SELECT COUNT(*) AS n FROM "+table)
	if err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return int(row["n"].(int64))
}
