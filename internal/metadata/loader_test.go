package metadata

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"rocket-import/internal/config"
	"rocket-import/internal/store"
)

func TestSaveAndLoadAll_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "catalog"})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()
	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	for _, e := range []*Entity{
		{Name: "product", Table: "products", PrimaryKey: PrimaryKey{Field: "id", Type: "uuid", Generated: true}},
		{Name: "category", Table: "categories", PrimaryKey: PrimaryKey{Field: "id", Type: "uuid", Generated: true}},
	} {
		if err := SaveEntity(ctx, s, e); err != nil {
			t.Fatalf("save entity: %v", err)
		}
	}
	rel := &Relation{Name: "category_products", Type: "one_to_many", Source: "category", Target: "product", SourceKey: "id", TargetKey: "category_id"}
	if err := SaveRelation(ctx, s, rel); err != nil {
		t.Fatalf("save relation: %v", err)
	}
	rule := &Rule{Entity: "product", Type: "field", Active: true, Definition: RuleDefinition{Field: "price", Operator: "min", Value: 0}}
	if err := SaveRule(ctx, s, rule); err != nil {
		t.Fatalf("save rule: %v", err)
	}
	if rule.ID == "" {
		t.Fatal("expected generated rule id")
	}

	reg := NewRegistry()
	if err := LoadAll(ctx, s.DB, reg, zerolog.New(io.Discard)); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.GetEntity("product") == nil {
		t.Fatal("product not loaded")
	}
	if reg.FieldType("product", "category") != LinkSingle {
		t.Fatal("relation not loaded")
	}
	if got := len(reg.GetRulesForEntity("product", "before_write")); got != 1 {
		t.Fatalf("expected 1 rule, got %d", got)
	}
}
