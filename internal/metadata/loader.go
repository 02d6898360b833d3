package metadata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rocket-import/internal/store"
)

// LoadAll reads all entities, relations and rules from the database and populates the registry.
func LoadAll(ctx context.Context, q store.Querier, reg *Registry, logger zerolog.Logger) error {
	entities, err := loadEntities(ctx, q, logger)
	if err != nil {
		return fmt.Errorf("load entities: %w", err)
	}

	relations, err := loadRelations(ctx, q, logger)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}

	reg.Load(entities, relations)

	rules, err := loadRules(ctx, q, logger)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	reg.LoadRules(rules)

	logger.Info().
		Int("entities", len(entities)).
		Int("relations", len(relations)).
		Int("rules", len(rules)).
		Msg("metadata loaded into registry")
	return nil
}

func loadEntities(ctx context.Context, q store.Querier, logger zerolog.Logger) ([]*Entity, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, definition FROM _entities ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan entity row: %w", err)
		}

		var entity Entity
		if err := json.Unmarshal(defJSON, &entity); err != nil {
			logger.Warn().Err(err).Str("entity", name).Msg("skipping entity with invalid definition")
			continue
		}
		entities = append(entities, &entity)
	}
	return entities, rows.Err()
}

func loadRelations(ctx context.Context, q store.Querier, logger zerolog.Logger) ([]*Relation, error) {
	rows, err := q.QueryContext(ctx, "SELECT name, definition FROM _relations ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var relations []*Relation
	for rows.Next() {
		var name string
		var defJSON []byte
		if err := rows.Scan(&name, &defJSON); err != nil {
			return nil, fmt.Errorf("scan relation row: %w", err)
		}

		var rel Relation
		if err := json.Unmarshal(defJSON, &rel); err != nil {
			logger.Warn().Err(err).Str("relation", name).Msg("skipping relation with invalid definition")
			continue
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

func loadRules(ctx context.Context, q store.Querier, logger zerolog.Logger) ([]*Rule, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT id, entity, hook, type, definition, priority, active FROM _rules ORDER BY entity, priority")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		var r Rule
		var defJSON []byte
		if err := rows.Scan(&r.ID, &r.Entity, &r.Hook, &r.Type, &defJSON, &r.Priority, &r.Active); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		if err := json.Unmarshal(defJSON, &r.Definition); err != nil {
			logger.Warn().Err(err).Str("rule", r.ID).Msg("skipping rule with invalid definition")
			continue
		}
		rules = append(rules, &r)
	}
	return rules, rows.Err()
}

// SaveEntity inserts an entity definition into _entities.
func SaveEntity(ctx context.Context, s *store.Store, e *Entity) error {
	def, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.Name, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _entities (name, table_name, definition) VALUES (%s, %s, %s)",
		pb.Add(e.Name), pb.Add(e.Table), pb.Add(string(def)))
	if _, err := store.Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("save entity %s: %w", e.Name, store.MapError(s.Dialect, err))
	}
	return nil
}

// SaveRelation inserts a relation definition into _relations.
func SaveRelation(ctx context.Context, s *store.Store, rel *Relation) error {
	def, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("marshal relation %s: %w", rel.Name, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _relations (name, source, target, definition) VALUES (%s, %s, %s, %s)",
		pb.Add(rel.Name), pb.Add(rel.Source), pb.Add(rel.Target), pb.Add(string(def)))
	if _, err := store.Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("save relation %s: %w", rel.Name, store.MapError(s.Dialect, err))
	}
	return nil
}

// SaveRule inserts a rule into _rules, assigning an id when empty.
func SaveRule(ctx context.Context, s *store.Store, r *Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Hook == "" {
		r.Hook = "before_write"
	}
	def, err := json.Marshal(r.Definition)
	if err != nil {
		return fmt.Errorf("marshal rule %s: %w", r.ID, err)
	}
	pb := s.Dialect.NewParamBuilder()
	sql := fmt.Sprintf("INSERT INTO _rules (id, entity, hook, type, definition, priority, active) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		pb.Add(r.ID), pb.Add(r.Entity), pb.Add(r.Hook), pb.Add(r.Type), pb.Add(string(def)), pb.Add(r.Priority), pb.Add(r.Active))
	if _, err := store.Exec(ctx, s.DB, sql, pb.Params()...); err != nil {
		return fmt.Errorf("save rule %s: %w", r.ID, store.MapError(s.Dialect, err))
	}
	return nil
}
