package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rocket-import/internal/importer"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// Service is the metadata-driven persistence layer imports write through.
// It implements importer.Persistence.
type Service struct {
	store    *store.Store
	registry *metadata.Registry
}

func NewService(s *store.Store, reg *metadata.Registry) *Service {
	return &Service{store: s, registry: reg}
}

// Fetch returns a live record with its link fields populated.
func (s *Service) Fetch(ctx context.Context, entityType, id string) (importer.Record, error) {
	return s.fetch(ctx, s.store.DB, entityType, id)
}

// Query returns live records whose filter field matches any of the values.
func (s *Service) Query(ctx context.Context, entityType string, selectFields []string, filter importer.Filter) ([]importer.Record, error) {
	return s.query(ctx, s.store.DB, entityType, selectFields, filter)
}

// Begin opens a transaction scoped to one import row or restore step.
func (s *Service) Begin(ctx context.Context) (importer.Session, error) {
	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &txSession{svc: s, tx: tx}, nil
}

func (s *Service) entity(name string) (*metadata.Entity, error) {
	entity := s.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

func (s *Service) fetch(ctx context.Context, q store.Querier, entityType, id string) (importer.Record, error) {
	entity, err := s.entity(entityType)
	if err != nil {
		return importer.Record{}, err
	}
	row, err := fetchRecord(ctx, q, s.store.Dialect, entity, id)
	if err != nil {
		return importer.Record{}, err
	}
	if err := s.attachLinks(ctx, q, entity, []map[string]any{row}); err != nil {
		return importer.Record{}, err
	}
	return toRecord(entity, row), nil
}

func (s *Service) query(ctx context.Context, q store.Querier, entityType string, selectFields []string, filter importer.Filter) ([]importer.Record, error) {
	entity, err := s.entity(entityType)
	if err != nil {
		return nil, err
	}

	pk := entity.PKField()
	columns := []string{pk}
	withLinks := false
	for _, name := range selectFields {
		switch {
		case name == pk:
		case entity.HasField(name):
			columns = append(columns, name)
		default:
			if link, _ := resolveLinkKey(s.registry, entity.Name, name); link == nil {
				return nil, fmt.Errorf("%s has no field %s", entity.Name, name)
			}
			withLinks = true
		}
	}
	if filter.Field != pk && !entity.HasField(filter.Field) {
		return nil, fmt.Errorf("%s has no field %s to filter on", entity.Name, filter.Field)
	}

	sqlStr, params := buildSelectSQL(s.store.Dialect, entity, columns, filter.Field, filter.Values)
	rows, err := store.QueryRows(ctx, q, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", entity.Name, err)
	}
	if s.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, entity.BooleanFields())
	}
	if withLinks {
		if err := s.attachLinks(ctx, q, entity, rows); err != nil {
			return nil, err
		}
	}

	out := make([]importer.Record, len(rows))
	for i, row := range rows {
		out[i] = toRecord(entity, row)
	}
	return out, nil
}

// write runs rules, the row write and the join replacements of a plan, and
// returns the primary key of the written row.
func (s *Service) write(ctx context.Context, q store.Querier, plan *WritePlan, old map[string]any) (any, error) {
	entity := plan.Entity
	if old == nil {
		old = map[string]any{}
	}

	if errs := EvaluateRules(s.registry, entity.Name, "before_write", plan.Fields, old, plan.IsCreate); len(errs) > 0 {
		return nil, ValidationError(errs)
	}
	if errs := ValidateRequired(entity, plan.Fields, plan.IsCreate); len(errs) > 0 {
		return nil, ValidationError(errs)
	}

	id := plan.ID
	if plan.IsCreate {
		sqlStr, params := BuildInsertSQL(s.store.Dialect, entity, plan.Fields)
		row, err := store.QueryRow(ctx, q, sqlStr, params...)
		if err != nil {
			return nil, fmt.Errorf("insert %s: %w", entity.Table, store.MapError(s.store.Dialect, err))
		}
		id = row[entity.PKField()]
	} else if sqlStr, params := BuildUpdateSQL(s.store.Dialect, entity, plan.ID, plan.Fields); sqlStr != "" {
		n, err := store.Exec(ctx, q, sqlStr, params...)
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", entity.Table, store.MapError(s.store.Dialect, err))
		}
		if n == 0 {
			return nil, NotFoundError(entity.Name, fmt.Sprint(plan.ID))
		}
	}

	for _, jw := range plan.Joins {
		if err := replaceJoinRows(ctx, q, s.store.Dialect, jw.Link, id, jw.TargetIDs); err != nil {
			return nil, fmt.Errorf("link %s: %w", jw.Link.Name, store.MapError(s.store.Dialect, err))
		}
	}
	return id, nil
}

// txSession is an importer.Session over one database transaction.
type txSession struct {
	svc  *Service
	tx   *sql.Tx
	done bool
}

func (t *txSession) Fetch(ctx context.Context, entityType, id string) (importer.Record, error) {
	return t.svc.fetch(ctx, t.tx, entityType, id)
}

func (t *txSession) Query(ctx context.Context, entityType string, selectFields []string, filter importer.Filter) ([]importer.Record, error) {
	return t.svc.query(ctx, t.tx, entityType, selectFields, filter)
}

func (t *txSession) Create(ctx context.Context, entityType string, rec *importer.NormalizedRecord) (importer.Record, error) {
	entity, err := t.svc.entity(entityType)
	if err != nil {
		return importer.Record{}, err
	}
	plan, errs := PlanWrite(entity, t.svc.registry, rec, nil)
	if len(errs) > 0 {
		return importer.Record{}, ValidationError(errs)
	}
	id, err := t.svc.write(ctx, t.tx, plan, nil)
	if err != nil {
		return importer.Record{}, err
	}
	return t.svc.fetch(ctx, t.tx, entityType, fmt.Sprint(id))
}

func (t *txSession) Update(ctx context.Context, entityType, id string, rec *importer.NormalizedRecord) (importer.Record, error) {
	entity, err := t.svc.entity(entityType)
	if err != nil {
		return importer.Record{}, err
	}
	old, err := fetchRecord(ctx, t.tx, t.svc.store.Dialect, entity, id)
	if err != nil {
		return importer.Record{}, err
	}
	plan, errs := PlanWrite(entity, t.svc.registry, rec, id)
	if len(errs) > 0 {
		return importer.Record{}, ValidationError(errs)
	}
	if _, err := t.svc.write(ctx, t.tx, plan, old); err != nil {
		return importer.Record{}, err
	}
	return t.svc.fetch(ctx, t.tx, entityType, id)
}

func (t *txSession) Delete(ctx context.Context, entityType, id string) error {
	entity, err := t.svc.entity(entityType)
	if err != nil {
		return err
	}
	return deleteRecord(ctx, t.tx, t.svc.store.Dialect, t.svc.registry, entity, id)
}

func (t *txSession) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	t.done = true
	return nil
}

func (t *txSession) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func fetchRecord(ctx context.Context, q store.Querier, d store.Dialect, entity *metadata.Entity, id string) (map[string]any, error) {
	columns := entity.FieldNames()
	if !entity.HasField(entity.PKField()) {
		columns = append([]string{entity.PKField()}, columns...)
	}
	sqlStr, params := buildSelectSQL(d, entity, columns, entity.PKField(), []string{id})
	row, err := store.QueryRow(ctx, q, sqlStr, params...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFoundError(entity.Name, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", entity.Name, id, err)
	}
	if d.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, entity.BooleanFields())
	}
	return row, nil
}

func toRecord(entity *metadata.Entity, row map[string]any) importer.Record {
	return importer.Record{ID: fmt.Sprint(row[entity.PKField()]), Fields: row}
}
