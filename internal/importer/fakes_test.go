package importer

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// memStore is an in-memory Persistence. Session writes are buffered and
// applied on commit.
type memStore struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]any // entity -> id -> fields
	pks     map[string]string
	nextID  int
	queries []Filter
	begins  int

	failCreate func(entity string, fields map[string]any) error
	failUpdate func(entity, id string, fields map[string]any) error
	failQuery  error
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]map[string]map[string]any), pks: map[string]string{}}
}

func (m *memStore) put(entity, id string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[entity] == nil {
		m.tables[entity] = make(map[string]map[string]any)
	}
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	m.tables[entity][id] = cp
}

func (m *memStore) count(entity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[entity])
}

func (m *memStore) get(entity, id string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.tables[entity][id]
	return f, ok
}

func (m *memStore) pk(entity string) string {
	if pk, ok := m.pks[entity]; ok {
		return pk
	}
	return "id"
}

func (m *memStore) Fetch(_ context.Context, entity, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.tables[entity][id]
	if !ok {
		return Record{}, fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	cp := make(map[string]any, len(f))
	for k, v := range f {
		cp[k] = v
	}
	return Record{ID: id, Fields: cp}, nil
}

func (m *memStore) Query(_ context.Context, entity string, selectFields []string, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, Filter{Field: filter.Field, Values: append([]string(nil), filter.Values...)})
	if m.failQuery != nil {
		return nil, m.failQuery
	}
	want := make(map[string]bool, len(filter.Values))
	for _, v := range filter.Values {
		want[v] = true
	}
	ids := make([]string, 0, len(m.tables[entity]))
	for id := range m.tables[entity] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Record
	for _, id := range ids {
		f := m.tables[entity][id]
		val := stringify(f[filter.Field])
		if filter.Field == m.pk(entity) {
			val = id
		}
		if !want[val] {
			continue
		}
		sel := make(map[string]any, len(selectFields))
		for _, s := range selectFields {
			if s == m.pk(entity) {
				sel[s] = id
				continue
			}
			sel[s] = f[s]
		}
		out = append(out, Record{ID: id, Fields: sel})
	}
	return out, nil
}

func (m *memStore) Begin(context.Context) (Session, error) {
	m.mu.Lock()
	m.begins++
	m.mu.Unlock()
	return &memSession{store: m}, nil
}

type memSession struct {
	store   *memStore
	pending []func()
	done    bool
}

func (s *memSession) Fetch(ctx context.Context, entity, id string) (Record, error) {
	return s.store.Fetch(ctx, entity, id)
}

func (s *memSession) Query(ctx context.Context, entity string, selectFields []string, filter Filter) ([]Record, error) {
	return s.store.Query(ctx, entity, selectFields, filter)
}

func (s *memSession) Create(_ context.Context, entity string, rec *NormalizedRecord) (Record, error) {
	fields := rec.Map()
	if s.store.failCreate != nil {
		if err := s.store.failCreate(entity, fields); err != nil {
			return Record{}, err
		}
	}
	s.store.mu.Lock()
	id, _ := fields[s.store.pk(entity)].(string)
	if id == "" {
		s.store.nextID++
		id = fmt.Sprintf("%s-%d", entity, s.store.nextID)
	}
	s.store.mu.Unlock()
	delete(fields, s.store.pk(entity))
	s.pending = append(s.pending, func() { s.store.put(entity, id, fields) })
	return Record{ID: id, Fields: fields}, nil
}

func (s *memSession) Update(ctx context.Context, entity, id string, rec *NormalizedRecord) (Record, error) {
	current, err := s.store.Fetch(ctx, entity, id)
	if err != nil {
		return Record{}, err
	}
	changes := rec.Map()
	if s.store.failUpdate != nil {
		if err := s.store.failUpdate(entity, id, changes); err != nil {
			return Record{}, err
		}
	}
	for k, v := range changes {
		current.Fields[k] = v
	}
	s.pending = append(s.pending, func() { s.store.put(entity, id, current.Fields) })
	return current, nil
}

func (s *memSession) Delete(ctx context.Context, entity, id string) error {
	if _, err := s.store.Fetch(ctx, entity, id); err != nil {
		return err
	}
	s.pending = append(s.pending, func() {
		s.store.mu.Lock()
		delete(s.store.tables[entity], id)
		s.store.mu.Unlock()
	})
	return nil
}

func (s *memSession) Commit(context.Context) error {
	if s.done {
		return fmt.Errorf("transaction already finished")
	}
	for _, fn := range s.pending {
		fn()
	}
	s.done = true
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	s.pending = nil
	s.done = true
	return nil
}

// fakeCatalog describes entities with plain maps.
type fakeCatalog struct {
	types     map[string]map[string]string // entity -> field -> type
	targets   map[string]map[string]string // entity -> link -> target
	pks       map[string]string
	overrides map[string]map[string]string // entity -> type -> converter id
}

func (c fakeCatalog) FieldType(entity, field string) string {
	return c.types[entity][field]
}

func (c fakeCatalog) RelationTarget(entity, link string) string {
	return c.targets[entity][link]
}

func (c fakeCatalog) ConverterFor(entity, fieldType string) string {
	if id, ok := c.overrides[entity][fieldType]; ok {
		return id
	}
	switch fieldType {
	case ConverterLink, ConverterLinkMultiple:
		return fieldType
	}
	return ""
}

func (c fakeCatalog) IdentifierField(entity string) string {
	if pk, ok := c.pks[entity]; ok {
		return pk
	}
	return "id"
}

// productCatalog: product has a category link and a tags multi-link.
func productCatalog() fakeCatalog {
	return fakeCatalog{
		types: map[string]map[string]string{
			"product": {"sku": "string", "name": "string", "price": "decimal", "category": "link", "tags": "link_multiple"},
		},
		targets: map[string]map[string]string{
			"product": {"category": "category", "tags": "tag"},
		},
		pks: map[string]string{},
	}
}

type memAudit struct {
	outcomes   []OutcomeLogEntry
	restore    map[string][]RestoreEntry
	specs      map[string]ImportJobSpec
	failRecord error
	failSave   error
}

func newMemAudit() *memAudit {
	return &memAudit{restore: map[string][]RestoreEntry{}, specs: map[string]ImportJobSpec{}}
}

func (a *memAudit) RecordOutcome(_ context.Context, e OutcomeLogEntry) error {
	if a.failRecord != nil {
		return a.failRecord
	}
	a.outcomes = append(a.outcomes, e)
	return nil
}

func (a *memAudit) SaveRestoreLog(_ context.Context, jobID string, entries []RestoreEntry, spec ImportJobSpec) error {
	if a.failSave != nil {
		return a.failSave
	}
	a.restore[jobID] = entries
	a.specs[jobID] = spec
	return nil
}

type seqIDs struct{ n int }

func (s *seqIDs) NewID() string {
	s.n++
	return fmt.Sprintf("gen%d", s.n)
}
