package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Built-in converter identifiers.
const (
	ConverterDefault      = "default"
	ConverterLink         = "link"
	ConverterLinkMultiple = "link_multiple"
)

const hashPlaceholder = "{{hash}}"

// Input carries what a converter may consult for one row.
type Input struct {
	EntityType string
	Row        RawRow
	Delimiter  string
	Reader     Reader
	IDs        IDGenerator
	Catalog    Catalog
}

// Converter turns a raw cell into a field value and reads the same field
// back from a persisted record.
type Converter interface {
	// Check validates the mapping before any row is processed.
	Check(in Input, m FieldMapping) error
	// Field is the NormalizedRecord key the converter writes.
	Field(m FieldMapping) string
	Convert(ctx context.Context, in Input, m FieldMapping) (Value, error)
	Snapshot(rec Record, m FieldMapping) Value
}

// ConverterRegistry dispatches field mappings to converter strategies by
// the field type the catalog reports.
type ConverterRegistry struct {
	mu         sync.RWMutex
	catalog    Catalog
	converters map[string]Converter
	fallback   Converter
}

// NewConverterRegistry returns a registry with the built-in strategies.
func NewConverterRegistry(catalog Catalog) *ConverterRegistry {
	r := &ConverterRegistry{
		catalog:    catalog,
		converters: make(map[string]Converter),
		fallback:   DefaultConverter{},
	}
	r.converters[ConverterDefault] = DefaultConverter{}
	r.converters[ConverterLink] = LinkConverter{}
	r.converters[ConverterLinkMultiple] = LinkMultipleConverter{}
	return r
}

// Register adds a strategy under id. Ids are unique.
func (r *ConverterRegistry) Register(id string, c Converter) error {
	if id == "" || c == nil {
		return fmt.Errorf("converter id and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.converters[id]; ok {
		return fmt.Errorf("converter %q already registered", id)
	}
	r.converters[id] = c
	return nil
}

// Resolve picks the strategy for a mapping, falling back to the default strategy.
func (r *ConverterRegistry) Resolve(entityType string, m FieldMapping) Converter {
	fieldType := r.catalog.FieldType(entityType, m.Name)
	if fieldType == "" {
		return r.fallback
	}
	id := r.catalog.ConverterFor(entityType, fieldType)
	if id == "" {
		return r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.converters[id]; ok {
		return c
	}
	return r.fallback
}

// cell returns the raw value the mapping points at; false when the mapping
// has no column or the cell is missing or empty.
func cell(row RawRow, m FieldMapping) (string, bool) {
	if m.Column.IsNull() {
		return "", false
	}
	v, ok := row.Get(m.Column.Key())
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// defaultScalar resolves mapping.default, replacing {{hash}} with a fresh id.
func defaultScalar(m FieldMapping, ids IDGenerator) Value {
	switch d := m.Default.(type) {
	case nil:
		return Null()
	case string:
		if strings.Contains(d, hashPlaceholder) {
			d = strings.ReplaceAll(d, hashPlaceholder, ids.NewID())
		}
		return Scalar(d)
	default:
		return Scalar(d)
	}
}

// splitKeys splits a multi-valued cell, trimming items and dropping empties.
func splitKeys(raw, delimiter string) []string {
	if delimiter == "" {
		delimiter = ","
	}
	parts := strings.Split(raw, delimiter)
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}
