package importer

import (
	"context"
	"fmt"
	"strings"
)

// DefaultConverter passes raw cells through unchanged.
type DefaultConverter struct{}

func (DefaultConverter) Check(Input, FieldMapping) error { return nil }

func (DefaultConverter) Field(m FieldMapping) string { return m.Name }

func (DefaultConverter) Convert(_ context.Context, in Input, m FieldMapping) (Value, error) {
	if raw, ok := cell(in.Row, m); ok {
		return Scalar(raw), nil
	}
	return defaultScalar(m, in.IDs), nil
}

func (DefaultConverter) Snapshot(rec Record, m FieldMapping) Value {
	return ValueOf(rec.Fields[m.Name])
}

// LinkConverter resolves a single related record, writing "<name>Id".
type LinkConverter struct{}

func (LinkConverter) Check(in Input, m FieldMapping) error {
	return checkLink(in, m)
}

func (LinkConverter) Field(m FieldMapping) string { return m.Name + "Id" }

func (LinkConverter) Convert(ctx context.Context, in Input, m FieldMapping) (Value, error) {
	raw, ok := cell(in.Row, m)
	if !ok {
		return defaultScalar(m, in.IDs), nil
	}
	target := in.Catalog.RelationTarget(in.EntityType, m.Name)
	pk := in.Catalog.IdentifierField(target)
	if m.Field == pk {
		return Scalar(raw), nil
	}

	recs, err := in.Reader.Query(ctx, target, []string{pk}, Filter{Field: m.Field, Values: []string{raw}})
	if err != nil {
		return Value{}, &ConversionError{Field: m.Name, Err: fmt.Errorf("look up %s by %s: %w", target, m.Field, err)}
	}
	if len(recs) > 0 {
		return Scalar(recs[0].ID), nil
	}
	return defaultScalar(m, in.IDs), nil
}

func (c LinkConverter) Snapshot(rec Record, m FieldMapping) Value {
	return ValueOf(rec.Fields[c.Field(m)])
}

// LinkMultipleConverter resolves a delimited list of related records,
// writing "<name>Ids". Keys that match nothing are dropped.
type LinkMultipleConverter struct{}

func (LinkMultipleConverter) Check(in Input, m FieldMapping) error {
	return checkLink(in, m)
}

func (LinkMultipleConverter) Field(m FieldMapping) string { return m.Name + "Ids" }

func (LinkMultipleConverter) Convert(ctx context.Context, in Input, m FieldMapping) (Value, error) {
	raw, ok := cell(in.Row, m)
	keys := splitKeys(raw, in.Delimiter)
	if !ok || len(keys) == 0 {
		return defaultList(m, in.IDs), nil
	}
	target := in.Catalog.RelationTarget(in.EntityType, m.Name)
	pk := in.Catalog.IdentifierField(target)
	if m.Field == pk {
		return List(dedupe(keys)), nil
	}

	recs, err := in.Reader.Query(ctx, target, []string{pk, m.Field}, Filter{Field: m.Field, Values: keys})
	if err != nil {
		return Value{}, &ConversionError{Field: m.Name, Err: fmt.Errorf("look up %s by %s: %w", target, m.Field, err)}
	}
	byKey := make(map[string][]string, len(recs))
	for _, r := range recs {
		k := stringify(r.Fields[m.Field])
		byKey[k] = append(byKey[k], r.ID)
	}
	var ids []string
	for _, k := range keys {
		ids = append(ids, byKey[k]...)
	}
	if len(ids) == 0 {
		return defaultList(m, in.IDs), nil
	}
	return List(dedupe(ids)), nil
}

func (c LinkMultipleConverter) Snapshot(rec Record, m FieldMapping) Value {
	return ListOf(rec.Fields[c.Field(m)])
}

func checkLink(in Input, m FieldMapping) error {
	if in.Catalog.RelationTarget(in.EntityType, m.Name) == "" {
		return &ConfigError{Field: m.Name, Message: fmt.Sprintf("%s has no relation named %q", in.EntityType, m.Name)}
	}
	if !m.Column.IsNull() && m.Field == "" {
		return &ConfigError{Field: m.Name, Message: "relationship mapping needs a lookup field"}
	}
	return nil
}

// defaultList splits mapping.default by comma.
func defaultList(m FieldMapping, ids IDGenerator) Value {
	d := defaultScalar(m, ids)
	if d.IsNull() {
		return List([]string{})
	}
	s, ok := d.Scalar.(string)
	if !ok {
		return List([]string{stringify(d.Scalar)})
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return List(out)
}
