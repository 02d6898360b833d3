package importer

import "context"

// RowTransformer builds a NormalizedRecord from a raw row.
type RowTransformer struct {
	Converters *ConverterRegistry
	Catalog    Catalog
	IDs        IDGenerator
}

// Transform converts every mapping in configured order. When updating, the
// identity mapping is skipped since the record is already identified.
func (t RowTransformer) Transform(ctx context.Context, reader Reader, row RawRow, spec ImportJobSpec, updating bool) (*NormalizedRecord, error) {
	in := Input{
		EntityType: spec.Entity,
		Row:        row,
		Delimiter:  spec.MultiDelimiter(),
		Reader:     reader,
		IDs:        t.IDs,
		Catalog:    t.Catalog,
	}
	rec := NewRecord()
	for _, m := range spec.Fields {
		if updating && m.Name == spec.IdentityField {
			continue
		}
		c := t.Converters.Resolve(spec.Entity, m)
		v, err := c.Convert(ctx, in, m)
		if err != nil {
			return nil, err
		}
		rec.Set(c.Field(m), v)
	}
	return rec, nil
}

// RestoreSnapshotter captures the pre-image of a record about to be updated.
type RestoreSnapshotter struct {
	Converters *ConverterRegistry
}

// Snapshot reads every mapped field except the identity field from existing.
func (s RestoreSnapshotter) Snapshot(existing Record, spec ImportJobSpec) *NormalizedRecord {
	rec := NewRecord()
	for _, m := range spec.Fields {
		if m.Name == spec.IdentityField {
			continue
		}
		c := s.Converters.Resolve(spec.Entity, m)
		rec.Set(c.Field(m), c.Snapshot(existing, m))
	}
	return rec
}
