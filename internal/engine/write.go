package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"rocket-import/internal/importer"
	"rocket-import/internal/metadata"
)

// WritePlan is a record write split into column values for the entity's
// own table and join-table replacements for its multiple links.
type WritePlan struct {
	IsCreate bool
	Entity   *metadata.Entity
	Fields   map[string]any
	ID       any // nil for create
	Joins    []JoinWrite
}

// JoinWrite replaces every join row of a multiple link.
type JoinWrite struct {
	Link      *metadata.Link
	TargetIDs []string
}

// PlanWrite maps an imported record onto columns and join tables, coercing
// values into the declared field types. existingID is nil for a create.
func PlanWrite(entity *metadata.Entity, reg *metadata.Registry, rec *importer.NormalizedRecord, existingID any) (*WritePlan, []ErrorDetail) {
	plan := &WritePlan{
		IsCreate: existingID == nil,
		Entity:   entity,
		Fields:   make(map[string]any),
		ID:       existingID,
	}

	var errs []ErrorDetail
	for _, key := range rec.Keys() {
		val, _ := rec.Get(key)

		if f := entity.GetField(key); f != nil {
			if f.IsAuto() {
				continue
			}
			if !plan.IsCreate && f.Name == entity.PKField() {
				continue
			}
			v, err := coerceFieldValue(f, val)
			if err != nil {
				errs = append(errs, ErrorDetail{Field: key, Rule: "type", Message: err.Error()})
				continue
			}
			plan.Fields[f.Name] = v
			continue
		}

		link, column := resolveLinkKey(reg, entity.Name, key)
		switch {
		case link == nil:
			errs = append(errs, ErrorDetail{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field or relation: %s", key),
			})
		case link.Type == metadata.LinkSingle:
			if val.Kind == importer.KindList {
				errs = append(errs, ErrorDetail{Field: key, Rule: "type", Message: "expected a single identifier"})
				continue
			}
			if val.IsNull() || val.String() == "" {
				plan.Fields[column] = nil
			} else {
				plan.Fields[column] = val.String()
			}
		default:
			ids := val.List
			if val.Kind == importer.KindScalar {
				ids = []string{val.String()}
			}
			plan.Joins = append(plan.Joins, JoinWrite{Link: link, TargetIDs: ids})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	if plan.IsCreate {
		if err := assignPrimaryKey(entity, plan.Fields); err != nil {
			return nil, []ErrorDetail{*err}
		}
	}
	return plan, nil
}

// ValidateRequired checks required fields after rules have run. On update
// only the fields being written are checked.
func ValidateRequired(entity *metadata.Entity, fields map[string]any, isCreate bool) []ErrorDetail {
	var errs []ErrorDetail
	for _, f := range entity.WritableFields() {
		if !f.Required {
			continue
		}
		v, present := fields[f.Name]
		if !present && !isCreate {
			continue
		}
		if !present && f.Default != nil {
			continue
		}
		if v == nil || v == "" {
			errs = append(errs, ErrorDetail{
				Field:   f.Name,
				Rule:    "required",
				Message: fmt.Sprintf("%s is required", f.Name),
			})
		}
	}
	return errs
}

// resolveLinkKey maps "<link>Id" / "<link>Ids" to the entity's link. The
// returned column is the foreign key of a single link.
func resolveLinkKey(reg *metadata.Registry, entityName, key string) (*metadata.Link, string) {
	if name, ok := strings.CutSuffix(key, "Ids"); ok && name != "" {
		if link := reg.FindLink(entityName, name); link != nil && link.Type == metadata.LinkMultiple {
			return link, ""
		}
	}
	if name, ok := strings.CutSuffix(key, "Id"); ok && name != "" {
		if link := reg.FindLink(entityName, name); link != nil && link.Type == metadata.LinkSingle {
			return link, link.Column
		}
	}
	return nil, ""
}

func assignPrimaryKey(entity *metadata.Entity, fields map[string]any) *ErrorDetail {
	pk := entity.PKField()
	if v, ok := fields[pk]; ok && v != nil && v != "" {
		return nil
	}
	delete(fields, pk)
	if !entity.PrimaryKey.Generated {
		return &ErrorDetail{Field: pk, Rule: "required", Message: fmt.Sprintf("%s is required", pk)}
	}
	switch entity.PrimaryKey.Type {
	case "uuid", "string", "":
		fields[pk] = uuid.NewString()
	}
	// integer keys are generated by the database
	return nil
}

// coerceFieldValue turns an imported value into the Go type the column expects.
// Empty strings become NULL for every non-text type.
func coerceFieldValue(field *metadata.Field, val importer.Value) (any, error) {
	switch val.Kind {
	case importer.KindNull:
		return nil, nil
	case importer.KindList:
		return nil, fmt.Errorf("%s does not accept a list", field.Name)
	}

	switch v := val.Scalar.(type) {
	case nil:
		return nil, nil
	case bool:
		if field.Type == "boolean" {
			return v, nil
		}
	case time.Time:
		return v, nil
	}

	s := val.String()
	if s == "" {
		if field.IsText() {
			return "", nil
		}
		return nil, nil
	}
	out, err := coerceSingleValue(field, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q", field.Type, s)
	}
	return out, nil
}

func coerceSingleValue(field *metadata.Field, val string) (any, error) {
	switch field.Type {
	case "int":
		return strconv.Atoi(val)
	case "bigint":
		return strconv.ParseInt(val, 10, 64)
	case "decimal", "float":
		return strconv.ParseFloat(val, 64)
	case "boolean":
		return strconv.ParseBool(strings.ToLower(val))
	default:
		return val, nil
	}
}
