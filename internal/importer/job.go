package importer

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Action selects how rows are matched against existing records.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdate       Action = "update"
	ActionCreateUpdate Action = "create_update"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionCreateUpdate:
		return true
	}
	return false
}

// ColumnRef points at a source column by position or by name. The zero
// value is the null reference (the mapping has no source column).
type ColumnRef struct {
	key     string
	index   int
	isIndex bool
	set     bool
}

func ColumnIndex(i int) ColumnRef       { return ColumnRef{key: strconv.Itoa(i), index: i, isIndex: true, set: true} }
func ColumnName(name string) ColumnRef { return ColumnRef{key: name, set: true} }

func (c ColumnRef) IsNull() bool { return !c.set }

// Key is the RawRow key the reference resolves to.
func (c ColumnRef) Key() string { return c.key }

func (c ColumnRef) String() string {
	if !c.set {
		return "<none>"
	}
	return c.key
}

func (c ColumnRef) MarshalJSON() ([]byte, error) {
	switch {
	case !c.set:
		return []byte("null"), nil
	case c.isIndex:
		return []byte(strconv.Itoa(c.index)), nil
	default:
		return json.Marshal(c.key)
	}
}

func (c *ColumnRef) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid column reference")
	}
	r := gjson.ParseBytes(data)
	switch r.Type {
	case gjson.Null:
		*c = ColumnRef{}
	case gjson.Number:
		if r.Num != float64(int(r.Num)) || r.Num < 0 {
			return fmt.Errorf("column index must be a non-negative integer, got %s", r.Raw)
		}
		*c = ColumnIndex(int(r.Num))
	case gjson.String:
		*c = ColumnName(r.Str)
	default:
		return fmt.Errorf("column must be null, an index or a name, got %s", r.Raw)
	}
	return nil
}

func (c *ColumnRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: column must be a scalar", node.Line)
	}
	switch node.Tag {
	case "!!null":
		*c = ColumnRef{}
	case "!!int":
		var i int
		if err := node.Decode(&i); err != nil {
			return err
		}
		if i < 0 {
			return fmt.Errorf("line %d: column index must be non-negative", node.Line)
		}
		*c = ColumnIndex(i)
	default:
		*c = ColumnName(node.Value)
	}
	return nil
}

// FieldMapping configures how one source column becomes one target field.
type FieldMapping struct {
	Name    string    `json:"name" yaml:"name"`
	Column  ColumnRef `json:"column" yaml:"column"`
	Default any       `json:"default,omitempty" yaml:"default,omitempty"`
	// Field is the attribute of the related entity used for lookups.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
	// Entity is a display hint only.
	Entity string `json:"entity,omitempty" yaml:"entity,omitempty"`
}

// ImportJobSpec is the batch-level configuration of one import invocation.
type ImportJobSpec struct {
	JobID         string         `json:"job_id" yaml:"job_id"`
	Entity        string         `json:"entity" yaml:"entity"`
	Fields        []FieldMapping `json:"fields" yaml:"fields"`
	IdentityField string         `json:"identity_field,omitempty" yaml:"identity_field,omitempty"`
	Delimiter     string         `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
	Action        Action         `json:"action" yaml:"action"`
	Offset        int            `json:"offset,omitempty" yaml:"offset,omitempty"`
}

// Validate reports the first structural problem in the spec as a *ConfigError.
func (s ImportJobSpec) Validate() error {
	if s.JobID == "" {
		return &ConfigError{Field: "job_id", Message: "is required"}
	}
	if s.Entity == "" {
		return &ConfigError{Field: "entity", Message: "is required"}
	}
	if !s.Action.Valid() {
		return &ConfigError{Field: "action", Message: fmt.Sprintf("unknown action %q", s.Action)}
	}
	if len(s.Fields) == 0 {
		return &ConfigError{Field: "fields", Message: "at least one field mapping is required"}
	}
	if s.Offset < 0 {
		return &ConfigError{Field: "offset", Message: "must not be negative"}
	}
	seen := make(map[string]bool, len(s.Fields))
	for i, f := range s.Fields {
		if f.Name == "" {
			return &ConfigError{Field: fmt.Sprintf("fields[%d].name", i), Message: "is required"}
		}
		if seen[f.Name] {
			return &ConfigError{Field: fmt.Sprintf("fields[%d].name", i), Message: fmt.Sprintf("duplicate mapping for %q", f.Name)}
		}
		seen[f.Name] = true
	}
	if s.IdentityField != "" {
		m, ok := s.mapping(s.IdentityField)
		if !ok {
			return &ConfigError{Field: "identity_field", Message: fmt.Sprintf("%q has no field mapping", s.IdentityField)}
		}
		if m.Column.IsNull() {
			return &ConfigError{Field: "identity_field", Message: fmt.Sprintf("%q is not mapped to a column", s.IdentityField)}
		}
	}
	return nil
}

// IdentityMapping returns the mapping of the identity field, if configured.
func (s ImportJobSpec) IdentityMapping() (FieldMapping, bool) {
	if s.IdentityField == "" {
		return FieldMapping{}, false
	}
	m, ok := s.mapping(s.IdentityField)
	if !ok || m.Column.IsNull() {
		return FieldMapping{}, false
	}
	return m, true
}

// MultiDelimiter is the separator for multi-valued cells, "," by default.
func (s ImportJobSpec) MultiDelimiter() string {
	if s.Delimiter == "" {
		return ","
	}
	return s.Delimiter
}

func (s ImportJobSpec) mapping(name string) (FieldMapping, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMapping{}, false
}
