package importer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// ValueKind tags the shape of a converted field value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindScalar
	KindList
)

// Value is a converted field value: null, a scalar, or an ordered list of
// identifiers (multi-relationships).
type Value struct {
	Kind   ValueKind
	Scalar any
	List   []string
}

func Null() Value               { return Value{Kind: KindNull} }
func Scalar(v any) Value        { return Value{Kind: KindScalar, Scalar: v} }
func List(items []string) Value { return Value{Kind: KindList, List: items} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// Interface returns the plain Go form: nil, the scalar, or []string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindScalar:
		return v.Scalar
	case KindList:
		if v.List == nil {
			return []string{}
		}
		return v.List
	default:
		return nil
	}
}

// String renders scalars for comparisons and log messages.
func (v Value) String() string {
	switch v.Kind {
	case KindScalar:
		return stringify(v.Scalar)
	case KindList:
		return fmt.Sprint(v.List)
	default:
		return ""
	}
}

// ValueOf wraps a persisted field value.
func ValueOf(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case []string:
		return List(append([]string(nil), val...))
	case []any:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, stringify(item))
		}
		return List(items)
	default:
		return Scalar(v)
	}
}

// ListOf wraps a persisted multi-relationship value, treating nil as empty.
func ListOf(v any) Value {
	out := ValueOf(v)
	switch out.Kind {
	case KindList:
		return out
	case KindNull:
		return List([]string{})
	default:
		return List([]string{out.String()})
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid value JSON")
	}
	*v = valueFromResult(gjson.ParseBytes(data))
	return nil
}

func valueFromResult(r gjson.Result) Value {
	switch {
	case r.Type == gjson.Null:
		return Null()
	case r.IsArray():
		items := []string{}
		r.ForEach(func(_, item gjson.Result) bool {
			items = append(items, item.String())
			return true
		})
		return List(items)
	case r.IsObject():
		return Scalar(r.Raw)
	case r.Type == gjson.Number:
		// kept as written; float64 loses integers above 2^53
		return Scalar(json.Number(r.Raw))
	default:
		return Scalar(r.Value())
	}
}

// NormalizedRecord is an ordered mapping from target field name to a
// converted value. Keys keep their first insertion position.
type NormalizedRecord struct {
	keys   []string
	values map[string]Value
}

func NewRecord() *NormalizedRecord {
	return &NormalizedRecord{values: make(map[string]Value)}
}

func (r *NormalizedRecord) Set(key string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = v
}

func (r *NormalizedRecord) Get(key string) (Value, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *NormalizedRecord) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Map flattens the record for the persistence layer.
func (r *NormalizedRecord) Map() map[string]any {
	m := make(map[string]any, len(r.keys))
	for _, k := range r.keys {
		m[k] = r.values[k].Interface()
	}
	return m
}

func (r *NormalizedRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *NormalizedRecord) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid record JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return fmt.Errorf("record JSON must be an object")
	}
	*r = NormalizedRecord{values: make(map[string]Value)}
	parsed.ForEach(func(key, val gjson.Result) bool {
		r.Set(key.String(), valueFromResult(val))
		return true
	})
	return nil
}

// stringify renders a stored value the way it would appear in an import cell.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}
