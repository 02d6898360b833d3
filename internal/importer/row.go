package importer

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
)

// RawRow is one parsed input row: an ordered mapping from column key to the
// raw cell text.
type RawRow struct {
	keys   []string
	values map[string]string
}

// RowFromSlice keys cells by their position ("0", "1", ...).
func RowFromSlice(cells []string) RawRow {
	row := RawRow{values: make(map[string]string, len(cells))}
	for i, c := range cells {
		row.set(strconv.Itoa(i), c)
	}
	return row
}

// RowFromMap builds a row from named cells. Keys are sorted since maps carry no order.
func RowFromMap(cells map[string]string) RawRow {
	keys := make([]string, 0, len(cells))
	for k := range cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	row := RawRow{values: make(map[string]string, len(cells))}
	for _, k := range keys {
		row.set(k, cells[k])
	}
	return row
}

func (r *RawRow) set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r RawRow) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r RawRow) Keys() []string {
	return append([]string(nil), r.keys...)
}

// UnmarshalJSON accepts either an array of cells or an object of named cells,
// keeping the document order.
func (r *RawRow) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid row JSON")
	}
	parsed := gjson.ParseBytes(data)
	*r = RawRow{values: make(map[string]string)}
	switch {
	case parsed.IsArray():
		i := 0
		parsed.ForEach(func(_, cell gjson.Result) bool {
			r.set(strconv.Itoa(i), cellText(cell))
			i++
			return true
		})
	case parsed.IsObject():
		parsed.ForEach(func(key, cell gjson.Result) bool {
			r.set(key.String(), cellText(cell))
			return true
		})
	default:
		return fmt.Errorf("row must be a JSON array or object")
	}
	return nil
}

func cellText(cell gjson.Result) string {
	if cell.Type == gjson.Null {
		return ""
	}
	return cell.String()
}

// ParseRows decodes a JSON array of rows.
func ParseRows(data []byte) ([]RawRow, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid rows JSON")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("rows must be a JSON array")
	}
	var rows []RawRow
	var decodeErr error
	parsed.ForEach(func(_, item gjson.Result) bool {
		var row RawRow
		if err := row.UnmarshalJSON([]byte(item.Raw)); err != nil {
			decodeErr = fmt.Errorf("row %d: %w", len(rows)+1, err)
			return false
		}
		rows = append(rows, row)
		return true
	})
	if decodeErr != nil {
		return nil, decodeErr
	}
	return rows, nil
}
