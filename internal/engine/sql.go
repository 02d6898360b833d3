package engine

import (
	"fmt"
	"sort"
	"strings"

	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// BuildInsertSQL returns an INSERT for the given column values that returns
// the primary key of the new row.
func BuildInsertSQL(d store.Dialect, entity *metadata.Entity, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	cols := sortedKeys(fields)
	placeholders := make([]string, len(cols))
	for i, c := range cols {
		placeholders[i] = pb.Add(fields[c])
	}

	pk := entity.PKField()
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", entity.Table, pk), nil
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		entity.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), pk)
	return sql, pb.Params()
}

// BuildUpdateSQL returns an UPDATE of the given columns, touching an
// updated_at auto field when the entity has one. It returns "" when there is
// nothing to write.
func BuildUpdateSQL(d store.Dialect, entity *metadata.Entity, id any, fields map[string]any) (string, []any) {
	pb := d.NewParamBuilder()
	var sets []string
	for _, c := range sortedKeys(fields) {
		sets = append(sets, fmt.Sprintf("%s = %s", c, pb.Add(fields[c])))
	}
	if len(sets) == 0 {
		return "", nil
	}
	for _, f := range entity.Fields {
		if f.Auto == "update" {
			sets = append(sets, fmt.Sprintf("%s = %s", f.Name, d.NowExpr()))
		}
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table, strings.Join(sets, ", "), entity.PKField(), pb.Add(id))
	if entity.SoftDelete {
		sql += " AND deleted_at IS NULL"
	}
	return sql, pb.Params()
}

// buildSelectSQL selects columns of live rows. An empty filter field selects by
// nothing; values are compared as text so string keys match numeric columns.
func buildSelectSQL(d store.Dialect, entity *metadata.Entity, columns []string, filterField string, values []string) (string, []any) {
	pb := d.NewParamBuilder()
	sql := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), entity.Table)

	var where []string
	if filterField != "" {
		where = append(where, d.InExpr(filterField, pb, values))
	}
	if entity.SoftDelete {
		where = append(where, "deleted_at IS NULL")
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY " + entity.PKField()
	return sql, pb.Params()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
