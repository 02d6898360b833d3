package engine

import (
	"context"
	"fmt"

	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// deleteRecord soft-deletes the record when the entity supports it and
// removes it otherwise. A hard delete first applies the on_delete policy of
// every relation that points at the record and drops its join rows.
func deleteRecord(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, entity *metadata.Entity, id string) error {
	pb := d.NewParamBuilder()
	if entity.SoftDelete {
		sqlStr := fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s AND deleted_at IS NULL",
			entity.Table, d.NowExpr(), d.InExpr(entity.PKField(), pb, []string{id}))
		n, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
		if err != nil {
			return fmt.Errorf("soft delete %s: %w", entity.Table, err)
		}
		if n == 0 {
			return NotFoundError(entity.Name, id)
		}
		return nil
	}

	if _, err := fetchRecord(ctx, q, d, entity, id); err != nil {
		return err
	}
	for _, rel := range reg.GetRelationsForSource(entity.Name) {
		if err := applyOnDelete(ctx, q, d, reg, rel, id); err != nil {
			return fmt.Errorf("on_delete for relation %s: %w", rel.Name, err)
		}
	}
	for _, link := range reg.LinksForEntity(entity.Name) {
		if link.Type != metadata.LinkMultiple {
			continue
		}
		if err := deleteJoinRows(ctx, q, d, link, id); err != nil {
			return err
		}
	}

	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s", entity.Table, d.InExpr(entity.PKField(), pb, []string{id}))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete %s: %w", entity.Table, err)
	}
	return nil
}

// applyOnDelete handles children of a one-to-many or one-to-one relation
// whose parent is about to be removed.
func applyOnDelete(ctx context.Context, q store.Querier, d store.Dialect, reg *metadata.Registry, rel *metadata.Relation, parentID string) error {
	if rel.IsManyToMany() {
		return nil
	}
	child := reg.GetEntity(rel.Target)
	if child == nil {
		return nil
	}
	pb := d.NewParamBuilder()
	match := d.InExpr(rel.TargetKey, pb, []string{parentID})

	var sqlStr string
	switch rel.OnDelete {
	case "cascade":
		if child.SoftDelete {
			sqlStr = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s AND deleted_at IS NULL", child.Table, d.NowExpr(), match)
		} else {
			sqlStr = fmt.Sprintf("DELETE FROM %s WHERE %s", child.Table, match)
		}
	case "set_null":
		sqlStr = fmt.Sprintf("UPDATE %s SET %s = NULL WHERE %s", child.Table, rel.TargetKey, match)
	case "restrict":
		countSQL := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s WHERE %s", child.Table, match)
		if child.SoftDelete {
			countSQL += " AND deleted_at IS NULL"
		}
		row, err := store.QueryRow(ctx, q, countSQL, pb.Params()...)
		if err != nil {
			return err
		}
		if count, ok := row["count"].(int64); ok && count > 0 {
			return ConflictError(fmt.Sprintf("Cannot delete: %d related %s records exist", count, rel.Target))
		}
		return nil
	default:
		return nil
	}

	_, err := store.Exec(ctx, q, sqlStr, pb.Params()...)
	return err
}
