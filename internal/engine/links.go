package engine

import (
	"context"
	"fmt"

	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// attachLinks exposes the entity's links on each row: "<link>Id" holds the
// foreign key of a single link and "<link>Ids" the sorted identifiers of a
// multiple link. Links are exposed under both the related entity name and
// the relation name, since import mappings may use either.
func (s *Service) attachLinks(ctx context.Context, q store.Querier, entity *metadata.Entity, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	pk := entity.PKField()
	for _, link := range s.registry.LinksForEntity(entity.Name) {
		names := []string{link.Name}
		if link.Relation.Name != link.Name {
			names = append(names, link.Relation.Name)
		}

		if link.Type == metadata.LinkSingle {
			for _, row := range rows {
				var v any
				if fk := row[link.Column]; fk != nil {
					v = fmt.Sprint(fk)
				}
				for _, n := range names {
					row[n+"Id"] = v
				}
			}
			continue
		}

		ids := make([]string, len(rows))
		for i, row := range rows {
			ids[i] = fmt.Sprint(row[pk])
		}
		joined, err := loadJoinTargets(ctx, q, s.store.Dialect, link, ids)
		if err != nil {
			return err
		}
		for i, row := range rows {
			targets := joined[ids[i]]
			if targets == nil {
				targets = []string{}
			}
			for _, n := range names {
				row[n+"Ids"] = targets
			}
		}
	}
	return nil
}

// loadJoinTargets returns owner id -> target ids for a multiple link.
func loadJoinTargets(ctx context.Context, q store.Querier, d store.Dialect, link *metadata.Link, ownerIDs []string) (map[string][]string, error) {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s ORDER BY %s, %s",
		link.OwnKey, link.OtherKey, link.JoinTable,
		d.InExpr(link.OwnKey, pb, ownerIDs), link.OwnKey, link.OtherKey)
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("load %s links: %w", link.Name, err)
	}
	out := make(map[string][]string)
	for _, r := range rows {
		owner := fmt.Sprint(r[link.OwnKey])
		out[owner] = append(out[owner], fmt.Sprint(r[link.OtherKey]))
	}
	return out, nil
}

// replaceJoinRows deletes every join row of the owner and inserts one per target.
func replaceJoinRows(ctx context.Context, q store.Querier, d store.Dialect, link *metadata.Link, ownerID any, targetIDs []string) error {
	if err := deleteJoinRows(ctx, q, d, link, ownerID); err != nil {
		return err
	}
	for _, targetID := range targetIDs {
		if targetID == "" {
			continue
		}
		if err := insertJoinRow(ctx, q, d, link, ownerID, targetID); err != nil {
			return err
		}
	}
	return nil
}

func deleteJoinRows(ctx context.Context, q store.Querier, d store.Dialect, link *metadata.Link, ownerID any) error {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", link.JoinTable, link.OwnKey, pb.Add(ownerID))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("delete join rows from %s: %w", link.JoinTable, err)
	}
	return nil
}

func insertJoinRow(ctx context.Context, q store.Querier, d store.Dialect, link *metadata.Link, ownerID any, targetID string) error {
	pb := d.NewParamBuilder()
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		link.JoinTable, link.OwnKey, link.OtherKey, pb.Add(ownerID), pb.Add(targetID))
	if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("insert join row in %s: %w", link.JoinTable, err)
	}
	return nil
}
