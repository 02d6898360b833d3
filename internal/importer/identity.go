package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// IdentityResolver maps identity-column values to existing record ids.
type IdentityResolver struct {
	Catalog Catalog
}

// ResolveExisting issues one batch lookup for the given keys and returns
// key -> id. No lookup is made for an empty key set.
func (r IdentityResolver) ResolveExisting(ctx context.Context, reader Reader, entityType, identityField string, keys []string) (map[string]string, error) {
	found := make(map[string]string)

	var candidates []string
	for _, k := range dedupe(keys) {
		if k != "" {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return found, nil
	}

	pk := r.Catalog.IdentifierField(entityType)
	selectFields := []string{pk}
	if identityField != pk {
		selectFields = append(selectFields, identityField)
	}

	recs, err := reader.Query(ctx, entityType, selectFields, Filter{Field: identityField, Values: candidates})
	if err != nil {
		return nil, &PersistenceError{Op: fmt.Sprintf("resolve %s by %s", entityType, identityField), Err: err}
	}
	// A numeric column may match a candidate spelled differently ("05"
	// against 5), so such records are keyed back to the candidate text.
	byCanonical := make(map[string][]string, len(candidates))
	for _, c := range candidates {
		byCanonical[canonicalKey(c)] = append(byCanonical[canonicalKey(c)], c)
	}
	for _, rec := range recs {
		keys := []string{rec.ID}
		if identityField != pk {
			v := rec.Fields[identityField]
			keys = []string{stringify(v)}
			if _, text := v.(string); !text {
				keys = append(keys, byCanonical[canonicalKey(keys[0])]...)
			}
		}
		for _, k := range keys {
			if _, dup := found[k]; !dup {
				found[k] = rec.ID
			}
		}
	}
	return found, nil
}

// canonicalKey folds numeric spellings ("05", "5.0", " 5") to one form.
func canonicalKey(s string) string {
	t := strings.TrimSpace(s)
	if i, err := strconv.ParseInt(t, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	if f, err := strconv.ParseFloat(t, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return s
}
