package importer

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

type harness struct {
	store *memStore
	audit *memAudit
	orch  *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := newMemStore()
	audit := newMemAudit()
	cat := productCatalog()
	orch := NewOrchestrator(st, cat, NewConverterRegistry(cat), audit, UUIDGenerator{}, zerolog.New(io.Discard))
	return &harness{store: st, audit: audit, orch: orch}
}

func productSpec(action Action) ImportJobSpec {
	return ImportJobSpec{
		JobID:  "job-1",
		Entity: "product",
		Action: action,
		Fields: []FieldMapping{
			{Name: "sku", Column: ColumnIndex(0)},
			{Name: "name", Column: ColumnIndex(1)},
			{Name: "price", Column: ColumnIndex(2), Default: "0"},
		},
		IdentityField: "sku",
	}
}

func TestRun_CreateSingleRowWithoutIdentity(t *testing.T) {
	h := newHarness(t)
	spec := productSpec(ActionCreate)
	spec.IdentityField = ""

	res, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "Apple", "3.50"})}, spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Created != 1 || res.Updated != 0 || res.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if len(h.audit.outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(h.audit.outcomes))
	}
	out := h.audit.outcomes[0]
	if out.Kind != OutcomeCreate || out.RowNumber != 1 || out.JobID != "job-1" || out.EntityType != "product" {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	log := h.audit.restore["job-1"]
	if len(log) != 1 {
		t.Fatalf("expected 1 restore entry, got %d", len(log))
	}
	if log[0].Action != RestoreCreated || log[0].EntityType != "product" || log[0].CreatedID != out.RecordID {
		t.Fatalf("unexpected restore entry: %+v (outcome id %s)", log[0], out.RecordID)
	}
	fields, ok := h.store.get("product", out.RecordID)
	if !ok {
		t.Fatal("created record not persisted")
	}
	if fields["sku"] != "A1" || fields["name"] != "Apple" || fields["price"] != "3.50" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestRun_UpdateWithoutMatchIsSilent(t *testing.T) {
	h := newHarness(t)

	res, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"XYZ", "Ghost", "1"})}, productSpec(ActionUpdate))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Skipped != 1 {
		t.Fatalf("expected the row to be skipped, got %+v", res)
	}
	if len(h.audit.outcomes) != 0 {
		t.Fatalf("expected no outcomes, got %v", h.audit.outcomes)
	}
	if len(h.audit.restore["job-1"]) != 0 {
		t.Fatalf("expected empty restore log, got %v", h.audit.restore["job-1"])
	}
	if h.store.begins != 0 {
		t.Fatalf("skipped row must not open a transaction, got %d", h.store.begins)
	}
	if h.store.count("product") != 0 {
		t.Fatal("nothing should be persisted")
	}
}

func TestRun_CreateUpdateIsIdempotentOnMatchedKeys(t *testing.T) {
	h := newHarness(t)
	rows := []RawRow{
		RowFromSlice([]string{"A1", "Apple", "1"}),
		RowFromSlice([]string{"B2", "Banana", "2"}),
	}

	first, err := h.orch.Run(context.Background(), rows, productSpec(ActionCreateUpdate))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Created != 2 || first.Updated != 0 {
		t.Fatalf("first run counts: %+v", first)
	}

	spec := productSpec(ActionCreateUpdate)
	spec.JobID = "job-2"
	second, err := h.orch.Run(context.Background(), rows, spec)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Created != 0 || second.Updated != 2 {
		t.Fatalf("second run should only update, got %+v", second)
	}
	if got := h.store.count("product"); got != 2 {
		t.Fatalf("expected 2 products after re-import, got %d", got)
	}
	for _, e := range h.audit.restore["job-2"] {
		if e.Action != RestoreUpdated {
			t.Fatalf("second run restore entry should be updated, got %s", e.Action)
		}
	}
}

func TestRun_UpdateCapturesPreImage(t *testing.T) {
	h := newHarness(t)
	h.store.put("product", "p1", map[string]any{"sku": "A1", "name": "Old", "price": "1.00", "stock": int64(4)})
	before, _ := h.store.get("product", "p1")

	res, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "New", "2.00"})}, productSpec(ActionUpdate))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected one update, got %+v", res)
	}
	if len(h.audit.outcomes) != 1 || h.audit.outcomes[0].Kind != OutcomeUpdate || h.audit.outcomes[0].RecordID != "p1" {
		t.Fatalf("unexpected outcomes: %+v", h.audit.outcomes)
	}

	log := h.audit.restore["job-1"]
	if len(log) != 1 || log[0].Action != RestoreUpdated {
		t.Fatalf("expected one updated restore entry, got %+v", log)
	}
	pre := log[0].PreImage["p1"]
	if pre == nil {
		t.Fatal("missing pre-image for p1")
	}
	if _, ok := pre.Get("sku"); ok {
		t.Fatal("identity field must not be part of the pre-image")
	}
	for _, k := range pre.Keys() {
		v, _ := pre.Get(k)
		if v.Interface() != before[k] {
			t.Fatalf("pre-image %s = %v, want %v", k, v.Interface(), before[k])
		}
	}

	after, _ := h.store.get("product", "p1")
	if after["name"] != "New" || after["sku"] != "A1" || after["stock"] != int64(4) {
		t.Fatalf("unexpected record after update: %v", after)
	}
}

func TestRun_FailedRowRollsBackAndContinues(t *testing.T) {
	h := newHarness(t)
	h.store.failCreate = func(_ string, fields map[string]any) error {
		if fields["sku"] == "BAD" {
			return errors.New("sku BAD is rejected")
		}
		return nil
	}
	rows := []RawRow{
		RowFromSlice([]string{"BAD", "Broken", "1"}),
		RowFromSlice([]string{"OK", "Fine", "1"}),
	}

	res, err := h.orch.Run(context.Background(), rows, productSpec(ActionCreateUpdate))
	if err != nil {
		t.Fatalf("run must succeed despite row failures: %v", err)
	}
	if res.Failed != 1 || res.Created != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if h.store.count("product") != 1 {
		t.Fatalf("failed row left a partial record")
	}

	var errorsSeen int
	for _, o := range h.audit.outcomes {
		if o.Kind == OutcomeError {
			errorsSeen++
			if o.RowNumber != 1 || !strings.Contains(o.Message, "sku BAD is rejected") {
				t.Fatalf("unexpected error outcome: %+v", o)
			}
			if o.RecordID != "" {
				t.Fatal("error outcome must not carry a record id")
			}
		}
	}
	if errorsSeen != 1 {
		t.Fatalf("expected exactly one error outcome, got %d", errorsSeen)
	}
	if log := h.audit.restore["job-1"]; len(log) != 1 || log[0].Action != RestoreCreated {
		t.Fatalf("only the committed row belongs in the restore log: %+v", log)
	}
}

func TestRun_ConversionFailureIsRowScoped(t *testing.T) {
	h := newHarness(t)
	h.store.failQuery = errors.New("lookup unavailable")
	spec := productSpec(ActionCreate)
	spec.IdentityField = ""
	spec.Fields = append(spec.Fields, FieldMapping{Name: "category", Column: ColumnIndex(3), Field: "name"})

	res, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "Apple", "1", "Fruit"})}, spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected a failed row, got %+v", res)
	}
	if len(h.audit.outcomes) != 1 || !strings.Contains(h.audit.outcomes[0].Message, "lookup unavailable") {
		t.Fatalf("unexpected outcomes: %+v", h.audit.outcomes)
	}
}

func TestRun_RowNumbersStartAfterOffset(t *testing.T) {
	h := newHarness(t)
	spec := productSpec(ActionCreate)
	spec.Offset = 100

	_, err := h.orch.Run(context.Background(), []RawRow{
		RowFromSlice([]string{"A", "a", "1"}),
		RowFromSlice([]string{"B", "b", "1"}),
	}, spec)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.audit.outcomes[0].RowNumber != 101 || h.audit.outcomes[1].RowNumber != 102 {
		t.Fatalf("unexpected row numbers: %+v", h.audit.outcomes)
	}
}

func TestRun_ConfigErrorsAbortBeforeRows(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ImportJobSpec)
		catalog func(fakeCatalog)
	}{
		{name: "unknown action", mutate: func(s *ImportJobSpec) { s.Action = "merge" }},
		{name: "missing entity", mutate: func(s *ImportJobSpec) { s.Entity = "" }},
		{name: "missing job id", mutate: func(s *ImportJobSpec) { s.JobID = "" }},
		{name: "unmapped identity", mutate: func(s *ImportJobSpec) { s.IdentityField = "barcode" }},
		{name: "duplicate mapping", mutate: func(s *ImportJobSpec) { s.Fields = append(s.Fields, FieldMapping{Name: "sku"}) }},
		{name: "link without lookup field", mutate: func(s *ImportJobSpec) {
			s.Fields = append(s.Fields, FieldMapping{Name: "category", Column: ColumnIndex(3)})
		}},
		{
			name: "link without relation",
			mutate: func(s *ImportJobSpec) {
				s.Fields = append(s.Fields, FieldMapping{Name: "brand", Column: ColumnIndex(3), Field: "name"})
			},
			catalog: func(c fakeCatalog) { c.types["product"]["brand"] = "link" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, audit := newMemStore(), newMemAudit()
			cat := productCatalog()
			if tt.catalog != nil {
				tt.catalog(cat)
			}
			orch := NewOrchestrator(st, cat, NewConverterRegistry(cat), audit, nil, zerolog.New(io.Discard))
			spec := productSpec(ActionCreate)
			tt.mutate(&spec)

			_, err := orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A", "a", "1", "x"})}, spec)
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *ConfigError, got %T", err)
			}
			if st.begins != 0 || len(audit.outcomes) != 0 {
				t.Fatal("no row may be processed after a configuration error")
			}
		})
	}
}

func TestRun_MaxRowsGuard(t *testing.T) {
	h := newHarness(t)
	h.orch.MaxRows = 1
	rows := []RawRow{RowFromSlice([]string{"A"}), RowFromSlice([]string{"B"})}
	_, err := h.orch.Run(context.Background(), rows, productSpec(ActionCreate))
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRun_AuditFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.audit.failRecord = errors.New("disk full")

	_, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "Apple", "1"})}, productSpec(ActionCreate))
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected audit write error, got %v", err)
	}
	var auditErr *AuditError
	if !errors.As(err, &auditErr) || !strings.Contains(auditErr.Error(), "disk full") {
		t.Fatalf("expected *AuditError carrying the cause, got %v", err)
	}

	h = newHarness(t)
	h.audit.failSave = errors.New("restore table locked")
	_, err = h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "Apple", "1"})}, productSpec(ActionCreate))
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected audit write error from restore log, got %v", err)
	}
}

func TestRun_AuditFailureKeepsCommittedRowsRestorable(t *testing.T) {
	h := newHarness(t)
	h.audit.failRecord = errors.New("disk full")

	res, err := h.orch.Run(context.Background(), []RawRow{
		RowFromSlice([]string{"A1", "Apple", "1"}),
		RowFromSlice([]string{"B2", "Banana", "2"}),
	}, productSpec(ActionCreate))
	if !errors.Is(err, ErrAuditWrite) {
		t.Fatalf("expected audit write error, got %v", err)
	}
	if res == nil || res.Created != 1 || len(res.RestoreLog) != 1 {
		t.Fatalf("expected the committed row in the partial result, got %+v", res)
	}
	id := res.RestoreLog[0].CreatedID
	if _, ok := h.store.get("product", id); !ok {
		t.Fatal("committed record should remain")
	}
	saved := h.audit.restore["job-1"]
	if len(saved) != 1 || saved[0].Action != RestoreCreated || saved[0].CreatedID != id {
		t.Fatalf("restore log of committed rows not saved: %+v", saved)
	}

	// a failing restore log write does not mask the first error
	h = newHarness(t)
	h.audit.failRecord = errors.New("disk full")
	h.audit.failSave = errors.New("restore table locked")
	_, err = h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "Apple", "1"})}, productSpec(ActionCreate))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the outcome write error, got %v", err)
	}
}

func TestRun_IdentityLookupIsBatched(t *testing.T) {
	h := newHarness(t)
	h.store.put("product", "p1", map[string]any{"sku": "A1"})
	rows := []RawRow{
		RowFromSlice([]string{"A1", "x", "1"}),
		RowFromSlice([]string{"B2", "y", "1"}),
		RowFromSlice([]string{"A1", "z", "1"}),
	}
	_, err := h.orch.Run(context.Background(), rows, productSpec(ActionUpdate))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.store.queries) != 1 {
		t.Fatalf("expected a single identity query, got %d", len(h.store.queries))
	}
	q := h.store.queries[0]
	if q.Field != "sku" || len(q.Values) != 2 {
		t.Fatalf("unexpected identity query %+v", q)
	}
}

func TestRun_IdentityLookupFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.store.failQuery = errors.New("connection reset")
	_, err := h.orch.Run(context.Background(), []RawRow{RowFromSlice([]string{"A1", "x", "1"})}, productSpec(ActionUpdate))
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected identity lookup error, got %v", err)
	}
	if len(h.audit.outcomes) != 0 {
		t.Fatal("no outcomes expected")
	}
}

func TestRun_LinksAreResolvedAndSnapshotted(t *testing.T) {
	h := newHarness(t)
	h.store.put("category", "c-fruit", map[string]any{"name": "Fruit"})
	h.store.put("tag", "t-a", map[string]any{"code": "A"})
	h.store.put("tag", "t-c", map[string]any{"code": "C"})
	h.store.put("product", "p1", map[string]any{"sku": "A1", "categoryId": nil, "tagsIds": []string{"t-old"}})

	spec := ImportJobSpec{
		JobID: "job-links", Entity: "product", Action: ActionCreateUpdate, IdentityField: "sku",
		Fields: []FieldMapping{
			{Name: "sku", Column: ColumnName("sku")},
			{Name: "category", Column: ColumnName("category"), Field: "name"},
			{Name: "tags", Column: ColumnName("tags"), Field: "code"},
		},
	}
	row := RowFromMap(map[string]string{"sku": "A1", "category": "Fruit", "tags": "A,B,C"})

	if _, err := h.orch.Run(context.Background(), []RawRow{row}, spec); err != nil {
		t.Fatalf("run: %v", err)
	}

	after, _ := h.store.get("product", "p1")
	if after["categoryId"] != "c-fruit" {
		t.Fatalf("categoryId = %v", after["categoryId"])
	}
	tags, _ := after["tagsIds"].([]string)
	if len(tags) != 2 || tags[0] != "t-a" || tags[1] != "t-c" {
		t.Fatalf("tagsIds = %v", after["tagsIds"])
	}

	pre := h.audit.restore["job-links"][0].PreImage["p1"]
	cat, _ := pre.Get("categoryId")
	if !cat.IsNull() {
		t.Fatalf("expected null category in pre-image, got %v", cat)
	}
	oldTags, _ := pre.Get("tagsIds")
	if oldTags.Kind != KindList || len(oldTags.List) != 1 || oldTags.List[0] != "t-old" {
		t.Fatalf("unexpected tags pre-image %+v", oldTags)
	}
}
