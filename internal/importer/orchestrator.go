// Package importer reconciles tabular rows with persisted records: it
// decides create or update per row, converts cells through pluggable
// strategies, applies each row in its own transaction, and keeps an undo
// log of everything it committed.
package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Result summarizes one Run. RestoreLog holds the entries of committed rows
// in commit order.
type Result struct {
	JobID      string         `json:"job_id"`
	Created    int            `json:"created"`
	Updated    int            `json:"updated"`
	Failed     int            `json:"failed"`
	Skipped    int            `json:"skipped"`
	RestoreLog []RestoreEntry `json:"-"`
}

// Orchestrator runs import jobs. It holds no per-job state and may be
// reused, but one Run uses its persistence strictly one row at a time.
type Orchestrator struct {
	persistence Persistence
	catalog     Catalog
	converters  *ConverterRegistry
	ids         IDGenerator
	outcomes    *OutcomeLogger
	logger      zerolog.Logger

	identity    IdentityResolver
	transformer RowTransformer
	snapshotter RestoreSnapshotter

	// MaxRows rejects larger batches before any row runs. Zero disables the guard.
	MaxRows int
}

func NewOrchestrator(p Persistence, catalog Catalog, converters *ConverterRegistry, audit AuditStore, ids IDGenerator, logger zerolog.Logger) *Orchestrator {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	logger = logger.With().Str("component", "importer").Logger()
	return &Orchestrator{
		persistence: p,
		catalog:     catalog,
		converters:  converters,
		ids:         ids,
		outcomes:    NewOutcomeLogger(audit, logger),
		logger:      logger,
		identity:    IdentityResolver{Catalog: catalog},
		transformer: RowTransformer{Converters: converters, Catalog: catalog, IDs: ids},
		snapshotter: RestoreSnapshotter{Converters: converters},
	}
}

// rowOutcome is what persisting one row produced.
type rowOutcome struct {
	id       string
	updated  bool
	preImage *NormalizedRecord
	err      error
}

// Run imports rows according to spec. Row failures are recorded in the
// outcome log and do not fail the run; a non-nil error means a
// configuration problem (*ConfigError, before any row, with a nil Result)
// or an audit write failure (*AuditError). On an audit failure the Result
// holds the counts and restore log of the rows committed before it.
func (o *Orchestrator) Run(ctx context.Context, rows []RawRow, spec ImportJobSpec) (*Result, error) {
	if err := o.precheck(rows, spec); err != nil {
		return nil, err
	}
	log := o.logger.With().Str("job_id", spec.JobID).Str("entity", spec.Entity).Logger()
	log.Info().Int("rows", len(rows)).Str("action", string(spec.Action)).Msg("import started")

	idMapping, hasIdentity := spec.IdentityMapping()
	existing := map[string]string{}
	if spec.Action != ActionCreate && hasIdentity {
		keys := make([]string, 0, len(rows))
		for _, row := range rows {
			if k, ok := cell(row, idMapping); ok {
				keys = append(keys, k)
			}
		}
		var err error
		existing, err = o.identity.ResolveExisting(ctx, o.persistence, spec.Entity, spec.IdentityField, keys)
		if err != nil {
			return nil, fmt.Errorf("resolve existing records: %w", err)
		}
	}

	res := &Result{JobID: spec.JobID, RestoreLog: []RestoreEntry{}}
	for i, row := range rows {
		rowNumber := spec.Offset + i + 1

		id := ""
		if spec.Action != ActionCreate {
			key, _ := cell(row, idMapping)
			found, ok := existing[key]
			if !ok && spec.Action == ActionUpdate {
				res.Skipped++
				log.Debug().Int("row", rowNumber).Str("key", key).Msg("no matching record, row skipped")
				continue
			}
			if ok {
				id = found
			}
		}

		out := o.processRow(ctx, row, spec, id)
		if out.err != nil {
			res.Failed++
			log.Warn().Int("row", rowNumber).Err(out.err).Msg("row failed")
			if err := o.outcomes.Record(ctx, spec.Entity, spec.JobID, OutcomeError, rowNumber, out.err.Error()); err != nil {
				return o.abort(ctx, spec, res, err)
			}
			continue
		}

		kind := OutcomeCreate
		if out.updated {
			kind = OutcomeUpdate
			res.Updated++
			res.RestoreLog = append(res.RestoreLog, Updated(spec.Entity, out.id, out.preImage))
		} else {
			res.Created++
			res.RestoreLog = append(res.RestoreLog, Created(spec.Entity, out.id))
		}
		if err := o.outcomes.Record(ctx, spec.Entity, spec.JobID, kind, rowNumber, out.id); err != nil {
			return o.abort(ctx, spec, res, err)
		}
	}

	if err := o.outcomes.SaveRestoreLog(ctx, spec, res.RestoreLog); err != nil {
		return res, err
	}

	log.Info().
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("failed", res.Failed).
		Int("skipped", res.Skipped).
		Msg("import finished")
	return res, nil
}

// abort stops the batch on an audit failure. Rows committed so far stay
// committed, so their restore log is still saved when possible; err wins
// over a second failure.
func (o *Orchestrator) abort(ctx context.Context, spec ImportJobSpec, res *Result, err error) (*Result, error) {
	if saveErr := o.outcomes.SaveRestoreLog(ctx, spec, res.RestoreLog); saveErr != nil {
		o.logger.Error().Err(saveErr).Str("job_id", spec.JobID).Msg("restore log lost after audit failure")
	}
	return res, err
}

// precheck validates the spec, the batch size, and every mapping's converter.
func (o *Orchestrator) precheck(rows []RawRow, spec ImportJobSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if o.MaxRows > 0 && len(rows) > o.MaxRows {
		return &ConfigError{Field: "rows", Message: fmt.Sprintf("batch of %d rows exceeds the limit of %d", len(rows), o.MaxRows)}
	}
	in := Input{EntityType: spec.Entity, Delimiter: spec.MultiDelimiter(), IDs: o.ids, Catalog: o.catalog}
	for _, m := range spec.Fields {
		if err := o.converters.Resolve(spec.Entity, m).Check(in, m); err != nil {
			var cfgErr *ConfigError
			if errors.As(err, &cfgErr) {
				return err
			}
			return &ConfigError{Field: m.Name, Message: err.Error()}
		}
	}
	return nil
}

// processRow applies one row in its own transaction. The transaction is
// rolled back on every path that does not commit.
func (o *Orchestrator) processRow(ctx context.Context, row RawRow, spec ImportJobSpec, id string) rowOutcome {
	updating := id != ""

	var current Record
	if updating {
		var err error
		current, err = o.persistence.Fetch(ctx, spec.Entity, id)
		if err != nil {
			return rowOutcome{err: &PersistenceError{Op: "fetch " + id, Err: err}}
		}
	}

	sess, err := o.persistence.Begin(ctx)
	if err != nil {
		return rowOutcome{err: &PersistenceError{Op: "begin transaction", Err: err}}
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			o.logger.Error().Err(rbErr).Str("job_id", spec.JobID).Msg("rollback failed")
		}
	}()

	rec, err := o.transformer.Transform(ctx, sess, row, spec, updating)
	if err != nil {
		return rowOutcome{err: err}
	}

	var pre *NormalizedRecord
	var saved Record
	if updating {
		pre = o.snapshotter.Snapshot(current, spec)
		saved, err = sess.Update(ctx, spec.Entity, id, rec)
		if err != nil {
			return rowOutcome{err: &PersistenceError{Op: "update " + id, Err: err}}
		}
	} else {
		saved, err = sess.Create(ctx, spec.Entity, rec)
		if err != nil {
			return rowOutcome{err: &PersistenceError{Op: "create", Err: err}}
		}
	}

	if err := sess.Commit(ctx); err != nil {
		return rowOutcome{err: &PersistenceError{Op: "commit", Err: err}}
	}
	committed = true

	if saved.ID == "" {
		saved.ID = id
	}
	return rowOutcome{id: saved.ID, updated: updating, preImage: pre}
}
