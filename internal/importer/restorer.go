package importer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// RestoreFailure describes an undo step that could not be applied.
type RestoreFailure struct {
	Index      int           `json:"index"`
	Action     RestoreAction `json:"action"`
	EntityType string        `json:"entity_type"`
	RecordID   string        `json:"record_id"`
	Message    string        `json:"message"`
}

type RestoreReport struct {
	Reverted int              `json:"reverted"`
	Failures []RestoreFailure `json:"failures,omitempty"`
}

// Restorer replays a restore log backwards: created records are deleted,
// updated records get their pre-image written back.
type Restorer struct {
	persistence Persistence
	logger      zerolog.Logger
}

func NewRestorer(p Persistence, logger zerolog.Logger) *Restorer {
	return &Restorer{persistence: p, logger: logger.With().Str("component", "restorer").Logger()}
}

// Revert undoes entries newest first, each step in its own transaction.
// A failed step is reported and the walk continues.
func (r *Restorer) Revert(ctx context.Context, entries []RestoreEntry) *RestoreReport {
	report := &RestoreReport{}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		switch e.Action {
		case RestoreCreated:
			if err := r.apply(ctx, func(s Session) error { return s.Delete(ctx, e.EntityType, e.CreatedID) }); err != nil {
				report.fail(i, e, e.CreatedID, err)
				continue
			}
			report.Reverted++
		case RestoreUpdated:
			for _, id := range e.PreImageIDs() {
				pre := e.PreImage[id]
				err := r.apply(ctx, func(s Session) error {
					_, err := s.Update(ctx, e.EntityType, id, pre)
					return err
				})
				if err != nil {
					report.fail(i, e, id, err)
					continue
				}
				report.Reverted++
			}
		default:
			report.fail(i, e, "", fmt.Errorf("unknown restore action %q", e.Action))
		}
	}
	if len(report.Failures) > 0 {
		r.logger.Warn().Int("reverted", report.Reverted).Int("failed", len(report.Failures)).Msg("restore finished with failures")
	} else {
		r.logger.Info().Int("reverted", report.Reverted).Msg("restore finished")
	}
	return report
}

func (r *Restorer) apply(ctx context.Context, fn func(Session) error) error {
	sess, err := r.persistence.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(sess); err != nil {
		if rbErr := sess.Rollback(ctx); rbErr != nil {
			r.logger.Error().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	return sess.Commit(ctx)
}

func (rep *RestoreReport) fail(i int, e RestoreEntry, id string, err error) {
	rep.Failures = append(rep.Failures, RestoreFailure{
		Index:      i,
		Action:     e.Action,
		EntityType: e.EntityType,
		RecordID:   id,
		Message:    err.Error(),
	})
}
