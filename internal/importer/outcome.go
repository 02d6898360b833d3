package importer

import (
	"context"

	"github.com/rs/zerolog"
)

// OutcomeLogger appends per-row outcomes and the job's restore log to the
// audit store. Failures are returned as *AuditError and never retried.
type OutcomeLogger struct {
	store  AuditStore
	logger zerolog.Logger
}

func NewOutcomeLogger(store AuditStore, logger zerolog.Logger) *OutcomeLogger {
	return &OutcomeLogger{store: store, logger: logger.With().Str("component", "outcome_logger").Logger()}
}

// Record stores one row outcome. payload is the record id, or the error text for OutcomeError.
func (l *OutcomeLogger) Record(ctx context.Context, entityType, jobID string, kind OutcomeKind, rowNumber int, payload string) error {
	entry := OutcomeLogEntry{
		EntityType: entityType,
		JobID:      jobID,
		Kind:       kind,
		RowNumber:  rowNumber,
	}
	if kind == OutcomeError {
		entry.Message = payload
	} else {
		entry.RecordID = payload
	}
	if err := l.store.RecordOutcome(ctx, entry); err != nil {
		l.logger.Error().Err(err).Str("job_id", jobID).Int("row", rowNumber).Msg("outcome write failed")
		return &AuditError{Op: "record outcome", Err: err}
	}
	return nil
}

// SaveRestoreLog stores the job's undo log with its configuration snapshot.
func (l *OutcomeLogger) SaveRestoreLog(ctx context.Context, spec ImportJobSpec, entries []RestoreEntry) error {
	if entries == nil {
		entries = []RestoreEntry{}
	}
	if err := l.store.SaveRestoreLog(ctx, spec.JobID, entries, spec); err != nil {
		l.logger.Error().Err(err).Str("job_id", spec.JobID).Msg("restore log write failed")
		return &AuditError{Op: "save restore log", Err: err}
	}
	return nil
}
