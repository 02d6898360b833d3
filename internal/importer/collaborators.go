package importer

import (
	"context"

	"github.com/google/uuid"
)

// Record is a persisted record. Relationship fields are exposed under
// "<link>Id" (single) and "<link>Ids" (multiple, []string).
type Record struct {
	ID     string
	Fields map[string]any
}

// Filter matches records whose Field equals any of Values.
type Filter struct {
	Field  string
	Values []string
}

// Reader looks records up. Fetch returns an error wrapping ErrNotFound for
// missing records.
type Reader interface {
	Fetch(ctx context.Context, entityType, id string) (Record, error)
	Query(ctx context.Context, entityType string, selectFields []string, filter Filter) ([]Record, error)
}

// Session is one scoped transaction. Rollback after Commit is a no-op.
type Session interface {
	Reader
	Create(ctx context.Context, entityType string, rec *NormalizedRecord) (Record, error)
	Update(ctx context.Context, entityType, id string, rec *NormalizedRecord) (Record, error)
	Delete(ctx context.Context, entityType, id string) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Persistence is the service layer the orchestrator writes through.
type Persistence interface {
	Reader
	Begin(ctx context.Context) (Session, error)
}

// Catalog describes entity field types and relations.
type Catalog interface {
	FieldType(entityType, fieldName string) string
	RelationTarget(entityType, linkName string) string
	ConverterFor(entityType, fieldType string) string
	IdentifierField(entityType string) string
}

// AuditStore persists the job's audit trail.
type AuditStore interface {
	RecordOutcome(ctx context.Context, entry OutcomeLogEntry) error
	SaveRestoreLog(ctx context.Context, jobID string, entries []RestoreEntry, spec ImportJobSpec) error
}

type IDGenerator interface {
	NewID() string
}

// UUIDGenerator issues random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }
