package importer

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration matches every *ConfigError.
	ErrConfiguration = errors.New("import configuration error")
	// ErrAuditWrite matches every *AuditError.
	ErrAuditWrite = errors.New("import audit write failed")
	// ErrNotFound is returned (wrapped) by Reader.Fetch for missing records.
	ErrNotFound = errors.New("record not found")
)

// ConfigError aborts a job before any row is processed.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid import configuration: %s: %s", e.Field, e.Message)
	}
	return "invalid import configuration: " + e.Message
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfiguration }

// ConversionError is raised by a converter and fails the current row.
type ConversionError struct {
	Field string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", e.Field, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// PersistenceError wraps a failed lookup, write or transaction step; it fails the current row.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// AuditError means the outcome or restore log could not be written. It is fatal for the job.
type AuditError struct {
	Op  string
	Err error
}

func (e *AuditError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

func (e *AuditError) Unwrap() error { return e.Err }

func (e *AuditError) Is(target error) bool { return target == ErrAuditWrite }
