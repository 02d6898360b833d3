package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rocket-import/internal/importer"
	"rocket-import/internal/store"
)

// Import job statuses.
const (
	JobPending  = "pending"
	JobRunning  = "running"
	JobDone     = "done"
	JobFailed   = "failed"
	JobRestored = "restored"
)

// Job is a row of _import_jobs.
type Job struct {
	ID            string                  `json:"id"`
	Entity        string                  `json:"entity"`
	Action        string                  `json:"action"`
	Status        string                  `json:"status"`
	Configuration json.RawMessage         `json:"configuration"`
	RestoreLog    []importer.RestoreEntry `json:"restore_log"`
	Created       int                     `json:"created"`
	Updated       int                     `json:"updated"`
	Failed        int                     `json:"failed"`
	Skipped       int                     `json:"skipped"`
	Error         string                  `json:"error,omitempty"`
	CreatedAt     any                     `json:"created_at"`
	UpdatedAt     any                     `json:"updated_at"`
}

// ImportStore keeps import jobs and their per-row outcome log. It
// implements importer.AuditStore.
type ImportStore struct {
	store *store.Store
}

func NewImportStore(s *store.Store) *ImportStore {
	return &ImportStore{store: s}
}

// CreateJob registers a pending job for spec.
func (s *ImportStore) CreateJob(ctx context.Context, spec importer.ImportJobSpec) error {
	cfg, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode job configuration: %w", err)
	}
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO _import_jobs (id, entity, action, status, configuration)
		VALUES (%s, %s, %s, %s, %s)`,
		pb.Add(spec.JobID), pb.Add(spec.Entity), pb.Add(string(spec.Action)), pb.Add(JobPending), pb.Add(string(cfg)))
	if _, err := store.Exec(ctx, s.store.DB, sqlStr, pb.Params()...); err != nil {
		err = store.MapError(s.store.Dialect, err)
		if errors.Is(err, store.ErrUniqueViolation) {
			return ConflictError(fmt.Sprintf("import job %s already exists", spec.JobID))
		}
		return fmt.Errorf("create import job: %w", err)
	}
	return nil
}

// MarkRunning moves a pending job to running.
func (s *ImportStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, JobRunning, JobPending)
}

// MarkRestored flags a finished job as undone. A job is restored at most once.
func (s *ImportStore) MarkRestored(ctx context.Context, jobID string) error {
	return s.transition(ctx, jobID, JobRestored, JobDone, JobFailed)
}

func (s *ImportStore) transition(ctx context.Context, jobID, to string, from ...string) error {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("UPDATE _import_jobs SET status = %s, updated_at = %s WHERE id = %s AND %s",
		pb.Add(to), s.store.Dialect.NowExpr(), pb.Add(jobID), s.store.Dialect.InExpr("status", pb, from))
	n, err := store.Exec(ctx, s.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("mark import job %s %s: %w", jobID, to, err)
	}
	if n == 0 {
		job, err := s.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		return ConflictError(fmt.Sprintf("import job %s is %s", jobID, job.Status))
	}
	return nil
}

// RecordOutcome appends one row outcome to the job log.
func (s *ImportStore) RecordOutcome(ctx context.Context, entry importer.OutcomeLogEntry) error {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`INSERT INTO _import_job_logs (id, job_id, entity, kind, row_number, record_id, message)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(uuid.NewString()), pb.Add(entry.JobID), pb.Add(entry.EntityType), pb.Add(string(entry.Kind)),
		pb.Add(entry.RowNumber), pb.Add(entry.RecordID), pb.Add(entry.Message))
	if _, err := store.Exec(ctx, s.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("record import outcome: %w", err)
	}
	return nil
}

// SaveRestoreLog stores the undo log together with the configuration it was produced with.
func (s *ImportStore) SaveRestoreLog(ctx context.Context, jobID string, entries []importer.RestoreEntry, spec importer.ImportJobSpec) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode restore log: %w", err)
	}
	cfg, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode job configuration: %w", err)
	}
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("UPDATE _import_jobs SET restore_data = %s, configuration = %s, updated_at = %s WHERE id = %s",
		pb.Add(string(data)), pb.Add(string(cfg)), s.store.Dialect.NowExpr(), pb.Add(jobID))
	n, err := store.Exec(ctx, s.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("save restore log: %w", err)
	}
	if n == 0 {
		return NotFoundError("import job", jobID)
	}
	return nil
}

// FinishJob stores the summary counts and the final status. A nil result
// with an error marks the job failed.
func (s *ImportStore) FinishJob(ctx context.Context, jobID string, res *importer.Result, runErr error) error {
	status := JobDone
	msg := ""
	if runErr != nil {
		status = JobFailed
		msg = runErr.Error()
	}
	if res == nil {
		res = &importer.Result{}
	}
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`UPDATE _import_jobs SET status = %s, created_count = %s, updated_count = %s,
		error_count = %s, skipped_count = %s, error = %s, updated_at = %s WHERE id = %s`,
		pb.Add(status), pb.Add(res.Created), pb.Add(res.Updated), pb.Add(res.Failed), pb.Add(res.Skipped),
		pb.Add(msg), s.store.Dialect.NowExpr(), pb.Add(jobID))
	if _, err := store.Exec(ctx, s.store.DB, sqlStr, pb.Params()...); err != nil {
		return fmt.Errorf("finish import job: %w", err)
	}
	return nil
}

// GetJob loads a job with its restore log.
func (s *ImportStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`SELECT id, entity, action, status, CAST(configuration AS TEXT) AS configuration,
		CAST(restore_data AS TEXT) AS restore_data, created_count, updated_count, error_count, skipped_count,
		error, created_at, updated_at FROM _import_jobs WHERE id = %s`, pb.Add(jobID))
	row, err := store.QueryRow(ctx, s.store.DB, sqlStr, pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFoundError("import job", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get import job: %w", err)
	}

	job := &Job{
		ID:            fmt.Sprint(row["id"]),
		Entity:        fmt.Sprint(row["entity"]),
		Action:        fmt.Sprint(row["action"]),
		Status:        fmt.Sprint(row["status"]),
		Configuration: json.RawMessage(textOf(row["configuration"], "{}")),
		Created:       intOf(row["created_count"]),
		Updated:       intOf(row["updated_count"]),
		Failed:        intOf(row["error_count"]),
		Skipped:       intOf(row["skipped_count"]),
		Error:         textOf(row["error"], ""),
		CreatedAt:     row["created_at"],
		UpdatedAt:     row["updated_at"],
	}
	job.RestoreLog, err = importer.ParseRestoreLog([]byte(textOf(row["restore_data"], "[]")))
	if err != nil {
		return nil, fmt.Errorf("import job %s: %w", jobID, err)
	}
	return job, nil
}

// Spec decodes the configuration the job was run with.
func (j *Job) Spec() (importer.ImportJobSpec, error) {
	var spec importer.ImportJobSpec
	if err := json.Unmarshal(j.Configuration, &spec); err != nil {
		return spec, fmt.Errorf("decode job configuration: %w", err)
	}
	return spec, nil
}

// ListLogs returns the outcome log of a job in row order.
func (s *ImportStore) ListLogs(ctx context.Context, jobID string) ([]importer.OutcomeLogEntry, error) {
	pb := s.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(`SELECT job_id, entity, kind, row_number, record_id, message
		FROM _import_job_logs WHERE job_id = %s ORDER BY row_number, created_at`, pb.Add(jobID))
	rows, err := store.QueryRows(ctx, s.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("list import logs: %w", err)
	}
	out := make([]importer.OutcomeLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, importer.OutcomeLogEntry{
			JobID:      fmt.Sprint(r["job_id"]),
			EntityType: fmt.Sprint(r["entity"]),
			Kind:       importer.OutcomeKind(fmt.Sprint(r["kind"])),
			RowNumber:  intOf(r["row_number"]),
			RecordID:   textOf(r["record_id"], ""),
			Message:    textOf(r["message"], ""),
		})
	}
	return out, nil
}

func textOf(v any, fallback string) string {
	switch s := v.(type) {
	case nil:
		return fallback
	case string:
		return s
	case time.Time:
		// text that happens to look like a timestamp
		return s.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprint(v)
	}
}

func intOf(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
