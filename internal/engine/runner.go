package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"rocket-import/internal/config"
	"rocket-import/internal/importer"
	"rocket-import/internal/metadata"
	"rocket-import/internal/store"
)

// ImportRunner owns the job lifecycle around the orchestrator: the job row
// is created before the first row runs and finished with the summary counts.
type ImportRunner struct {
	jobs         *ImportStore
	orchestrator *importer.Orchestrator
	restorer     *importer.Restorer
	converters   *importer.ConverterRegistry
	defaults     config.ImportConfig
	logger       zerolog.Logger
}

func NewImportRunner(s *store.Store, reg *metadata.Registry, cfg config.ImportConfig, logger zerolog.Logger) *ImportRunner {
	svc := NewService(s, reg)
	jobs := NewImportStore(s)
	converters := importer.NewConverterRegistry(reg)
	orch := importer.NewOrchestrator(svc, reg, converters, jobs, importer.UUIDGenerator{}, logger)
	orch.MaxRows = cfg.MaxRows
	return &ImportRunner{
		jobs:         jobs,
		orchestrator: orch,
		restorer:     importer.NewRestorer(svc, logger),
		converters:   converters,
		defaults:     cfg,
		logger:       logger.With().Str("component", "import_runner").Logger(),
	}
}

// Converters exposes the registry so callers can add strategies before the first run.
func (r *ImportRunner) Converters() *importer.ConverterRegistry { return r.converters }

// Jobs returns the job store.
func (r *ImportRunner) Jobs() *ImportStore { return r.jobs }

// Run fills spec defaults, records the job and runs it. The job is marked
// failed when the run returns an error; the partial result of an aborted
// run is returned with the error and its counts are stored on the job.
func (r *ImportRunner) Run(ctx context.Context, rows []importer.RawRow, spec importer.ImportJobSpec) (*importer.Result, error) {
	if spec.JobID == "" {
		spec.JobID = uuid.NewString()
	}
	if spec.Delimiter == "" {
		spec.Delimiter = r.defaults.Delimiter
	}
	if spec.Action == "" {
		spec.Action = importer.Action(r.defaults.Mode)
	}

	if err := r.jobs.CreateJob(ctx, spec); err != nil {
		return nil, err
	}
	if err := r.jobs.MarkRunning(ctx, spec.JobID); err != nil {
		return nil, err
	}

	res, runErr := r.orchestrator.Run(ctx, rows, spec)
	if err := r.jobs.FinishJob(ctx, spec.JobID, res, runErr); err != nil {
		r.logger.Error().Err(err).Str("job_id", spec.JobID).Msg("could not store job summary")
		if runErr == nil {
			return res, err
		}
	}
	if runErr != nil {
		return res, fmt.Errorf("import job %s: %w", spec.JobID, runErr)
	}
	return res, nil
}

// Restore undoes a finished job from its restore log.
func (r *ImportRunner) Restore(ctx context.Context, jobID string) (*importer.RestoreReport, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// claimed before the replay; a second restore gets a conflict
	if err := r.jobs.MarkRestored(ctx, jobID); err != nil {
		return nil, err
	}

	report := r.restorer.Revert(ctx, job.RestoreLog)
	r.logger.Info().Str("job_id", jobID).Int("reverted", report.Reverted).Int("failed", len(report.Failures)).Msg("job restored")
	return report, nil
}

// JobDetail is a job with its outcome log.
type JobDetail struct {
	*Job
	Logs []importer.OutcomeLogEntry `json:"logs"`
}

func (r *ImportRunner) Describe(ctx context.Context, jobID string) (*JobDetail, error) {
	job, err := r.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	logs, err := r.jobs.ListLogs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobDetail{Job: job, Logs: logs}, nil
}
