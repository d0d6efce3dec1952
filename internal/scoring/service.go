// Package scoring orchestrates the life of a job: registry record, permit,
// evaluator run, result extraction, and lifecycle reporting.
package scoring

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/modelforge/scoregate/internal/artifacts"
	"github.com/modelforge/scoregate/internal/cache"
	"github.com/modelforge/scoregate/internal/config"
	"github.com/modelforge/scoregate/internal/limiter"
	"github.com/modelforge/scoregate/internal/runner"
	"github.com/modelforge/scoregate/internal/store"
	"github.com/modelforge/scoregate/internal/watcher"
	"github.com/modelforge/scoregate/pkg/models"
)

// Error taxonomy codes recorded on failed and timed-out jobs and carried in
// watcher payloads.
const (
	CodeTimeout         = "TIMEOUT"
	CodeNonZeroExit     = "EVALUATOR_NONZERO_EXIT"
	CodeMissingResult   = "MISSING_RESULT"
	CodeExecutionFailed = "EXECUTION_FAILED"
)

const statusMirrorTTL = 24 * time.Hour

// Executor runs one evaluator invocation. Satisfied by runner.Runner.
type Executor interface {
	Run(ctx context.Context, spec runner.Spec, progress func(string)) (*models.Result, error)
}

// Service accepts scoring submissions and supervises their runs. Each
// admitted job executes on its own goroutine; the limiter bounds how many
// evaluator subprocesses exist at once.
type Service struct {
	cfg      config.ScoringConfig
	store    store.Store
	limiter  *limiter.Limiter
	exec     Executor
	notifier watcher.Notifier

	// Optional collaborators; nil when not configured.
	cache    cache.Cache
	archive  *store.Archive
	uploader *artifacts.Uploader

	wg sync.WaitGroup
}

// Option wires an optional collaborator into the Service.
type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithArchive(a *store.Archive) Option {
	return func(s *Service) { s.archive = a }
}

func WithUploader(u *artifacts.Uploader) Option {
	return func(s *Service) { s.uploader = u }
}

// NewService creates the orchestrator.
func NewService(cfg config.ScoringConfig, st store.Store, lim *limiter.Limiter,
	exec Executor, notifier watcher.Notifier, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    st,
		limiter:  lim,
		exec:     exec,
		notifier: notifier,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit registers a job and, if a slot is free, kicks off its run on a
// fresh goroutine. It returns as soon as the job is admitted; outcome
// detail travels via the watcher, never through this call.
//
// The record is created before admission, matching the job's externally
// visible flow; when the limiter refuses, the still-received record is
// rolled back so the id is free to resubmit.
func (s *Service) Submit(ctx context.Context, jobID, submissionType, content string) (*models.Job, error) {
	job, err := s.store.Create(ctx, jobID, submissionType, content)
	if err != nil {
		return nil, err
	}

	permit, err := s.limiter.TryAcquire()
	if err != nil {
		if delErr := s.store.Delete(ctx, jobID); delErr != nil {
			slog.Error("rollback of unadmitted job failed", "job_id", jobID, "error", delErr)
		}
		return nil, err
	}

	s.wg.Add(1)
	go s.run(job, permit)
	return job, nil
}

// Get returns the current snapshot of a job record.
func (s *Service) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.Get(ctx, jobID)
}

// Wait blocks until every in-flight run has finished. Used on shutdown,
// after the HTTP listener has stopped accepting submissions.
func (s *Service) Wait() {
	s.wg.Wait()
}

// run supervises one evaluator execution. The permit is released on every
// exit path; a leak here would permanently shrink the pool.
func (s *Service) run(job *models.Job, permit *limiter.Permit) {
	defer s.wg.Done()
	defer permit.Release()

	// The run outlives the HTTP request that admitted it; the only
	// cancellation trigger is the runner's own timeout.
	ctx := context.Background()
	log := slog.With("job_id", job.ID)

	if _, err := s.store.Transition(ctx, job.ID, models.JobStatusRunning, store.Payload{}); err != nil {
		log.Error("job cannot enter running state", "error", err)
		return
	}
	s.mirrorStatus(ctx, job.ID, models.JobStatusRunning)
	s.notifier.Notify(job.ID, models.EventStarted, nil)
	log.Info("scoring run started", "submission_type", job.SubmissionType)

	spec := runner.FromConfig(s.cfg, job)
	result, runErr := s.exec.Run(ctx, spec, func(msg string) {
		s.notifier.Notify(job.ID, models.EventProgress, map[string]string{"message": msg})
	})

	if runErr == nil {
		s.finishCompleted(ctx, log, job, spec, result)
		return
	}
	s.finishFailed(ctx, log, job, runErr)
}

func (s *Service) finishCompleted(ctx context.Context, log *slog.Logger, job *models.Job,
	spec runner.Spec, result *models.Result) {
	final, err := s.store.Transition(ctx, job.ID, models.JobStatusCompleted,
		store.Payload{Result: result})
	if err != nil {
		log.Error("completed transition rejected", "error", err)
		return
	}

	if s.uploader != nil {
		if uri, err := s.uploader.UploadResult(ctx, job.ID, spec.ResultPath); err != nil {
			log.Error("artifact upload failed", "error", err)
		} else {
			log.Info("artifact archived", "uri", uri)
		}
	}

	s.mirrorStatus(ctx, job.ID, models.JobStatusCompleted)
	s.notifier.Notify(job.ID, models.EventCompleted, result)
	s.archiveTerminal(final)
	log.Info("scoring run completed", "score", result.Score)
}

func (s *Service) finishFailed(ctx context.Context, log *slog.Logger, job *models.Job, runErr error) {
	status := models.JobStatusFailed
	eventKind := models.EventFailed
	jobErr := &models.JobError{Code: CodeExecutionFailed, Detail: runErr.Error()}

	switch {
	case errors.Is(runErr, runner.ErrTimeout):
		status = models.JobStatusTimedOut
		eventKind = models.EventTimedOut
		jobErr.Code = CodeTimeout
	case errors.Is(runErr, runner.ErrMissingResult):
		jobErr.Code = CodeMissingResult
	case errors.Is(runErr, runner.ErrEvaluatorFailed):
		jobErr.Code = CodeNonZeroExit
	}

	final, err := s.store.Transition(ctx, job.ID, status, store.Payload{Error: jobErr})
	if err != nil {
		log.Error("terminal transition rejected", "status", status, "error", err)
		return
	}

	s.mirrorStatus(ctx, job.ID, status)
	s.notifier.Notify(job.ID, eventKind, jobErr)
	s.archiveTerminal(final)
	log.Warn("scoring run ended without a score", "status", status, "code", jobErr.Code)
}

// mirrorStatus keeps the optional Redis mirror in step with the registry.
func (s *Service) mirrorStatus(ctx context.Context, jobID, status string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobStatus(ctx, jobID, status, statusMirrorTTL); err != nil {
		slog.Warn("job status mirror write failed", "job_id", jobID, "error", err)
	}
}

// archiveTerminal writes the terminal record to the optional Postgres
// archive. Failures are logged; the in-memory record stands regardless.
func (s *Service) archiveTerminal(job *models.Job) {
	if s.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.archive.InsertTerminal(ctx, job); err != nil {
		slog.Error("job archive write failed", "job_id", job.ID, "error", err)
	}
}
