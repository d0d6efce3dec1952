package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelforge/scoregate/pkg/models"
)

// Archive is an optional write-through history of terminal jobs backed by
// Postgres. The in-memory store stays authoritative; the archive exists so
// operators keep an audit trail across restarts. Archive writes never gate
// a job's own completion.
type Archive struct {
	pool *pgxpool.Pool
}

// NewArchive creates an Archive on top of an existing pool.
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{pool: pool}
}

// Ping checks database connectivity.
func (a *Archive) Ping(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

// InsertTerminal records a job that reached a terminal state. Re-archiving
// the same id overwrites the previous row; ids are only reused after a
// process restart, when the in-memory registry has been lost anyway.
func (a *Archive) InsertTerminal(ctx context.Context, job *models.Job) error {
	if !models.TerminalStatus(job.Status) {
		return fmt.Errorf("archive of non-terminal job %s (%s)", job.ID, job.Status)
	}

	var score *float64
	var metrics []byte
	if job.Result != nil {
		score = &job.Result.Score
		if len(job.Result.Metrics) > 0 {
			b, err := json.Marshal(job.Result.Metrics)
			if err != nil {
				return fmt.Errorf("marshal metrics: %w", err)
			}
			metrics = b
		}
	}
	var errCode, errDetail *string
	if job.Error != nil {
		errCode = &job.Error.Code
		errDetail = &job.Error.Detail
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO job_archive
		   (id, submission_type, content, status, score, metrics, error_code, error_detail,
		    created_at, started_at, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   submission_type = EXCLUDED.submission_type,
		   content = EXCLUDED.content,
		   status = EXCLUDED.status,
		   score = EXCLUDED.score,
		   metrics = EXCLUDED.metrics,
		   error_code = EXCLUDED.error_code,
		   error_detail = EXCLUDED.error_detail,
		   created_at = EXCLUDED.created_at,
		   started_at = EXCLUDED.started_at,
		   ended_at = EXCLUDED.ended_at,
		   archived_at = NOW()`,
		job.ID, job.SubmissionType, job.Content, job.Status, score, metrics,
		errCode, errDetail, job.CreatedAt, job.StartedAt, job.EndedAt)
	if err != nil {
		return fmt.Errorf("insert job archive row: %w", err)
	}
	return nil
}

// ListRecent returns the most recently ended archived jobs.
func (a *Archive) ListRecent(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.pool.Query(ctx,
		`SELECT id, submission_type, content, status, score, metrics, error_code, error_detail,
		        created_at, started_at, ended_at
		 FROM job_archive ORDER BY ended_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list job archive: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanArchivedJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetArchived looks up one archived job by id.
func (a *Archive) GetArchived(ctx context.Context, jobID string) (*models.Job, error) {
	rows, err := a.pool.Query(ctx,
		`SELECT id, submission_type, content, status, score, metrics, error_code, error_detail,
		        created_at, started_at, ended_at
		 FROM job_archive WHERE id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("get archived job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get archived job: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanArchivedJob(rows)
}

func scanArchivedJob(rows pgx.Rows) (*models.Job, error) {
	var (
		job                models.Job
		score              *float64
		metrics            []byte
		errCode, errDetail *string
	)
	if err := rows.Scan(&job.ID, &job.SubmissionType, &job.Content, &job.Status,
		&score, &metrics, &errCode, &errDetail,
		&job.CreatedAt, &job.StartedAt, &job.EndedAt); err != nil {
		return nil, fmt.Errorf("scan archived job: %w", err)
	}
	if score != nil {
		job.Result = &models.Result{Score: *score}
		if len(metrics) > 0 {
			if err := json.Unmarshal(metrics, &job.Result.Metrics); err != nil {
				return nil, fmt.Errorf("unmarshal metrics: %w", err)
			}
		}
	}
	if errCode != nil {
		job.Error = &models.JobError{Code: *errCode}
		if errDetail != nil {
			job.Error.Detail = *errDetail
		}
	}
	return &job, nil
}
