package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/modelforge/scoregate/internal/api/response"
	"github.com/modelforge/scoregate/internal/limiter"
	"github.com/modelforge/scoregate/internal/store"
	"github.com/modelforge/scoregate/pkg/models"
)

// Scorer is the interface the handlers depend on.
type Scorer interface {
	Submit(ctx context.Context, jobID, submissionType, content string) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
}

// NewSubmitHandler returns the http.HandlerFunc for POST /api/v1/score.
// The response is always an immediate accept or reject; the run's outcome
// reaches the caller through the watcher, never through this endpoint.
func NewSubmitHandler(svc Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID          string `json:"job_id"`
			SubmissionType string `json:"submission_type"`
			Content        string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.JobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job_id is required", nil)
			return
		}
		if req.SubmissionType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "submission_type is required", nil)
			return
		}
		if !models.ValidSubmissionType(req.SubmissionType) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"submission_type must be one of link, text, file", nil)
			return
		}
		if req.Content == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "content is required", nil)
			return
		}

		job, err := svc.Submit(r.Context(), req.JobID, req.SubmissionType, req.Content)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrDuplicateJob):
				response.Error(w, http.StatusConflict, "DUPLICATE_JOB",
					"A job with this id already exists", nil)
			case errors.Is(err, limiter.ErrBusy):
				response.Error(w, http.StatusConflict, "BUSY",
					"All execution slots are busy, retry later", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, map[string]string{
			"status": "started",
			"job_id": job.ID,
		})
	}
}

// NewGetJobHandler returns the http.HandlerFunc for GET /api/v1/score/{jobID}.
func NewGetJobHandler(svc Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		job, err := svc.Get(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "No such job", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewHealthHandler returns the liveness endpoint. Always 200, no matter
// what auth is configured or what runs are in flight.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, map[string]string{"status": "ok"})
	}
}
