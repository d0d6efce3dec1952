package store

import (
	"context"
	"errors"

	"github.com/modelforge/scoregate/pkg/models"
)

var (
	// ErrNotFound is returned when no job exists under the given id.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when a job id is already taken.
	ErrDuplicateJob = errors.New("duplicate job id")
	// ErrInvalidTransition signals an illegal status edge. It surfacing
	// outside this package means a bug in the caller, not bad input.
	ErrInvalidTransition = errors.New("illegal status transition")
)

// Payload carries the optional data attached to a status change. Result is
// required for completed and forbidden elsewhere; Error is required for
// failed and timed_out.
type Payload struct {
	Result *models.Result
	Error  *models.JobError
}

// Store is the job registry. All operations must be safe under concurrent
// invocation from the API handlers and executor callbacks.
type Store interface {
	Create(ctx context.Context, jobID, submissionType, content string) (*models.Job, error)
	Transition(ctx context.Context, jobID, status string, p Payload) (*models.Job, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	// Delete removes a job that is still in the received state. It exists
	// so a submission refused by the limiter after record creation can be
	// rolled back; terminal records are retained for the process lifetime.
	Delete(ctx context.Context, jobID string) error
}
