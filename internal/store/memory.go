package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/modelforge/scoregate/pkg/models"
)

// legalEdges is the monotonic job state machine. Terminal states have no
// entry, so any transition out of them fails.
var legalEdges = map[string][]string{
	models.JobStatusReceived: {models.JobStatusRunning},
	models.JobStatusRunning: {
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimedOut,
	},
}

// MemoryStore is the authoritative in-memory job registry. Records are
// retained for the lifetime of the process; nothing survives a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (m *MemoryStore) Create(_ context.Context, jobID, submissionType, content string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[jobID]; exists {
		return nil, ErrDuplicateJob
	}

	job := &models.Job{
		ID:             jobID,
		SubmissionType: submissionType,
		Content:        content,
		Status:         models.JobStatusReceived,
		CreatedAt:      time.Now().UTC(),
	}
	m.jobs[jobID] = job
	return snapshot(job), nil
}

func (m *MemoryStore) Transition(_ context.Context, jobID, status string, p Payload) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !edgeAllowed(job.Status, status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	if (status == models.JobStatusCompleted) != (p.Result != nil) {
		return nil, fmt.Errorf("%w: result payload mismatch for %s", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	job.Status = status
	switch {
	case status == models.JobStatusRunning:
		job.StartedAt = &now
	case models.TerminalStatus(status):
		job.EndedAt = &now
		job.Result = p.Result
		job.Error = p.Error
	}
	return snapshot(job), nil
}

func (m *MemoryStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return snapshot(job), nil
}

func (m *MemoryStore) Delete(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status != models.JobStatusReceived {
		return fmt.Errorf("%w: delete of %s job", ErrInvalidTransition, job.Status)
	}
	delete(m.jobs, jobID)
	return nil
}

func edgeAllowed(from, to string) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// snapshot copies a record so callers never share the store's mutable copy.
func snapshot(j *models.Job) *models.Job {
	c := *j
	return &c
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
