package models

import "time"

const (
	JobStatusReceived  = "received"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusTimedOut  = "timed_out"
)

const (
	SubmissionTypeLink = "link"
	SubmissionTypeText = "text"
	SubmissionTypeFile = "file"
)

// ValidSubmissionType reports whether t is a known submission kind.
func ValidSubmissionType(t string) bool {
	switch t {
	case SubmissionTypeLink, SubmissionTypeText, SubmissionTypeFile:
		return true
	}
	return false
}

// TerminalStatus reports whether s is one of the absorbing job states.
func TerminalStatus(s string) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusTimedOut
}

// Job is one scoring request. The job_id is caller-supplied; the store
// rejects a duplicate while the first submission is still live.
type Job struct {
	ID             string     `db:"id"              json:"job_id"`
	SubmissionType string     `db:"submission_type" json:"submission_type"`
	Content        string     `db:"content"         json:"content"`
	Status         string     `db:"status"          json:"status"`
	Result         *Result    `db:"result"          json:"result,omitempty"`
	Error          *JobError  `db:"error"           json:"error,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	StartedAt      *time.Time `db:"started_at"      json:"started_at,omitempty"`
	EndedAt        *time.Time `db:"ended_at"        json:"ended_at,omitempty"`
}

// Result carries the final score read from the evaluator's artifact,
// verbatim, plus any auxiliary metric columns.
type Result struct {
	Score   float64           `json:"score"`
	Metrics map[string]string `json:"metrics,omitempty"`
}

// JobError records why a run ended in failed or timed_out.
type JobError struct {
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}
