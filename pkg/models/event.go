package models

import "time"

const (
	EventStarted   = "started"
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
	EventTimedOut  = "timed_out"
)

// TerminalEvent reports whether kind closes a job's lifecycle. At most one
// terminal event is ever emitted per job, always after started.
func TerminalEvent(kind string) bool {
	return kind == EventCompleted || kind == EventFailed || kind == EventTimedOut
}

// Event is one lifecycle notification pushed to the watcher endpoint.
type Event struct {
	DeliveryID string    `json:"delivery_id"`
	JobID      string    `json:"job_id"`
	Kind       string    `json:"event_kind"`
	Timestamp  time.Time `json:"timestamp"`
	Payload    any       `json:"payload,omitempty"`
}
