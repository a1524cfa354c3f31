package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue names used by the pipeline.
const (
	QueueBuffers     = "expired-buffers"
	QueueAIResponses = "ai-responses"
	QueueReminders   = "reminders"
	QueueInactivity  = "inactivity-checks"
)

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Options configure retry and retention for an enqueued job.
type Options struct {
	// Attempts is the total number of tries before the job is parked as
	// failed. Zero means a single attempt.
	Attempts     int           `json:"attempts"`
	Backoff      BackoffKind   `json:"backoff"`
	BackoffDelay time.Duration `json:"backoff_delay"`

	// Retention caps keep completed/failed job history bounded.
	RemoveOnCompleteAge   time.Duration `json:"remove_on_complete_age"`
	RemoveOnCompleteCount int           `json:"remove_on_complete_count"`
	RemoveOnFailAge       time.Duration `json:"remove_on_fail_age"`
	RemoveOnFailCount     int           `json:"remove_on_fail_count"`
}

// Job is one unit of queued work.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Queue      string          `json:"queue"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	Opts       Options         `json:"opts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Handler processes one job. A non-nil error triggers the queue's retry
// policy.
type Handler func(ctx context.Context, job *Job) error

// ExhaustedFunc is invoked after a job has failed its final attempt and
// been parked.
type ExhaustedFunc func(ctx context.Context, job *Job, err error)
