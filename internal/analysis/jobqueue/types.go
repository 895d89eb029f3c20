// Package jobqueue provides a retry queue for asynchronous pipeline work,
// primarily notification delivery, with exponential backoff between
// attempts and per-action statistics.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by queue operations.
var (
	ErrNilAction    = errors.New("cannot enqueue nil action")
	ErrQueueStopped = errors.New("job queue has been stopped")
	ErrQueueFull    = errors.New("job queue is full")
)

// ErrPermanent marks an action failure that must not be retried. Actions
// wrap it (errors.Join or fmt.Errorf %w) when the failure cannot succeed
// on a later attempt, e.g. an invalid notification recipient.
var ErrPermanent = errors.New("permanent failure")

// RetryConfig holds the retry behavior for an enqueued action.
type RetryConfig struct {
	Enabled      bool          // whether retry is enabled for this action
	MaxRetries   int           // maximum retry attempts after the first
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the backoff delay
	Multiplier   float64       // backoff multiplier per attempt
}

// Action is a unit of work the queue can execute and retry.
type Action interface {
	Execute(ctx context.Context, data any) error
	GetDescription() string
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusRetrying
	JobStatusFailed
	JobStatusCancelled
)

// String returns a readable status label.
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusRetrying:
		return "Retrying"
	case JobStatusFailed:
		return "Failed"
	case JobStatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}
