package jobqueue

import (
	"time"
)

// Job is a unit of work in the queue.
type Job struct {
	ID          string
	Action      Action
	Data        any
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig

	// OnComplete, when set, is called exactly once after the job reaches a
	// terminal status (Completed or Failed), outside the queue lock.
	OnComplete func(job *Job)
}

// JobStats tracks cumulative queue statistics.
type JobStats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	ArchivedJobs   int
	DroppedJobs    int
	RetryAttempts  int
	ActionStats    map[string]ActionStats // keyed by action type name
}

// ActionStats tracks statistics for one action type.
type ActionStats struct {
	TypeName    string
	Description string

	Attempted  int
	Successful int
	Failed     int
	Retried    int
	Dropped    int

	LastExecutionTime  time.Time
	LastSuccessfulTime time.Time
	LastFailedTime     time.Time
	LastErrorMessage   string
}

// JobStatsSnapshot is a point-in-time copy of queue statistics.
type JobStatsSnapshot struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	ArchivedJobs   int
	DroppedJobs    int
	RetryAttempts  int

	PendingJobs      int
	MaxQueueSize     int
	QueueUtilization float64

	ActionStats map[string]ActionStats
}
