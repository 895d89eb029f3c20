package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/errors"
)

// defaultExecutionTimeout bounds a single action attempt.
const defaultExecutionTimeout = 30 * time.Second

// JobQueue manages retryable jobs. A single processing goroutine wakes on a
// ticker, launches due jobs, and archives terminal ones.
type JobQueue struct {
	jobs         []*Job
	archivedJobs []*Job
	mu           sync.Mutex
	stats        JobStats
	jobCounter   int

	stopCh        chan struct{}
	runningJobs   sync.WaitGroup
	isRunning     bool
	processCancel context.CancelFunc

	maxJobs            int
	maxArchivedJobs    int
	processingInterval time.Duration
	executionTimeout   time.Duration

	logger *slog.Logger
}

// NewJobQueue creates a queue with default capacity.
func NewJobQueue(logger *slog.Logger) *JobQueue {
	return NewJobQueueWithOptions(1000, 100, logger)
}

// NewJobQueueWithOptions creates a queue with explicit capacity limits.
func NewJobQueueWithOptions(maxJobs, maxArchivedJobs int, logger *slog.Logger) *JobQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobQueue{
		jobs:               make([]*Job, 0),
		archivedJobs:       make([]*Job, 0),
		stopCh:             make(chan struct{}),
		maxJobs:            maxJobs,
		maxArchivedJobs:    maxArchivedJobs,
		processingInterval: time.Second,
		executionTimeout:   defaultExecutionTimeout,
		logger:             logger,
		stats: JobStats{
			ActionStats: make(map[string]ActionStats),
		},
	}
}

// SetProcessingInterval overrides the ticker interval. Tests use short
// intervals to avoid waiting out real backoff schedules.
func (q *JobQueue) SetProcessingInterval(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processingInterval = interval
}

// SetExecutionTimeout overrides the per-attempt deadline.
func (q *JobQueue) SetExecutionTimeout(timeout time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.executionTimeout = timeout
}

// Start begins job processing.
func (q *JobQueue) Start() {
	q.StartWithContext(context.Background())
}

// StartWithContext begins job processing bound to ctx.
func (q *JobQueue) StartWithContext(ctx context.Context) {
	q.mu.Lock()
	if q.isRunning {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	q.stopCh = make(chan struct{})

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.mu.Unlock()

	go q.processJobs(processCtx)
}

// Stop stops processing and waits up to 10s for running jobs.
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout stops processing and waits up to timeout for running jobs.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	if q.processCancel != nil {
		q.processCancel()
		q.processCancel = nil
	}
	close(q.stopCh)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.runningJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue adds a job to the queue. When the queue is full the oldest
// pending job is dropped to make room; if nothing can be dropped the
// enqueue fails with ErrQueueFull.
func (q *JobQueue) Enqueue(action Action, data any, config RetryConfig) (*Job, error) {
	return q.EnqueueWithCallback(action, data, config, nil)
}

// EnqueueWithCallback adds a job whose onComplete hook fires once the job
// reaches a terminal status.
func (q *JobQueue) EnqueueWithCallback(action Action, data any, config RetryConfig, onComplete func(*Job)) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}

	if len(q.jobs) >= q.maxJobs {
		if !q.dropOldestPendingJobLocked() {
			q.stats.DroppedJobs++
			q.bumpActionStatLocked(action, func(s *ActionStats) { s.Dropped++ })
			return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
		}
	}

	q.jobCounter++
	job := &Job{
		ID:          fmt.Sprintf("job-%d", q.jobCounter),
		Action:      action,
		Data:        data,
		MaxAttempts: config.MaxRetries + 1,
		CreatedAt:   time.Now(),
		NextRetryAt: time.Now(),
		Status:      JobStatusPending,
		Config:      config,
		OnComplete:  onComplete,
	}

	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++
	q.bumpActionStatLocked(action, func(s *ActionStats) {
		s.TypeName = fmt.Sprintf("%T", action)
		s.Description = action.GetDescription()
		s.Attempted++
	})

	return job, nil
}

// dropOldestPendingJobLocked removes the oldest pending job to make room.
// Caller must hold q.mu.
func (q *JobQueue) dropOldestPendingJobLocked() bool {
	oldestIdx := -1
	var oldestTime time.Time
	for i, job := range q.jobs {
		if job.Status != JobStatusPending {
			continue
		}
		if oldestIdx == -1 || job.CreatedAt.Before(oldestTime) {
			oldestIdx = i
			oldestTime = job.CreatedAt
		}
	}
	if oldestIdx == -1 {
		return false
	}

	dropped := q.jobs[oldestIdx]
	q.jobs = append(q.jobs[:oldestIdx], q.jobs[oldestIdx+1:]...)
	q.stats.DroppedJobs++
	q.bumpActionStatLocked(dropped.Action, func(s *ActionStats) { s.Dropped++ })

	q.logger.Warn("dropped oldest pending job to make room",
		"job_id", dropped.ID,
		"action", dropped.Action.GetDescription(),
	)
	return true
}

// bumpActionStatLocked applies fn to the stats entry for action's type.
// Caller must hold q.mu.
func (q *JobQueue) bumpActionStatLocked(action Action, fn func(*ActionStats)) {
	key := fmt.Sprintf("%T", action)
	stats := q.stats.ActionStats[key]
	fn(&stats)
	q.stats.ActionStats[key] = stats
}

func (q *JobQueue) processJobs(ctx context.Context) {
	q.mu.Lock()
	interval := q.processingInterval
	q.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			q.archiveTerminalJobs()
			q.processDueJobs(ctx)
		}
	}
}

// archiveTerminalJobs moves completed and failed jobs out of the active
// list, keeping a bounded archive for inspection.
func (q *JobQueue) archiveTerminalJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	var active, terminal []*Job
	for _, job := range q.jobs {
		if job.Status == JobStatusCompleted || job.Status == JobStatusFailed {
			terminal = append(terminal, job)
		} else {
			active = append(active, job)
		}
	}
	q.jobs = active
	q.archivedJobs = append(q.archivedJobs, terminal...)
	if len(q.archivedJobs) > q.maxArchivedJobs {
		excess := len(q.archivedJobs) - q.maxArchivedJobs
		q.archivedJobs = q.archivedJobs[excess:]
	}
	q.stats.ArchivedJobs = len(q.archivedJobs)
}

// calculateBackoffDelay returns the exponential backoff delay with ±10%
// jitter, capped at the configured maximum.
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum))

	jitterFactor := 0.9 + 0.2*float64(time.Now().Nanosecond())/1e9
	backoff *= jitterFactor

	if backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

func (q *JobQueue) processDueJobs(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	var dueJobs []*Job
	now := time.Now()
	for _, job := range q.jobs {
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			dueJobs = append(dueJobs, job)
			job.Status = JobStatusRunning
		}
	}
	q.mu.Unlock()

	for _, job := range dueJobs {
		if ctx.Err() != nil {
			q.mu.Lock()
			for _, j := range dueJobs {
				if j.Status == JobStatusRunning {
					if j.Attempts > 0 {
						j.Status = JobStatusRetrying
					} else {
						j.Status = JobStatusPending
					}
				}
			}
			q.mu.Unlock()
			return
		}

		q.runningJobs.Add(1)
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, j)
		}(job)
	}
}

func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	job.Attempts++

	q.mu.Lock()
	if job.Attempts > 1 {
		q.stats.RetryAttempts++
		q.bumpActionStatLocked(job.Action, func(s *ActionStats) { s.Retried++ })
	}
	timeout := q.executionTimeout
	q.mu.Unlock()

	if job.Attempts > 1 {
		q.logger.Info("retrying job",
			"job_id", job.ID,
			"action", job.Action.GetDescription(),
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
		)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job execution panicked: %v", r)
			}
			close(done)
		}()
		err = job.Action.Execute(execCtx, job.Data)
	}()

	select {
	case <-done:
	case <-execCtx.Done():
		if execCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("job execution timed out after %v: %w", timeout, execCtx.Err())
		} else {
			err = fmt.Errorf("job execution was cancelled: %w", execCtx.Err())
		}
	}

	var terminal bool

	q.mu.Lock()
	now := time.Now()
	q.bumpActionStatLocked(job.Action, func(s *ActionStats) { s.LastExecutionTime = now })

	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		terminal = true
		q.stats.SuccessfulJobs++
		q.bumpActionStatLocked(job.Action, func(s *ActionStats) {
			s.Successful++
			s.LastSuccessfulTime = now
		})
		if job.Attempts > 1 {
			q.logger.Info("job succeeded after retries",
				"job_id", job.ID,
				"attempts", job.Attempts,
			)
		}

	case errors.Is(err, ErrPermanent) || job.Attempts >= job.MaxAttempts:
		job.Status = JobStatusFailed
		job.LastError = err
		terminal = true
		q.stats.FailedJobs++
		q.bumpActionStatLocked(job.Action, func(s *ActionStats) {
			s.Failed++
			s.LastFailedTime = now
			s.LastErrorMessage = err.Error()
		})
		q.logger.Error("job permanently failed",
			"job_id", job.ID,
			"action", job.Action.GetDescription(),
			"attempts", job.Attempts,
			"error", err,
		)

	default:
		job.Status = JobStatusRetrying
		job.LastError = err
		delay := calculateBackoffDelay(job.Config, job.Attempts)
		job.NextRetryAt = time.Now().Add(delay)
		q.logger.Warn("job failed, scheduling retry",
			"job_id", job.ID,
			"action", job.Action.GetDescription(),
			"retry_in", delay.String(),
			"attempt", job.Attempts,
			"max_attempts", job.MaxAttempts,
			"error", err,
		)
	}
	q.mu.Unlock()

	if terminal && job.OnComplete != nil {
		job.OnComplete(job)
	}
}

// GetStats returns a snapshot of queue statistics.
func (q *JobQueue) GetStats() JobStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	actionStats := make(map[string]ActionStats, len(q.stats.ActionStats))
	for k, v := range q.stats.ActionStats {
		actionStats[k] = v
	}

	utilization := 0.0
	if q.maxJobs > 0 {
		utilization = float64(len(q.jobs)) / float64(q.maxJobs) * 100
	}

	return JobStatsSnapshot{
		TotalJobs:        q.stats.TotalJobs,
		SuccessfulJobs:   q.stats.SuccessfulJobs,
		FailedJobs:       q.stats.FailedJobs,
		ArchivedJobs:     q.stats.ArchivedJobs,
		DroppedJobs:      q.stats.DroppedJobs,
		RetryAttempts:    q.stats.RetryAttempts,
		PendingJobs:      len(q.jobs),
		MaxQueueSize:     q.maxJobs,
		QueueUtilization: utilization,
		ActionStats:      actionStats,
	}
}

// ProcessImmediately runs one processing pass without waiting for the
// ticker. Intended for tests.
func (q *JobQueue) ProcessImmediately(ctx context.Context) {
	q.archiveTerminalJobs()
	q.processDueJobs(ctx)
}
