package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAction struct {
	mu        sync.Mutex
	calls     int
	failUntil int   // fail the first N attempts
	err       error // error to return while failing
}

func (a *countingAction) Execute(_ context.Context, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls <= a.failUntil {
		if a.err != nil {
			return a.err
		}
		return fmt.Errorf("transient failure on attempt %d", a.calls)
	}
	return nil
}

func (a *countingAction) GetDescription() string { return "counting action" }

func (a *countingAction) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestQueue(t *testing.T) *JobQueue {
	t.Helper()
	q := NewJobQueue(nil)
	q.SetProcessingInterval(5 * time.Millisecond)
	q.Start()
	t.Cleanup(func() {
		_ = q.StopWithTimeout(2 * time.Second)
	})
	return q
}

func waitForStatus(t *testing.T, job *Job, want JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return job.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached status %s", want)
}

func TestEnqueueValidation(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(nil, nil, fastRetryConfig(0))
	assert.ErrorIs(t, err, ErrNilAction)

	stopped := NewJobQueue(nil)
	_, err = stopped.Enqueue(&countingAction{}, nil, fastRetryConfig(0))
	assert.ErrorIs(t, err, ErrQueueStopped)
}

func TestJobSucceedsFirstAttempt(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{}

	job, err := q.Enqueue(action, nil, fastRetryConfig(3))
	require.NoError(t, err)

	waitForStatus(t, job, JobStatusCompleted)
	assert.Equal(t, 1, action.callCount())

	stats := q.GetStats()
	assert.Equal(t, 1, stats.TotalJobs)
	assert.Equal(t, 1, stats.SuccessfulJobs)
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{failUntil: 3}

	job, err := q.Enqueue(action, nil, fastRetryConfig(5))
	require.NoError(t, err)

	waitForStatus(t, job, JobStatusCompleted)
	assert.Equal(t, 4, action.callCount(), "three failures plus one success")
	assert.Equal(t, 4, job.Attempts)
}

func TestJobFailsAfterMaxAttempts(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{failUntil: 100}

	job, err := q.Enqueue(action, nil, fastRetryConfig(2))
	require.NoError(t, err)

	waitForStatus(t, job, JobStatusFailed)
	assert.Equal(t, 3, job.Attempts, "one initial attempt plus two retries")
	assert.Error(t, job.LastError)

	stats := q.GetStats()
	assert.Equal(t, 1, stats.FailedJobs)
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{
		failUntil: 100,
		err:       fmt.Errorf("invalid recipient: %w", ErrPermanent),
	}

	job, err := q.Enqueue(action, nil, fastRetryConfig(5))
	require.NoError(t, err)

	waitForStatus(t, job, JobStatusFailed)
	assert.Equal(t, 1, job.Attempts, "permanent failures must not be retried")
}

func TestOnCompleteFiresOnceOnTerminalStatus(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{failUntil: 1}

	var fired atomic.Int32
	var finalStatus JobStatus
	var mu sync.Mutex

	job, err := q.EnqueueWithCallback(action, nil, fastRetryConfig(3), func(j *Job) {
		fired.Add(1)
		mu.Lock()
		finalStatus = j.Status
		mu.Unlock()
	})
	require.NoError(t, err)

	waitForStatus(t, job, JobStatusCompleted)
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, JobStatusCompleted, finalStatus)
	mu.Unlock()
}

func TestQueueFullDropsOldestPending(t *testing.T) {
	q := NewJobQueueWithOptions(2, 10, nil)
	q.SetProcessingInterval(time.Hour) // never process, keep jobs pending
	q.Start()
	t.Cleanup(func() {
		_ = q.StopWithTimeout(time.Second)
	})

	first, err := q.Enqueue(&countingAction{}, "first", fastRetryConfig(0))
	require.NoError(t, err)
	_, err = q.Enqueue(&countingAction{}, "second", fastRetryConfig(0))
	require.NoError(t, err)

	// Third enqueue drops the oldest pending job instead of failing.
	_, err = q.Enqueue(&countingAction{}, "third", fastRetryConfig(0))
	require.NoError(t, err)

	stats := q.GetStats()
	assert.Equal(t, 1, stats.DroppedJobs)
	assert.Equal(t, 2, stats.PendingJobs)

	q.mu.Lock()
	for _, j := range q.jobs {
		assert.NotEqual(t, first.ID, j.ID, "oldest job should have been dropped")
	}
	q.mu.Unlock()
}

func TestBackoffDelayCappedAtMax(t *testing.T) {
	config := RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		Multiplier:   2.0,
	}
	for attempt := 0; attempt < 10; attempt++ {
		delay := calculateBackoffDelay(config, attempt)
		assert.LessOrEqual(t, delay, 4*time.Second)
		assert.Positive(t, delay)
	}
}

func TestStopWaitsForRunningJobs(t *testing.T) {
	q := NewJobQueue(nil)
	q.SetProcessingInterval(5 * time.Millisecond)
	q.Start()

	started := make(chan struct{})
	action := &blockingAction{started: started, release: make(chan struct{})}
	_, err := q.Enqueue(action, nil, fastRetryConfig(0))
	require.NoError(t, err)

	<-started
	close(action.release)
	require.NoError(t, q.StopWithTimeout(2*time.Second))
}

type blockingAction struct {
	started   chan struct{}
	release   chan struct{}
	startOnce sync.Once
}

func (a *blockingAction) Execute(ctx context.Context, _ any) error {
	a.startOnce.Do(func() { close(a.started) })
	select {
	case <-a.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *blockingAction) GetDescription() string { return "blocking action" }

func TestGetStatsSnapshotIsCopy(t *testing.T) {
	q := newTestQueue(t)
	action := &countingAction{}

	job, err := q.Enqueue(action, nil, fastRetryConfig(0))
	require.NoError(t, err)
	waitForStatus(t, job, JobStatusCompleted)

	snap := q.GetStats()
	snap.ActionStats["mutated"] = ActionStats{}

	again := q.GetStats()
	_, ok := again.ActionStats["mutated"]
	assert.False(t, ok, "snapshot mutation must not leak back into the queue")
}

func TestPermanentSentinelMatching(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrPermanent)
	assert.True(t, errors.Is(wrapped, ErrPermanent))
	assert.False(t, errors.Is(errors.New("other"), ErrPermanent))
}
