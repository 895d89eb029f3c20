package notification

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firesentinel/firesentinel-go/internal/analysis/jobqueue"
)

// fakeProvider scripts a sequence of send results for one channel.
type fakeProvider struct {
	name    string
	tiers   map[string]bool
	results []SendResult

	mu    sync.Mutex
	calls int
}

func newFakeProvider(name string, results ...SendResult) *fakeProvider {
	return &fakeProvider{name: name, results: results}
}

func (f *fakeProvider) GetName() string       { return f.name }
func (f *fakeProvider) IsEnabled() bool       { return true }
func (f *fakeProvider) ValidateConfig() error { return nil }

func (f *fakeProvider) SupportsTier(tier string) bool {
	if len(f.tiers) == 0 {
		return true
	}
	return f.tiers[tier]
}

func (f *fakeProvider) Send(_ context.Context, _ *AlertMessage) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	result := f.results[idx]
	if result == Delivered {
		return Delivered, nil
	}
	return result, fmt.Errorf("scripted %s on attempt %d", result, f.calls)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry(maxRetries int) jobqueue.RetryConfig {
	return jobqueue.RetryConfig{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func newTestQueue(t *testing.T) *jobqueue.JobQueue {
	t.Helper()
	queue := jobqueue.NewJobQueue(nil)
	queue.SetProcessingInterval(5 * time.Millisecond)
	queue.Start()
	t.Cleanup(func() {
		_ = queue.StopWithTimeout(2 * time.Second)
	})
	return queue
}

func testMessage() *AlertMessage {
	return &AlertMessage{
		AlertID:    "alert-1",
		CameraID:   "CAM_001",
		Tier:       "P1",
		Confidence: 0.97,
		Title:      "Fire alert",
		Body:       "smoke detected on CAM_001",
		CreatedAt:  time.Now(),
	}
}

func waitForDeliveryStatus(t *testing.T, d *Dispatcher, alertID, channel string, want DeliveryStatus) Delivery {
	t.Helper()
	var last Delivery
	require.Eventually(t, func() bool {
		state, ok := d.DeliveryState(alertID, channel)
		if !ok {
			return false
		}
		last = state
		return state.Status == want
	}, 5*time.Second, 5*time.Millisecond, "delivery never reached %s, last state %+v", want, last)
	return last
}

func TestDispatchDeliversFirstAttempt(t *testing.T) {
	provider := newFakeProvider("sms", Delivered)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(3), nil, nil)

	fanout := d.Dispatch(testMessage())
	assert.Equal(t, 1, fanout)

	state := waitForDeliveryStatus(t, d, "alert-1", "sms", StatusDelivered)
	assert.Equal(t, 1, state.Attempts)
	assert.Equal(t, 1, provider.callCount())
}

func TestDispatchRetriesTransientThenDelivers(t *testing.T) {
	// Three transient failures then success: DELIVERED with 4 attempts.
	provider := newFakeProvider("sms", TransientFailure, TransientFailure, TransientFailure, Delivered)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(5), nil, nil)

	d.Dispatch(testMessage())

	state := waitForDeliveryStatus(t, d, "alert-1", "sms", StatusDelivered)
	assert.Equal(t, 4, state.Attempts)
	assert.Equal(t, 4, provider.callCount())
}

func TestDispatchAbandonsAfterRetryBudget(t *testing.T) {
	provider := newFakeProvider("sms", TransientFailure)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(2), nil, nil)

	d.Dispatch(testMessage())

	state := waitForDeliveryStatus(t, d, "alert-1", "sms", StatusAbandoned)
	assert.Equal(t, 3, state.Attempts, "one initial attempt plus two retries")
	assert.NotEmpty(t, state.LastError)
}

func TestDispatchPermanentFailureSkipsRetries(t *testing.T) {
	provider := newFakeProvider("email", PermanentFailure)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(5), nil, nil)

	d.Dispatch(testMessage())

	state := waitForDeliveryStatus(t, d, "alert-1", "email", StatusAbandoned)
	assert.Equal(t, 1, state.Attempts, "invalid recipient must not be retried")
	assert.Equal(t, 1, provider.callCount())
}

func TestDispatchChannelIsolation(t *testing.T) {
	// One channel failing permanently must not affect the other's delivery.
	failing := newFakeProvider("sms", PermanentFailure)
	working := newFakeProvider("email", Delivered)
	d := NewDispatcherWithProviders([]Provider{failing, working}, newTestQueue(t), fastRetry(3), nil, nil)

	fanout := d.Dispatch(testMessage())
	assert.Equal(t, 2, fanout)

	waitForDeliveryStatus(t, d, "alert-1", "sms", StatusAbandoned)
	waitForDeliveryStatus(t, d, "alert-1", "email", StatusDelivered)
}

func TestDispatchTierFiltering(t *testing.T) {
	p1Only := newFakeProvider("sms", Delivered)
	p1Only.tiers = map[string]bool{"P1": true}
	d := NewDispatcherWithProviders([]Provider{p1Only}, newTestQueue(t), fastRetry(3), nil, nil)

	msg := testMessage()
	msg.Tier = "P2"
	assert.Equal(t, 0, d.Dispatch(msg))

	msg2 := testMessage()
	msg2.AlertID = "alert-2"
	assert.Equal(t, 1, d.Dispatch(msg2))
}

func TestDispatchThrottledRetries(t *testing.T) {
	provider := newFakeProvider("webhook", Throttled, Delivered)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(3), nil, nil)

	d.Dispatch(testMessage())

	state := waitForDeliveryStatus(t, d, "alert-1", "webhook", StatusDelivered)
	assert.Equal(t, 2, state.Attempts)
}

func TestDeliveriesSnapshot(t *testing.T) {
	provider := newFakeProvider("sms", Delivered)
	d := NewDispatcherWithProviders([]Provider{provider}, newTestQueue(t), fastRetry(3), nil, nil)

	d.Dispatch(testMessage())
	waitForDeliveryStatus(t, d, "alert-1", "sms", StatusDelivered)

	deliveries := d.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "DELIVERED", deliveries[0].StatusStr)
}
