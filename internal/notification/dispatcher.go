package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/analysis/jobqueue"
	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/observability/metrics"
)

// Dispatcher fans alert notifications out to all enabled channels. Each
// channel delivery is an independent retry job: the frame pipeline never
// waits on SMS or email, and one channel's failure never blocks another.
type Dispatcher struct {
	providers []Provider
	queue     *jobqueue.JobQueue
	limiter   *PushRateLimiter
	retry     jobqueue.RetryConfig
	logger    *slog.Logger
	metrics   atomic.Pointer[metrics.NotificationMetrics]

	mu         sync.Mutex
	deliveries map[string]*Delivery // keyed by alertID/channel
}

// NewDispatcher builds a dispatcher from configuration. Providers with
// invalid configuration are skipped with a logged error rather than
// failing startup; the remaining channels still deliver.
func NewDispatcher(settings *conf.NotificationSettings, queue *jobqueue.JobQueue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		queue:      queue,
		limiter:    NewPushRateLimiter(settings.RateLimit.RequestsPerMinute, settings.RateLimit.BurstSize),
		logger:     logger,
		deliveries: make(map[string]*Delivery),
		retry: jobqueue.RetryConfig{
			Enabled:      true,
			MaxRetries:   settings.MaxRetries,
			InitialDelay: settings.InitialDelay,
			MaxDelay:     settings.MaxDelay,
			Multiplier:   settings.Multiplier,
		},
	}

	for i := range settings.Providers {
		pc := &settings.Providers[i]
		if !pc.Enabled {
			continue
		}

		var provider Provider
		switch pc.Type {
		case "shoutrrr":
			provider = NewShoutrrrProvider(pc.Name, pc.Enabled, pc.URLs, pc.Tiers, pc.Timeout)
		case "webhook":
			provider = NewWebhookProvider(pc.Name, pc.Enabled, pc.URL, pc.Headers, pc.Tiers, pc.Timeout)
		default:
			logger.Error("unknown notification provider type, skipping",
				"name", pc.Name,
				"type", pc.Type,
			)
			continue
		}

		if err := provider.ValidateConfig(); err != nil {
			logger.Error("notification provider configuration invalid, skipping",
				"name", provider.GetName(),
				"error", err,
			)
			continue
		}
		d.providers = append(d.providers, provider)
	}

	return d
}

// NewDispatcherWithProviders builds a dispatcher with explicit providers.
// Used by tests and by callers that construct providers themselves.
func NewDispatcherWithProviders(providers []Provider, queue *jobqueue.JobQueue, retry jobqueue.RetryConfig, limiter *PushRateLimiter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = NewPushRateLimiter(0, 0)
	}
	return &Dispatcher{
		providers:  providers,
		queue:      queue,
		limiter:    limiter,
		retry:      retry,
		logger:     logger,
		deliveries: make(map[string]*Delivery),
	}
}

// SetMetrics attaches notification metrics. Safe to call after deliveries
// have started.
func (d *Dispatcher) SetMetrics(m *metrics.NotificationMetrics) {
	d.metrics.Store(m)
}

// Providers returns the active delivery channels.
func (d *Dispatcher) Providers() []Provider {
	return d.providers
}

// Dispatch enqueues one delivery job per channel that handles the alert's
// tier. Returns the number of channels the alert was fanned out to.
func (d *Dispatcher) Dispatch(msg *AlertMessage) int {
	fanout := 0
	for _, provider := range d.providers {
		if !provider.IsEnabled() || !provider.SupportsTier(msg.Tier) {
			continue
		}

		delivery := d.trackDelivery(msg.AlertID, provider.GetName())
		action := &sendAction{
			dispatcher: d,
			provider:   provider,
			msg:        msg,
			delivery:   delivery,
		}

		_, err := d.queue.EnqueueWithCallback(action, nil, d.retry, func(job *jobqueue.Job) {
			d.finishDelivery(delivery, job)
		})
		if err != nil {
			d.logger.Error("failed to enqueue notification delivery",
				"alert_id", msg.AlertID,
				"channel", provider.GetName(),
				"error", err,
			)
			d.updateDelivery(delivery, StatusAbandoned, 0, err)
			continue
		}
		fanout++
	}

	if fanout == 0 {
		d.logger.Warn("no notification channel accepted alert",
			"alert_id", msg.AlertID,
			"tier", msg.Tier,
		)
	}
	return fanout
}

// Deliveries returns a snapshot of tracked delivery states, newest first
// within no particular order.
func (d *Dispatcher) Deliveries() []Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Delivery, 0, len(d.deliveries))
	for _, delivery := range d.deliveries {
		copied := *delivery
		copied.StatusStr = copied.Status.String()
		out = append(out, copied)
	}
	return out
}

// DeliveryState returns the tracked state for one alert on one channel.
func (d *Dispatcher) DeliveryState(alertID, channel string) (Delivery, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery, ok := d.deliveries[alertID+"/"+channel]
	if !ok {
		return Delivery{}, false
	}
	copied := *delivery
	copied.StatusStr = copied.Status.String()
	return copied, true
}

func (d *Dispatcher) trackDelivery(alertID, channel string) *Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery := &Delivery{
		AlertID:   alertID,
		Channel:   channel,
		Status:    StatusPending,
		UpdatedAt: time.Now(),
	}
	d.deliveries[alertID+"/"+channel] = delivery
	return delivery
}

func (d *Dispatcher) updateDelivery(delivery *Delivery, status DeliveryStatus, attempts int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delivery.Status = status
	if attempts > 0 {
		delivery.Attempts = attempts
	}
	if err != nil {
		delivery.LastError = err.Error()
	}
	delivery.UpdatedAt = time.Now()
}

func (d *Dispatcher) markSending(delivery *Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delivery.Status = StatusSending
	delivery.Attempts++
	delivery.UpdatedAt = time.Now()
}

func (d *Dispatcher) finishDelivery(delivery *Delivery, job *jobqueue.Job) {
	status := StatusDelivered
	if job.Status == jobqueue.JobStatusFailed {
		// Retry budget exhausted or permanent failure.
		status = StatusAbandoned
	}
	d.updateDelivery(delivery, status, job.Attempts, job.LastError)

	if m := d.metrics.Load(); m != nil {
		m.RecordDelivery(delivery.Channel, status.String(), job.Attempts)
	}

	d.logger.Info("notification delivery finished",
		"alert_id", delivery.AlertID,
		"channel", delivery.Channel,
		"status", status.String(),
		"attempts", job.Attempts,
	)
}

// sendAction is the jobqueue unit for one channel delivery attempt.
type sendAction struct {
	dispatcher *Dispatcher
	provider   Provider
	msg        *AlertMessage
	delivery   *Delivery
}

// Execute runs one delivery attempt. Errors trigger the queue's retry
// schedule; a jobqueue.ErrPermanent wrap stops retries immediately.
func (a *sendAction) Execute(ctx context.Context, _ any) error {
	if !a.dispatcher.limiter.Allow() {
		if m := a.dispatcher.metrics.Load(); m != nil {
			m.IncrementRateLimited()
		}
		return fmt.Errorf("outbound rate limit reached for channel %s", a.provider.GetName())
	}

	a.dispatcher.markSending(a.delivery)

	result, err := a.provider.Send(ctx, a.msg)
	switch result {
	case Delivered:
		return nil
	case PermanentFailure:
		return fmt.Errorf("%w: %w", jobqueue.ErrPermanent, err)
	default:
		// Throttled and TransientFailure follow the retry schedule.
		if err == nil {
			err = fmt.Errorf("channel %s returned %s", a.provider.GetName(), result)
		}
		return err
	}
}

// GetDescription labels the action in queue statistics.
func (a *sendAction) GetDescription() string {
	return fmt.Sprintf("notification via %s", a.provider.GetName())
}
