// Package processor wires the per-frame pipeline: detector score in,
// adjusted thresholds, tier classification, dedup and rate limiting, then
// persistence, notification dispatch, and event publication.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/analysis/classifier"
	"github.com/firesentinel/firesentinel-go/internal/analysis/jobqueue"
	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/detector"
	"github.com/firesentinel/firesentinel-go/internal/environment"
	"github.com/firesentinel/firesentinel-go/internal/errors"
	"github.com/firesentinel/firesentinel-go/internal/events"
	"github.com/firesentinel/firesentinel-go/internal/notification"
	"github.com/firesentinel/firesentinel-go/internal/observability/metrics"
)

// Notifier fans an alert out to delivery channels. Implemented by
// notification.Dispatcher.
type Notifier interface {
	Dispatch(msg *notification.AlertMessage) int
}

// Processor runs the detection-to-alert pipeline. Safe for concurrent use
// from every camera goroutine: threshold reads go through an atomic
// snapshot and the stateful stages serialize internally.
type Processor struct {
	scorer     detector.Scorer
	adjuster   *environment.Adjuster
	dedup      *Deduper
	limiter    *RateLimiter
	store      datastore.Interface
	notifier   Notifier
	bus        *events.Bus
	queue      *jobqueue.JobQueue
	publisher  AlertPublisher
	logger     *slog.Logger
	mqttRetry  jobqueue.RetryConfig
	thresholds atomic.Pointer[conf.ThresholdConfig]
	metrics    atomic.Pointer[metrics.PipelineMetrics]
}

// Config collects the processor's collaborators.
type Config struct {
	Settings  *conf.Settings
	Scorer    detector.Scorer
	Adjuster  *environment.Adjuster
	Store     datastore.Interface
	Notifier  Notifier
	Bus       *events.Bus
	Queue     *jobqueue.JobQueue
	Publisher AlertPublisher // optional MQTT publisher
	Logger    *slog.Logger
}

// New creates a Processor from config.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	detection := cfg.Settings.Detection
	p := &Processor{
		scorer:    cfg.Scorer,
		adjuster:  cfg.Adjuster,
		dedup:     NewDeduper(detection.Dedup.Cooldown),
		limiter:   NewRateLimiter(detection.RateLimit.HourlyMax, detection.RateLimit.DailyMax),
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		bus:       cfg.Bus,
		queue:     cfg.Queue,
		publisher: cfg.Publisher,
		logger:    logger,
		mqttRetry: jobqueue.RetryConfig{
			Enabled:      true,
			MaxRetries:   3,
			InitialDelay: 5 * time.Second,
			MaxDelay:     2 * time.Minute,
			Multiplier:   2.0,
		},
	}

	thresholds := detection.Thresholds
	p.thresholds.Store(&thresholds)
	return p
}

// SetMetrics attaches pipeline metrics. Safe to call after the pipeline has
// started.
func (p *Processor) SetMetrics(m *metrics.PipelineMetrics) {
	p.metrics.Store(m)
}

// CurrentThresholds returns the active threshold snapshot.
func (p *Processor) CurrentThresholds() conf.ThresholdConfig {
	return *p.thresholds.Load()
}

// UpdateThresholds validates and atomically swaps the threshold snapshot.
// Invalid updates are rejected and the active config is left unchanged.
// Takes effect for the next frame, no pipeline restart required.
func (p *Processor) UpdateThresholds(thresholds conf.ThresholdConfig) error {
	if err := thresholds.Validate(); err != nil {
		return errors.New(err).
			Component("processor").
			Category(errors.CategoryThreshold).
			Build()
	}
	p.thresholds.Store(&thresholds)
	p.logger.Info("threshold configuration updated",
		"immediate_alert", thresholds.ImmediateAlert,
		"review_queue", thresholds.ReviewQueue,
		"log_only", thresholds.LogOnly,
	)
	return nil
}

// ApplySettings absorbs a validated config reload: thresholds, the
// environmental settings, the dedup window, and the rate caps.
func (p *Processor) ApplySettings(settings *conf.Settings) error {
	if err := p.UpdateThresholds(settings.Detection.Thresholds); err != nil {
		return err
	}
	p.adjuster.UpdateSettings(settings.Detection.Environmental)
	p.dedup.SetCooldown(settings.Detection.Dedup.Cooldown)
	p.limiter.SetLimits(settings.Detection.RateLimit.HourlyMax, settings.Detection.RateLimit.DailyMax)
	return nil
}

// ProcessFrame runs one frame through the pipeline. A detector failure is
// transient: it is returned for the camera's failure counter but nothing
// else in the pipeline reacts.
func (p *Processor) ProcessFrame(ctx context.Context, frame detector.Frame) error {
	started := time.Now()
	result, err := p.scorer.Score(ctx, frame)
	if err != nil {
		if m := p.metrics.Load(); m != nil {
			m.IncrementScoreErrors()
		}
		return err
	}
	if m := p.metrics.Load(); m != nil {
		m.ObserveFrame(frame.CameraID, time.Since(started))
	}

	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	thresholds := p.adjuster.AdjustedThresholds(p.CurrentThresholds(), now)
	tier := classifier.Classify(result.Confidence, thresholds)
	if tier == classifier.TierDiscard {
		return nil
	}
	if m := p.metrics.Load(); m != nil {
		m.IncrementDetections(tier.String())
	}

	if merge := p.dedup.Merge(frame.CameraID, tier, result.Confidence, now); merge.Merged {
		return p.handleMerge(ctx, frame.CameraID, merge)
	}

	return p.handleNewAlert(ctx, frame.CameraID, tier, result, now)
}

func (p *Processor) handleMerge(ctx context.Context, cameraID string, merge MergeResult) error {
	if err := p.store.Update(ctx, merge.Record); err != nil {
		p.logger.Error("failed to persist merged detection",
			"alert_id", merge.Record.ID,
			"camera_id", cameraID,
			"error", err,
		)
	}

	if m := p.metrics.Load(); m != nil {
		m.AlertsMerged.Inc()
	}

	p.publish(events.Event{
		Kind:       events.KindAlertMerged,
		CameraID:   cameraID,
		AlertID:    merge.Record.ID,
		Tier:       merge.Record.Tier,
		Confidence: merge.Record.Confidence,
	})

	if merge.Escalated {
		p.logger.Info("open alert escalated",
			"alert_id", merge.Record.ID,
			"camera_id", cameraID,
			"tier", merge.Record.Tier,
		)
	}
	return nil
}

func (p *Processor) handleNewAlert(ctx context.Context, cameraID string, tier classifier.Tier, result detector.Result, now time.Time) error {
	decision := Decision{Allowed: true}
	if tier.Dispatchable() {
		decision = p.limiter.Check(cameraID, tier.String(), now)
	}

	record := &datastore.AlertRecord{
		CameraID:    cameraID,
		CreatedAt:   now,
		Tier:        tier.String(),
		Confidence:  result.Confidence,
		Description: fmt.Sprintf("%s detection on %s", tier.String(), cameraID),
		Dispatched:  tier.Dispatchable() && decision.Allowed,
	}
	if result.Region != nil {
		if region, err := json.Marshal(result.Region); err == nil {
			record.Region = string(region)
		}
	}

	if err := p.store.Create(ctx, record); err != nil {
		// Fail open for detection safety: the alert still goes out. Fail
		// loud for the operator: raise a status event immediately.
		p.logger.Error("alert store unavailable, continuing with dispatch",
			"camera_id", cameraID,
			"error", err,
		)
		p.publish(events.Event{
			Kind:     events.KindSystemStatus,
			CameraID: cameraID,
			Message:  "alert store unavailable: " + err.Error(),
		})
	} else {
		p.dedup.Track(cameraID, record, tier, now)
	}

	if decision.FirstBreach {
		p.engageRateLimit(ctx, cameraID, tier.String(), now)
	}

	if m := p.metrics.Load(); m != nil {
		m.AlertsCreated.Inc()
		if tier.Dispatchable() && !decision.Allowed {
			m.AlertsSuppressed.Inc()
		}
	}

	if record.Dispatched {
		p.dispatch(ctx, record)
	}

	p.publish(events.Event{
		Kind:       events.KindAlertCreated,
		CameraID:   cameraID,
		AlertID:    record.ID,
		Tier:       record.Tier,
		Confidence: record.Confidence,
		Metadata: map[string]any{
			"dispatched": record.Dispatched,
		},
	})
	return nil
}

// engageRateLimit reports a cap breach exactly once per breach.
func (p *Processor) engageRateLimit(ctx context.Context, cameraID, tier string, now time.Time) {
	message := fmt.Sprintf("alert rate cap reached for %s/%s, dispatch suppressed", cameraID, tier)
	p.logger.Warn("rate limit engaged", "camera_id", cameraID, "tier", tier)

	if err := p.store.SaveSystemEvent(ctx, &datastore.SystemEvent{
		CreatedAt: now,
		Kind:      string(events.KindRateLimitEngaged),
		CameraID:  cameraID,
		Message:   message,
	}); err != nil {
		p.logger.Error("failed to record rate limit event", "error", err)
	}

	p.publish(events.Event{
		Kind:     events.KindRateLimitEngaged,
		CameraID: cameraID,
		Tier:     tier,
		Message:  message,
	})
}

// dispatch hands the alert to the notification channels and, when a broker
// is configured, queues an MQTT publish with retry.
func (p *Processor) dispatch(_ context.Context, record *datastore.AlertRecord) {
	if p.notifier != nil {
		p.notifier.Dispatch(&notification.AlertMessage{
			AlertID:    record.ID,
			CameraID:   record.CameraID,
			Tier:       record.Tier,
			Confidence: record.Confidence,
			Title:      fmt.Sprintf("%s fire alert: %s", record.Tier, record.CameraID),
			Body:       record.Description,
			CreatedAt:  record.CreatedAt,
		})
	}

	if p.publisher != nil && p.queue != nil {
		action := &MQTTAction{Publisher: p.publisher, Record: *record}
		if _, err := p.queue.Enqueue(action, nil, p.mqttRetry); err != nil {
			p.logger.Error("failed to enqueue mqtt publish",
				"alert_id", record.ID,
				"error", err,
			)
		}
	}
}

// Acknowledge marks an alert acknowledged and publishes the event. The
// store makes the operation idempotent under concurrent callers.
func (p *Processor) Acknowledge(ctx context.Context, id, by string) (datastore.AckOutcome, error) {
	outcome, err := p.store.Acknowledge(ctx, id, by)
	if err != nil {
		return outcome, err
	}

	if outcome == datastore.AckApplied {
		p.publish(events.Event{
			Kind:    events.KindAlertAcknowledged,
			AlertID: id,
			Message: "acknowledged by " + by,
		})
	}
	return outcome, nil
}

// ExpireOpenAlerts drops lapsed dedup windows. Called periodically by the
// runtime loop.
func (p *Processor) ExpireOpenAlerts(now time.Time) {
	p.dedup.Expire(now)
}

func (p *Processor) publish(event events.Event) {
	if p.bus != nil {
		p.bus.Publish(event)
	}
}
