package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics contains all Prometheus metrics related to alert
// delivery.
type NotificationMetrics struct {
	Deliveries  *prometheus.CounterVec
	Attempts    prometheus.Histogram
	RateLimited prometheus.Counter
}

// NewNotificationMetrics creates and registers notification metrics on the
// given registry.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notification_deliveries_total",
			Help: "Total number of terminal delivery outcomes by channel and status",
		}, []string{"channel", "status"}),
		Attempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "notification_delivery_attempts",
			Help:    "Number of send attempts per terminal delivery",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notification_rate_limited_total",
			Help: "Total number of sends deferred by the provider rate limiter",
		}),
	}

	collectors := []prometheus.Collector{m.Deliveries, m.Attempts, m.RateLimited}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register notification metrics: %w", err)
		}
	}
	return m, nil
}

// RecordDelivery records a terminal delivery outcome.
func (m *NotificationMetrics) RecordDelivery(channel, status string, attempts int) {
	m.Deliveries.WithLabelValues(channel, status).Inc()
	m.Attempts.Observe(float64(attempts))
}

// IncrementRateLimited increments the rate limited send count.
func (m *NotificationMetrics) IncrementRateLimited() {
	m.RateLimited.Inc()
}
