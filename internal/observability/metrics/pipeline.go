// Package metrics provides custom Prometheus metrics for the detection
// pipeline components.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains all Prometheus metrics for the detection pipeline.
type PipelineMetrics struct {
	FramesProcessed  *prometheus.CounterVec
	DetectionsByTier *prometheus.CounterVec
	AlertsCreated    prometheus.Counter
	AlertsMerged     prometheus.Counter
	AlertsSuppressed prometheus.Counter
	ScoreLatency     prometheus.Histogram
	ScoreErrors      prometheus.Counter
}

// NewPipelineMetrics creates and registers pipeline metrics on the given
// registry.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{
		FramesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_frames_processed_total",
			Help: "Total number of frames scored by the detection pipeline",
		}, []string{"camera"}),
		DetectionsByTier: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_detections_total",
			Help: "Total number of detections by classification tier",
		}, []string{"tier"}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_created_total",
			Help: "Total number of new alert records created",
		}),
		AlertsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_merged_total",
			Help: "Total number of detections merged into open alerts",
		}),
		AlertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_alerts_suppressed_total",
			Help: "Total number of dispatches suppressed by rate limiting",
		}),
		ScoreLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_score_latency_seconds",
			Help:    "Latency of detector scoring per frame",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		ScoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_score_errors_total",
			Help: "Total number of detector scoring failures",
		}),
	}

	collectors := []prometheus.Collector{
		m.FramesProcessed, m.DetectionsByTier, m.AlertsCreated,
		m.AlertsMerged, m.AlertsSuppressed, m.ScoreLatency, m.ScoreErrors,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

// ObserveFrame records one scored frame for a camera.
func (m *PipelineMetrics) ObserveFrame(cameraID string, latency time.Duration) {
	m.FramesProcessed.WithLabelValues(cameraID).Inc()
	m.ScoreLatency.Observe(latency.Seconds())
}

// IncrementDetections records a classified detection.
func (m *PipelineMetrics) IncrementDetections(tier string) {
	m.DetectionsByTier.WithLabelValues(tier).Inc()
}

// IncrementScoreErrors increments the scoring failure count.
func (m *PipelineMetrics) IncrementScoreErrors() {
	m.ScoreErrors.Inc()
}
