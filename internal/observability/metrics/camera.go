package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CameraMetrics contains all Prometheus metrics related to camera streams.
type CameraMetrics struct {
	StatusTransitions *prometheus.CounterVec
	FramesReceived    *prometheus.CounterVec
	StreamRestarts    *prometheus.CounterVec
	OnlineCameras     prometheus.Gauge
}

// NewCameraMetrics creates and registers camera metrics on the given registry.
func NewCameraMetrics(registry *prometheus.Registry) (*CameraMetrics, error) {
	m := &CameraMetrics{
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_status_transitions_total",
			Help: "Total number of camera connection status transitions",
		}, []string{"camera", "to_state"}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_frames_received_total",
			Help: "Total number of frames received from camera streams",
		}, []string{"camera"}),
		StreamRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "camera_stream_restarts_total",
			Help: "Total number of camera stream restarts",
		}, []string{"camera"}),
		OnlineCameras: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "camera_online_count",
			Help: "Number of cameras currently in the online state",
		}),
	}

	collectors := []prometheus.Collector{
		m.StatusTransitions, m.FramesReceived, m.StreamRestarts, m.OnlineCameras,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register camera metrics: %w", err)
		}
	}
	return m, nil
}

// RecordTransition records a camera status transition.
func (m *CameraMetrics) RecordTransition(cameraID, toState string) {
	m.StatusTransitions.WithLabelValues(cameraID, toState).Inc()
}

// IncrementFrames records a received frame.
func (m *CameraMetrics) IncrementFrames(cameraID string) {
	m.FramesReceived.WithLabelValues(cameraID).Inc()
}

// IncrementRestarts records a stream restart.
func (m *CameraMetrics) IncrementRestarts(cameraID string) {
	m.StreamRestarts.WithLabelValues(cameraID).Inc()
}

// SetOnlineCount sets the number of online cameras.
func (m *CameraMetrics) SetOnlineCount(count int) {
	m.OnlineCameras.Set(float64(count))
}
