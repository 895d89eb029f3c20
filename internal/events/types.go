// Package events provides the pipeline event bus consumed by UI clients
// and integrations. Publishing is non-blocking with per-subscriber bounded
// queues so a slow consumer can never stall the detection pipeline.
package events

import "time"

// Kind identifies the type of a pipeline event.
type Kind string

const (
	// KindAlertCreated is emitted when a detection survives dedup and
	// rate limiting and a new alert record is persisted.
	KindAlertCreated Kind = "alert_created"
	// KindAlertMerged is emitted when a detection is merged into an open
	// alert during the cooldown window.
	KindAlertMerged Kind = "alert_merged"
	// KindAlertAcknowledged is emitted when an alert is acknowledged.
	KindAlertAcknowledged Kind = "alert_acknowledged"
	// KindCameraStatusChanged is emitted once per camera state transition.
	KindCameraStatusChanged Kind = "camera_status_changed"
	// KindRateLimitEngaged is emitted once per cap breach, not once per
	// suppressed detection.
	KindRateLimitEngaged Kind = "rate_limit_engaged"
	// KindSystemStatus carries degraded-dependency and resource warnings.
	KindSystemStatus Kind = "system_status"
)

// Event is a single structured pipeline event.
type Event struct {
	Kind      Kind           `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	CameraID  string         `json:"camera_id,omitempty"`
	AlertID   string         `json:"alert_id,omitempty"`
	Tier      string         `json:"tier,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	OldState  string         `json:"old_state,omitempty"`
	NewState  string         `json:"new_state,omitempty"`
	Message   string         `json:"message,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// BusStats tracks event bus metrics
type BusStats struct {
	EventsPublished uint64
	EventsDropped   uint64
	Subscribers     int
}
