// model.go defines the persisted data model for alert records and
// system events.
package datastore

import (
	"time"
)

// AlertRecord is the durable, user-facing record of one detection that
// survived deduplication. Once Acknowledged is true it never reverts.
type AlertRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CameraID    string    `gorm:"index:idx_alerts_camera;index:idx_alerts_camera_created" json:"camera_id"`
	CreatedAt   time.Time `gorm:"index:idx_alerts_created;index:idx_alerts_camera_created" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tier        string    `gorm:"index:idx_alerts_tier;type:varchar(8)" json:"tier"`
	Confidence  float64   `json:"confidence"`
	Region      string    `gorm:"type:text" json:"region,omitempty"` // bounding data as JSON, opaque to the store
	Description string    `json:"description"`

	Acknowledged   bool       `gorm:"index:idx_alerts_acknowledged" json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`

	// FalsePositive is set during review; nil means not yet reviewed.
	FalsePositive *bool `json:"false_positive,omitempty"`

	// Dispatched records whether notification delivery was attempted, false
	// when rate limiting suppressed dispatch.
	Dispatched bool `json:"dispatched"`

	MergedCount int `json:"merged_count"` // detections folded into this record by the cooldown window
}

// SystemEvent is an operational log entry: camera state transitions, rate
// limit breaches, store failures, resource warnings.
type SystemEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_sysevents_created" json:"created_at"`
	Kind      string    `gorm:"index:idx_sysevents_kind;type:varchar(32)" json:"kind"`
	CameraID  string    `gorm:"index:idx_sysevents_camera" json:"camera_id,omitempty"`
	Message   string    `json:"message"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
}

// Statistics aggregates alert activity over a time window.
type Statistics struct {
	WindowStart       time.Time      `json:"window_start"`
	WindowEnd         time.Time      `json:"window_end"`
	Total             int64          `json:"total"`
	ByTier            map[string]int64 `json:"by_tier"`
	Acknowledged      int64          `json:"acknowledged"`
	FalsePositives    int64          `json:"false_positive_count"`
	TruePositives     int64          `json:"true_positive_count"`
	AvgResponseTime   time.Duration  `json:"avg_response_time"`
	SuppressedDispatch int64         `json:"suppressed_dispatch"`
}

// AlertFilter narrows ListRecent queries.
type AlertFilter struct {
	CameraID       string
	Tier           string
	Since          time.Time
	Until          time.Time
	OnlyUnack      bool
}
