// Package notification delivers alerts through configured channels with
// retry and failover. Each channel is an independent provider; one
// channel's failure never blocks another's delivery.
package notification

import (
	"context"
	"time"
)

// SendResult classifies the outcome of a single delivery attempt.
type SendResult int

const (
	// Delivered means the provider accepted the message.
	Delivered SendResult = iota
	// Throttled means the provider rejected the attempt for rate reasons;
	// the attempt is retried after backoff.
	Throttled
	// TransientFailure means the attempt failed in a way that may succeed
	// later, e.g. a network error.
	TransientFailure
	// PermanentFailure means retrying cannot help, e.g. an invalid
	// recipient. The delivery is abandoned without consuming retries.
	PermanentFailure
)

// String returns a readable result label.
func (r SendResult) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Throttled:
		return "throttled"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	default:
		return "unknown"
	}
}

// DeliveryStatus is the lifecycle state of one outbound notification on
// one channel.
type DeliveryStatus int

const (
	StatusPending DeliveryStatus = iota
	StatusSending
	StatusDelivered
	StatusFailed
	StatusAbandoned
)

// String returns the status label used in logs and the API.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSending:
		return "SENDING"
	case StatusDelivered:
		return "DELIVERED"
	case StatusFailed:
		return "FAILED"
	case StatusAbandoned:
		return "ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// AlertMessage is the payload handed to providers.
type AlertMessage struct {
	AlertID    string
	CameraID   string
	Tier       string
	Confidence float64
	Title      string
	Body       string
	CreatedAt  time.Time
}

// Provider is a delivery backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	GetName() string
	ValidateConfig() error
	Send(ctx context.Context, msg *AlertMessage) (SendResult, error)
	SupportsTier(tier string) bool
	IsEnabled() bool
}

// Delivery tracks one notification through one channel.
type Delivery struct {
	AlertID   string         `json:"alert_id"`
	Channel   string         `json:"channel"`
	Status    DeliveryStatus `json:"-"`
	StatusStr string         `json:"status"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"last_error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}
