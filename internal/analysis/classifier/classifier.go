// Package classifier maps a detection confidence onto a priority tier
// using the currently effective threshold cut points.
package classifier

import (
	"github.com/firesentinel/firesentinel-go/internal/conf"
)

// Tier is the priority classification of a detection.
type Tier int

const (
	// TierDiscard means the confidence fell below every cut point; the
	// detection is not persisted and not alerted.
	TierDiscard Tier = iota
	// TierP4Log means log-only persistence, no dispatch.
	TierP4Log
	// TierP2Review means the detection enters the review queue.
	TierP2Review
	// TierP1Immediate means immediate alert dispatch.
	TierP1Immediate
)

// String returns the stored tier label.
func (t Tier) String() string {
	switch t {
	case TierP1Immediate:
		return "P1"
	case TierP2Review:
		return "P2"
	case TierP4Log:
		return "P4"
	default:
		return "DISCARD"
	}
}

// Dispatchable reports whether alerts of this tier are delivered through
// notification channels. P4 detections are recorded but never dispatched.
func (t Tier) Dispatchable() bool {
	return t == TierP1Immediate || t == TierP2Review
}

// Persisted reports whether detections of this tier produce an alert record.
func (t Tier) Persisted() bool {
	return t != TierDiscard
}

// ParseTier converts a stored tier label back to a Tier.
func ParseTier(s string) Tier {
	switch s {
	case "P1":
		return TierP1Immediate
	case "P2":
		return TierP2Review
	case "P4":
		return TierP4Log
	default:
		return TierDiscard
	}
}

// Classify maps a confidence score onto a tier with the given cut points.
// Boundary values belong to the higher tier so ties favor more alerting.
// Pure and total, safe to call from any camera goroutine.
func Classify(confidence float64, thresholds conf.ThresholdConfig) Tier {
	switch {
	case confidence >= thresholds.ImmediateAlert:
		return TierP1Immediate
	case confidence >= thresholds.ReviewQueue:
		return TierP2Review
	case confidence >= thresholds.LogOnly:
		return TierP4Log
	default:
		return TierDiscard
	}
}
