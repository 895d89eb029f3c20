package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firesentinel/firesentinel-go/internal/conf"
)

var testThresholds = conf.ThresholdConfig{
	ImmediateAlert: 0.95,
	ReviewQueue:    0.85,
	LogOnly:        0.70,
	MinGap:         0.05,
}

func TestClassifyTiers(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		want       Tier
	}{
		{"well above immediate", 0.99, TierP1Immediate},
		{"immediate boundary belongs to P1", 0.95, TierP1Immediate},
		{"just below immediate", 0.9499, TierP2Review},
		{"review range", 0.91, TierP2Review},
		{"review boundary belongs to P2", 0.85, TierP2Review},
		{"log range", 0.75, TierP4Log},
		{"log boundary belongs to P4", 0.70, TierP4Log},
		{"below log only", 0.69, TierDiscard},
		{"zero", 0, TierDiscard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.confidence, testThresholds))
		})
	}
}

func TestClassifyMonotonicInConfidence(t *testing.T) {
	prev := TierDiscard
	for c := 0.0; c <= 1.0; c += 0.001 {
		tier := Classify(c, testThresholds)
		assert.GreaterOrEqual(t, int(tier), int(prev),
			"tier must be non-decreasing in confidence, broke at %f", c)
		prev = tier
	}
}

func TestClassifyWithAdjustedThresholds(t *testing.T) {
	// Confidence 0.87 is P2 against the base thresholds but drops to P4
	// once a +0.03 sunset delta lifts the review cut to 0.88.
	assert.Equal(t, TierP2Review, Classify(0.87, testThresholds))

	shifted := conf.ThresholdConfig{
		ImmediateAlert: 0.98,
		ReviewQueue:    0.88,
		LogOnly:        0.73,
		MinGap:         0.05,
	}
	assert.Equal(t, TierP4Log, Classify(0.87, shifted))
}

func TestTierProperties(t *testing.T) {
	assert.True(t, TierP1Immediate.Dispatchable())
	assert.True(t, TierP2Review.Dispatchable())
	assert.False(t, TierP4Log.Dispatchable())
	assert.False(t, TierDiscard.Dispatchable())

	assert.True(t, TierP4Log.Persisted())
	assert.False(t, TierDiscard.Persisted())
}

func TestTierStringRoundTrip(t *testing.T) {
	for _, tier := range []Tier{TierDiscard, TierP4Log, TierP2Review, TierP1Immediate} {
		assert.Equal(t, tier, ParseTier(tier.String()))
	}
	assert.Equal(t, TierDiscard, ParseTier("bogus"))
}
