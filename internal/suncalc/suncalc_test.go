package suncalc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSunEventTimesOrdering(t *testing.T) {
	// Mid-latitude site, mid-summer date: all events exist.
	sc := NewSunCalc(37.7749, -122.4194)
	date := time.Date(2025, 6, 21, 0, 0, 0, 0, time.UTC)

	times, err := sc.GetSunEventTimes(date)
	require.NoError(t, err)

	assert.True(t, times.Sunrise.Before(times.Sunset), "sunrise must precede sunset")
	assert.True(t, times.Sunset.Before(times.CivilDusk), "sunset must precede civil dusk")
}

func TestGetSunEventTimesCaching(t *testing.T) {
	sc := NewSunCalc(60.1699, 24.9384)
	date := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	first, err := sc.GetSunEventTimes(date)
	require.NoError(t, err)

	second, err := sc.GetSunEventTimes(date)
	require.NoError(t, err)

	assert.Equal(t, first, second)

	sc.lock.RLock()
	assert.Len(t, sc.cache, 1)
	sc.lock.RUnlock()
}
