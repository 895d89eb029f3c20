package processor

import (
	"sync"
	"time"
)

// rateKey identifies one (camera, tier) counter pair.
type rateKey struct {
	cameraID string
	tier     string
}

// rateWindow holds the rolling hourly and daily timestamps for one key.
type rateWindow struct {
	hourly  []time.Time
	daily   []time.Time
	engaged bool // whether the cap is currently breached, for once-per-breach events
}

// RateLimiter enforces per (camera, tier) hourly and daily alert caps.
// When a cap is reached further detections are still recorded but dispatch
// is suppressed, and the breach is reported exactly once until the window
// frees up again.
type RateLimiter struct {
	mu        sync.Mutex
	hourlyMax int
	dailyMax  int
	windows   map[rateKey]*rateWindow
}

// NewRateLimiter creates a limiter with the given caps.
func NewRateLimiter(hourlyMax, dailyMax int) *RateLimiter {
	return &RateLimiter{
		hourlyMax: hourlyMax,
		dailyMax:  dailyMax,
		windows:   make(map[rateKey]*rateWindow),
	}
}

// SetLimits updates the caps on config reload.
func (rl *RateLimiter) SetLimits(hourlyMax, dailyMax int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.hourlyMax = hourlyMax
	rl.dailyMax = dailyMax
}

// Decision is the limiter's verdict for one detection.
type Decision struct {
	// Allowed means dispatch may proceed. When false the alert is still
	// persisted but delivery is suppressed.
	Allowed bool
	// FirstBreach is true on the detection that crossed the cap, so the
	// caller can emit exactly one rate_limit_engaged event per breach.
	FirstBreach bool
}

// Check records a detection against the (camera, tier) windows and returns
// whether dispatch is allowed.
func (rl *RateLimiter) Check(cameraID, tier string, now time.Time) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := rateKey{cameraID: cameraID, tier: tier}
	window, exists := rl.windows[key]
	if !exists {
		window = &rateWindow{}
		rl.windows[key] = window
	}

	window.hourly = prune(window.hourly, now.Add(-time.Hour))
	window.daily = prune(window.daily, now.Add(-24*time.Hour))

	if len(window.hourly) >= rl.hourlyMax || len(window.daily) >= rl.dailyMax {
		firstBreach := !window.engaged
		window.engaged = true
		return Decision{Allowed: false, FirstBreach: firstBreach}
	}

	window.engaged = false
	window.hourly = append(window.hourly, now)
	window.daily = append(window.daily, now)
	return Decision{Allowed: true}
}

// prune removes timestamps at or before cutoff. Slices are append-ordered
// so the first retained index bounds the copy.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(times) && !times[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return times
	}
	return append(times[:0], times[idx:]...)
}
