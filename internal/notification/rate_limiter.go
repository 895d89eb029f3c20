package notification

import (
	"sync"
	"time"
)

// PushRateLimiter is a token bucket bounding the rate of outbound requests
// toward external providers, independent of the per-tier alert caps applied
// earlier in the pipeline.
type PushRateLimiter struct {
	rate       int           // tokens per interval
	interval   time.Duration // refill window
	tokens     int
	maxTokens  int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewPushRateLimiter creates a token bucket with the given refill rate per
// minute and burst capacity.
func NewPushRateLimiter(requestsPerMinute, burstSize int) *PushRateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burstSize <= 0 {
		burstSize = 10
	}
	return &PushRateLimiter{
		rate:       requestsPerMinute,
		interval:   time.Minute,
		tokens:     burstSize,
		maxTokens:  burstSize,
		lastRefill: time.Now(),
	}
}

// Allow reports whether a request may proceed, consuming a token when it
// does.
func (rl *PushRateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed >= rl.interval {
		periods := int(elapsed / rl.interval)
		rl.tokens = min(rl.maxTokens, rl.tokens+periods*rl.rate)
		rl.lastRefill = now
	} else {
		tokensToAdd := int(float64(rl.rate) * (elapsed.Seconds() / rl.interval.Seconds()))
		if tokensToAdd > 0 {
			rl.tokens = min(rl.maxTokens, rl.tokens+tokensToAdd)
			rl.lastRefill = now
		}
	}

	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// AvailableTokens returns the current token count.
func (rl *PushRateLimiter) AvailableTokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.tokens
}
