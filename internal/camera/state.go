// Package camera supervises per-camera stream pipelines: connection
// lifecycle, decode cadence, silent-stall detection, and reconnect with
// capped backoff. Each camera is an isolated failure domain.
package camera

import (
	"sync"
	"time"
)

// ConnectionStatus is the camera state machine's current state.
type ConnectionStatus string

const (
	StatusConnecting ConnectionStatus = "CONNECTING"
	StatusOnline     ConnectionStatus = "ONLINE"
	StatusDegraded   ConnectionStatus = "DEGRADED"
	StatusOffline    ConnectionStatus = "OFFLINE"
)

// State is the externally visible snapshot of one camera. Owned and
// mutated only by the camera's supervision goroutine; everyone else reads
// copies.
type State struct {
	ID                  string           `json:"id"`
	ConnectionStatus    ConnectionStatus `json:"connection_status"`
	LastFrameAt         time.Time        `json:"last_frame_at"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	RestartCount        int              `json:"restart_count"`
	Since               time.Time        `json:"since"` // when the current status was entered
}

// stateHolder guards one camera's state for concurrent readers.
type stateHolder struct {
	mu    sync.RWMutex
	state State
}

func newStateHolder(id string) *stateHolder {
	return &stateHolder{
		state: State{
			ID:               id,
			ConnectionStatus: StatusConnecting,
			Since:            time.Now(),
		},
	}
}

func (h *stateHolder) snapshot() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// transition moves to a new status and reports whether the status actually
// changed, so callers emit exactly one event per transition.
func (h *stateHolder) transition(to ConnectionStatus) (from ConnectionStatus, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from = h.state.ConnectionStatus
	if from == to {
		return from, false
	}
	h.state.ConnectionStatus = to
	h.state.Since = time.Now()
	return from, true
}

func (h *stateHolder) markFrame(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.LastFrameAt = at
	h.state.ConsecutiveFailures = 0
}

func (h *stateHolder) markFailure() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.ConsecutiveFailures++
	return h.state.ConsecutiveFailures
}

func (h *stateHolder) markRestart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.RestartCount++
}

func (h *stateHolder) lastFrameAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.LastFrameAt
}

func (h *stateHolder) statusSince() (ConnectionStatus, time.Time) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state.ConnectionStatus, h.state.Since
}

// backoffStrategy implements capped exponential backoff for reconnects.
type backoffStrategy struct {
	attempt      int
	initialDelay time.Duration
	maxDelay     time.Duration
}

func newBackoffStrategy(initialDelay, maxDelay time.Duration) *backoffStrategy {
	return &backoffStrategy{initialDelay: initialDelay, maxDelay: maxDelay}
}

// nextDelay returns the next reconnect delay.
func (b *backoffStrategy) nextDelay() time.Duration {
	delay := b.initialDelay * time.Duration(1<<uint(b.attempt))
	if delay > b.maxDelay || delay <= 0 {
		delay = b.maxDelay
	} else {
		b.attempt++
	}
	return delay
}

// reset restarts the schedule after a successful connection.
func (b *backoffStrategy) reset() {
	b.attempt = 0
}
