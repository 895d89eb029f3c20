package camera

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/detector"
	"github.com/firesentinel/firesentinel-go/internal/events"
	"github.com/firesentinel/firesentinel-go/internal/observability/metrics"
)

// FrameHandler consumes frames from camera units. Implemented by the
// pipeline processor.
type FrameHandler interface {
	ProcessFrame(ctx context.Context, frame detector.Frame) error
}

// defaultWatchdogInterval is how often each unit checks for silent stalls.
const defaultWatchdogInterval = 5 * time.Second

// Supervisor runs one supervised unit per enabled camera. A crash or stall
// in one camera's pipeline never affects the others.
type Supervisor struct {
	settings conf.CameraSettings
	handler  FrameHandler
	factory  SourceFactory
	bus      *events.Bus
	store    datastore.Interface
	logger   *slog.Logger

	watchdogInterval time.Duration
	metrics          atomic.Pointer[metrics.CameraMetrics]

	mu     sync.Mutex
	units  map[string]*unit
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// unit is one camera's supervised pipeline.
type unit struct {
	cfg    conf.CameraConfig
	state  *stateHolder
	cancel context.CancelFunc

	connMu     sync.Mutex
	connCancel context.CancelFunc
}

// setConnCancel records the cancel func for the current connection attempt.
func (u *unit) setConnCancel(cancel context.CancelFunc) {
	u.connMu.Lock()
	u.connCancel = cancel
	u.connMu.Unlock()
}

// abortConnection tears down the current connection attempt so a blocked
// NextFrame returns and the reconnect loop takes over.
func (u *unit) abortConnection() {
	u.connMu.Lock()
	if u.connCancel != nil {
		u.connCancel()
	}
	u.connMu.Unlock()
}

// NewSupervisor creates a supervisor for the configured cameras.
func NewSupervisor(settings conf.CameraSettings, handler FrameHandler, factory SourceFactory, bus *events.Bus, store datastore.Interface, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		settings:         settings,
		handler:          handler,
		factory:          factory,
		bus:              bus,
		store:            store,
		logger:           logger,
		watchdogInterval: defaultWatchdogInterval,
		units:            make(map[string]*unit),
	}
}

// SetMetrics attaches camera metrics. Safe to call after Start.
func (s *Supervisor) SetMetrics(m *metrics.CameraMetrics) {
	s.metrics.Store(m)
}

// Start launches a goroutine per enabled camera.
func (s *Supervisor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	for _, cfg := range s.settings.Streams {
		if !cfg.Enabled {
			continue
		}
		s.startUnitLocked(runCtx, cfg)
	}
	s.mu.Unlock()
}

// startUnitLocked launches one camera unit. Caller holds s.mu.
func (s *Supervisor) startUnitLocked(ctx context.Context, cfg conf.CameraConfig) {
	unitCtx, cancel := context.WithCancel(ctx)
	u := &unit{
		cfg:    cfg,
		state:  newStateHolder(cfg.ID),
		cancel: cancel,
	}
	s.units[cfg.ID] = u

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runUnit(unitCtx, u)
	}()
}

// StopCamera cancels one camera's unit. In-flight alert creation for the
// camera is allowed to complete; only the capture loop stops.
func (s *Supervisor) StopCamera(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.units[id]; ok {
		u.cancel()
		delete(s.units, id)
	}
}

// Stop cancels every camera unit and waits for their goroutines.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// States returns a snapshot of every camera's state.
func (s *Supervisor) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]State, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u.state.snapshot())
	}
	return out
}

// CameraState returns one camera's state snapshot.
func (s *Supervisor) CameraState(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return State{}, false
	}
	return u.state.snapshot(), true
}

// runUnit is the per-camera supervision loop: connect, pump frames, detect
// stalls, reconnect with capped backoff.
func (s *Supervisor) runUnit(ctx context.Context, u *unit) {
	backoff := newBackoffStrategy(s.settings.ReconnectInitial, s.settings.ReconnectMax)
	log := s.logger.With("camera_id", u.cfg.ID)

	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		s.runWatchdog(ctx, u, log)
	}()
	defer func() { <-watchdogDone }()

	for {
		if ctx.Err() != nil {
			return
		}

		s.setStatus(ctx, u, StatusConnecting, log)
		source := s.factory(u.cfg)

		// Each connection attempt gets its own context so the watchdog can
		// tear down a silently stalled stream without stopping the unit.
		connCtx, connCancel := context.WithCancel(ctx)
		u.setConnCancel(connCancel)

		if err := source.Open(connCtx); err != nil {
			connCancel()
			u.setConnCancel(nil)
			failures := u.state.markFailure()
			log.Warn("camera connection failed",
				"consecutive_failures", failures,
				"error", err,
			)
			s.setStatus(ctx, u, StatusOffline, log)
			if !s.sleepOrDone(ctx, backoff.nextDelay()) {
				return
			}
			continue
		}

		backoff.reset()
		s.setStatus(ctx, u, StatusOnline, log)

		err := s.pumpFrames(connCtx, u, source, log)
		_ = source.Close()
		connCancel()
		u.setConnCancel(nil)
		if ctx.Err() != nil {
			return
		}

		// Stream error or watchdog-forced teardown: reconnect with backoff.
		u.state.markFailure()
		u.state.markRestart()
		if m := s.metrics.Load(); m != nil {
			m.IncrementRestarts(u.cfg.ID)
		}
		log.Warn("camera stream interrupted, reconnecting", "error", err)
		if status, _ := u.state.statusSince(); status != StatusOffline {
			s.setStatus(ctx, u, StatusDegraded, log)
		}
		if !s.sleepOrDone(ctx, backoff.nextDelay()) {
			return
		}
	}
}

// pumpFrames feeds frames to the handler until the stream fails or ctx is
// cancelled. Handler errors are transient: counted, never fatal.
func (s *Supervisor) pumpFrames(ctx context.Context, u *unit, source StreamSource, log *slog.Logger) error {
	for {
		frame, err := source.NextFrame(ctx)
		if err != nil {
			return err
		}

		u.state.markFrame(frame.Timestamp)
		if m := s.metrics.Load(); m != nil {
			m.IncrementFrames(u.cfg.ID)
		}

		// A degraded camera that delivers frames again has recovered.
		if status, _ := u.state.statusSince(); status == StatusDegraded {
			s.setStatus(ctx, u, StatusOnline, log)
		}

		if err := s.handler.ProcessFrame(ctx, frame); err != nil {
			failures := u.state.markFailure()
			log.Debug("frame processing failed",
				"consecutive_failures", failures,
				"error", err,
			)
		}
	}
}

// runWatchdog forces ONLINE -> DEGRADED when frames stop arriving without
// an explicit stream error, and DEGRADED -> OFFLINE when the stall
// persists past the offline timeout.
func (s *Supervisor) runWatchdog(ctx context.Context, u *unit, log *slog.Logger) {
	ticker := time.NewTicker(s.watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			status, since := u.state.statusSince()
			lastFrame := u.state.lastFrameAt()

			switch status {
			case StatusOnline:
				if !lastFrame.IsZero() && time.Since(lastFrame) > s.settings.StaleFrameTimeout {
					log.Warn("camera stream stale, no frames received",
						"last_frame_at", lastFrame,
					)
					s.setStatus(ctx, u, StatusDegraded, log)
				}
			case StatusDegraded:
				if time.Since(since) > s.settings.OfflineTimeout {
					s.setStatus(ctx, u, StatusOffline, log)
					// The stream is dead but NextFrame may still be blocked
					// inside it. Cancel the connection so the reconnect loop
					// runs; OFFLINE then retries periodically via backoff.
					u.abortConnection()
				}
			}
		}
	}
}

// setStatus transitions the unit's state machine, emitting exactly one
// camera_status_changed event per transition.
func (s *Supervisor) setStatus(ctx context.Context, u *unit, to ConnectionStatus, log *slog.Logger) {
	from, changed := u.state.transition(to)
	if !changed {
		return
	}

	log.Info("camera status changed", "from", string(from), "to", string(to))

	if m := s.metrics.Load(); m != nil {
		m.RecordTransition(u.cfg.ID, string(to))
		m.SetOnlineCount(s.onlineCount())
	}

	if s.bus != nil {
		s.bus.Publish(events.Event{
			Kind:     events.KindCameraStatusChanged,
			CameraID: u.cfg.ID,
			OldState: string(from),
			NewState: string(to),
		})
	}

	if s.store != nil {
		if err := s.store.SaveSystemEvent(ctx, &datastore.SystemEvent{
			Kind:     string(events.KindCameraStatusChanged),
			CameraID: u.cfg.ID,
			Message:  string(from) + " -> " + string(to),
		}); err != nil {
			log.Error("failed to record camera status event", "error", err)
		}
	}
}

func (s *Supervisor) onlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, u := range s.units {
		if status, _ := u.state.statusSince(); status == StatusOnline {
			count++
		}
	}
	return count
}

func (s *Supervisor) sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
