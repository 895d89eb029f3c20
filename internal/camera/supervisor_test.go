package camera

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/detector"
	"github.com/firesentinel/firesentinel-go/internal/events"
)

// fakeSource scripts a camera stream for supervisor tests.
type fakeSource struct {
	id        string
	openErrs  int // fail the first N opens
	frames    chan detector.Frame
	streamErr chan error

	mu    sync.Mutex
	opens int
}

func newFakeSource(id string) *fakeSource {
	return &fakeSource{
		id:        id,
		frames:    make(chan detector.Frame, 16),
		streamErr: make(chan error, 1),
	}
}

func (f *fakeSource) Open(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.opens <= f.openErrs {
		return fmt.Errorf("connection refused")
	}
	return nil
}

func (f *fakeSource) NextFrame(ctx context.Context) (detector.Frame, error) {
	select {
	case frame := <-f.frames:
		return frame, nil
	case err := <-f.streamErr:
		return detector.Frame{}, err
	case <-ctx.Done():
		return detector.Frame{}, ctx.Err()
	}
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) emit() {
	f.frames <- detector.Frame{CameraID: f.id, Timestamp: time.Now()}
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

// countingHandler records processed frames.
type countingHandler struct {
	mu     sync.Mutex
	frames []detector.Frame
	err    error
}

func (h *countingHandler) ProcessFrame(_ context.Context, frame detector.Frame) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, frame)
	return h.err
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func (h *countingHandler) setErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.err = err
}

func testCameraSettings(streams ...conf.CameraConfig) conf.CameraSettings {
	return conf.CameraSettings{
		StaleFrameTimeout: 100 * time.Millisecond,
		OfflineTimeout:    200 * time.Millisecond,
		ReconnectInitial:  10 * time.Millisecond,
		ReconnectMax:      50 * time.Millisecond,
		Streams:           streams,
	}
}

func cameraConfig(id string) conf.CameraConfig {
	return conf.CameraConfig{ID: id, URL: "rtsp://example/" + id, Enabled: true}
}

type supervisorFixture struct {
	supervisor *Supervisor
	handler    *countingHandler
	bus        *events.Bus
	eventCh    <-chan events.Event
	sources    map[string]*fakeSource
}

func newFixture(t *testing.T, settings conf.CameraSettings, sources map[string]*fakeSource) *supervisorFixture {
	t.Helper()

	handler := &countingHandler{}
	bus := events.NewBus(nil)
	t.Cleanup(bus.Shutdown)
	eventCh, _ := bus.Subscribe(256)

	factory := func(cfg conf.CameraConfig) StreamSource {
		return sources[cfg.ID]
	}

	s := NewSupervisor(settings, handler, factory, bus, nil, nil)
	s.watchdogInterval = 20 * time.Millisecond

	s.Start(context.Background())
	t.Cleanup(s.Stop)

	return &supervisorFixture{supervisor: s, handler: handler, bus: bus, eventCh: eventCh, sources: sources}
}

func (fx *supervisorFixture) waitForStatus(t *testing.T, id string, want ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		state, ok := fx.supervisor.CameraState(id)
		return ok && state.ConnectionStatus == want
	}, 5*time.Second, 5*time.Millisecond, "camera %s never reached %s", id, want)
}

func (fx *supervisorFixture) statusEvents(id string) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-fx.eventCh:
			if ev.Kind == events.KindCameraStatusChanged && ev.CameraID == id {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func TestSupervisorConnectsAndPumpsFrames(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)

	source.emit()
	source.emit()
	require.Eventually(t, func() bool {
		return fx.handler.count() == 2
	}, 2*time.Second, 5*time.Millisecond)

	state, ok := fx.supervisor.CameraState("CAM_001")
	require.True(t, ok)
	assert.False(t, state.LastFrameAt.IsZero())
	assert.Zero(t, state.ConsecutiveFailures)
}

func TestSupervisorStaleStreamDegradesOnce(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	source.emit()

	// No further frames: the watchdog must force ONLINE -> DEGRADED.
	fx.waitForStatus(t, "CAM_001", StatusDegraded)

	// Let several watchdog ticks pass while still stale.
	time.Sleep(100 * time.Millisecond)

	degraded := 0
	for _, ev := range fx.statusEvents("CAM_001") {
		if ev.NewState == string(StatusDegraded) {
			degraded++
		}
	}
	assert.Equal(t, 1, degraded, "one transition, not one event per missed frame")
}

func TestSupervisorRecoversFromDegraded(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	source.emit()
	fx.waitForStatus(t, "CAM_001", StatusDegraded)

	// Frames resume: DEGRADED -> ONLINE.
	source.emit()
	fx.waitForStatus(t, "CAM_001", StatusOnline)
}

func TestSupervisorReconnectsAfterStreamError(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	source.streamErr <- fmt.Errorf("connection reset")

	require.Eventually(t, func() bool {
		return source.openCount() >= 2
	}, 2*time.Second, 5*time.Millisecond, "supervisor must reopen the stream")

	fx.waitForStatus(t, "CAM_001", StatusOnline)

	state, _ := fx.supervisor.CameraState("CAM_001")
	assert.GreaterOrEqual(t, state.RestartCount, 1)
}

func TestSupervisorReconnectsAfterSilentStall(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	source.emit()

	// The stream goes silent without an error: ONLINE -> DEGRADED -> OFFLINE.
	fx.waitForStatus(t, "CAM_001", StatusDegraded)
	fx.waitForStatus(t, "CAM_001", StatusOffline)

	// The watchdog must tear the dead connection down so the
	// reconnect loop can retry instead of blocking forever.
	require.Eventually(t, func() bool {
		return source.openCount() >= 2
	}, 2*time.Second, 5*time.Millisecond, "supervisor must reopen a stalled stream")

	require.Eventually(t, func() bool {
		source.emit()
		state, ok := fx.supervisor.CameraState("CAM_001")
		return ok && state.ConnectionStatus == StatusOnline
	}, 2*time.Second, 10*time.Millisecond, "camera must come back online once frames resume")
}

func TestSupervisorRetriesFailedConnection(t *testing.T) {
	source := newFakeSource("CAM_001")
	source.openErrs = 3
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})

	// Eventually connects after the scripted failures.
	fx.waitForStatus(t, "CAM_001", StatusOnline)
	assert.GreaterOrEqual(t, source.openCount(), 4)
}

func TestSupervisorCameraIsolation(t *testing.T) {
	good := newFakeSource("CAM_001")
	bad := newFakeSource("CAM_002")
	bad.openErrs = 1000000

	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001"), cameraConfig("CAM_002")),
		map[string]*fakeSource{"CAM_001": good, "CAM_002": bad})

	// CAM_002 flapping must not keep CAM_001 from working.
	fx.waitForStatus(t, "CAM_001", StatusOnline)
	fx.waitForStatus(t, "CAM_002", StatusOffline)

	good.emit()
	require.Eventually(t, func() bool {
		return fx.handler.count() == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisorDisabledCameraNotStarted(t *testing.T) {
	disabled := cameraConfig("CAM_002")
	disabled.Enabled = false

	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001"), disabled),
		map[string]*fakeSource{"CAM_001": source})

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	_, ok := fx.supervisor.CameraState("CAM_002")
	assert.False(t, ok)
	assert.Len(t, fx.supervisor.States(), 1)
}

func TestSupervisorHandlerErrorsAreTransient(t *testing.T) {
	source := newFakeSource("CAM_001")
	fx := newFixture(t, testCameraSettings(cameraConfig("CAM_001")), map[string]*fakeSource{"CAM_001": source})
	fx.handler.setErr(fmt.Errorf("detector timeout"))

	fx.waitForStatus(t, "CAM_001", StatusOnline)
	source.emit()

	require.Eventually(t, func() bool {
		state, _ := fx.supervisor.CameraState("CAM_001")
		return state.ConsecutiveFailures >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// Still online: a failed frame is not a stream failure.
	state, _ := fx.supervisor.CameraState("CAM_001")
	assert.Equal(t, StatusOnline, state.ConnectionStatus)
}

func TestBoundedBufferKeepsRecentOutput(t *testing.T) {
	buf := NewBoundedBuffer(8)
	_, err := buf.Write([]byte("abcdefgh"))
	require.NoError(t, err)
	_, err = buf.Write([]byte("XY"))
	require.NoError(t, err)
	assert.Equal(t, "XY", buf.String(), "overflow resets to the newest data")

	big := NewBoundedBuffer(4)
	_, err = big.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, "6789", big.String())
}

func TestBackoffStrategyCapped(t *testing.T) {
	b := newBackoffStrategy(10*time.Millisecond, 80*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.nextDelay())
	assert.Equal(t, 20*time.Millisecond, b.nextDelay())
	assert.Equal(t, 40*time.Millisecond, b.nextDelay())
	assert.Equal(t, 80*time.Millisecond, b.nextDelay())
	assert.Equal(t, 80*time.Millisecond, b.nextDelay(), "stays at cap")

	b.reset()
	assert.Equal(t, 10*time.Millisecond, b.nextDelay())
}
