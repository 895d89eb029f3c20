package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/events"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProbe returns fixed resource readings.
type fakeProbe struct {
	mu   sync.Mutex
	cpu  float64
	mem  float64
	disk float64
}

func (p *fakeProbe) set(cpu, mem, disk float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cpu, p.mem, p.disk = cpu, mem, disk
}

func (p *fakeProbe) cpuPercent() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cpu, nil
}

func (p *fakeProbe) memoryPercent() (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mem, nil
}

func (p *fakeProbe) diskPercent(string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disk, nil
}

// eventStore records saved system events and cleanup calls.
type eventStore struct {
	mu           sync.Mutex
	systemEvents []datastore.SystemEvent
	cleanupCalls int
}

func (s *eventStore) Open() error  { return nil }
func (s *eventStore) Close() error { return nil }
func (s *eventStore) Create(context.Context, *datastore.AlertRecord) error {
	return nil
}
func (s *eventStore) Get(context.Context, string) (*datastore.AlertRecord, error) {
	return nil, nil
}
func (s *eventStore) Update(context.Context, *datastore.AlertRecord) error { return nil }
func (s *eventStore) Acknowledge(context.Context, string, string) (datastore.AckOutcome, error) {
	return datastore.AckApplied, nil
}
func (s *eventStore) MarkFalsePositive(context.Context, string, bool) error { return nil }
func (s *eventStore) ListRecent(context.Context, int, datastore.AlertFilter) ([]datastore.AlertRecord, error) {
	return nil, nil
}
func (s *eventStore) Statistics(context.Context, time.Duration) (*datastore.Statistics, error) {
	return &datastore.Statistics{}, nil
}

func (s *eventStore) SaveSystemEvent(_ context.Context, event *datastore.SystemEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systemEvents = append(s.systemEvents, *event)
	return nil
}

func (s *eventStore) ListSystemEvents(context.Context, int, string) ([]datastore.SystemEvent, error) {
	return nil, nil
}

func (s *eventStore) Cleanup(context.Context, time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanupCalls++
	return 2, nil
}

func (s *eventStore) savedEvents() []datastore.SystemEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datastore.SystemEvent, len(s.systemEvents))
	copy(out, s.systemEvents)
	return out
}

func (s *eventStore) cleanups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupCalls
}

func monitorSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Monitor.Enabled = true
	settings.Monitor.CPUWarning = 85
	settings.Monitor.MemoryWarning = 85
	settings.Monitor.DiskWarning = 90
	return settings
}

func newTestMonitor(t *testing.T) (*SystemMonitor, *fakeProbe, *eventStore, <-chan events.Event) {
	t.Helper()

	bus := events.NewBus(nil)
	t.Cleanup(bus.Shutdown)

	ch, _ := bus.Subscribe(64)
	probe := &fakeProbe{cpu: 10, mem: 10, disk: 10}
	store := &eventStore{}

	m := NewSystemMonitor(monitorSettings(), bus, store)
	m.probe = probe
	t.Cleanup(m.Stop)

	return m, probe, store, ch
}

func drainStatusEvents(ch <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-ch:
			if ev.Kind == events.KindSystemStatus {
				out = append(out, ev)
			}
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestMonitorWarningEmittedOnce(t *testing.T) {
	m, probe, store, ch := newTestMonitor(t)

	probe.set(95, 10, 10)
	m.TriggerCheck()
	m.TriggerCheck()
	m.TriggerCheck()

	got := drainStatusEvents(ch)
	require.Len(t, got, 1)
	assert.Equal(t, "cpu", got[0].Metadata["resource"])
	assert.Equal(t, "warning", got[0].Metadata["severity"])

	saved := store.savedEvents()
	require.Len(t, saved, 1)
	assert.Contains(t, saved[0].Message, "cpu usage")
}

func TestMonitorRecoveryAfterHysteresis(t *testing.T) {
	m, probe, _, ch := newTestMonitor(t)

	probe.set(10, 95, 10)
	m.TriggerCheck()

	// Still inside the hysteresis band, no recovery yet.
	probe.set(10, 83, 10)
	m.TriggerCheck()

	got := drainStatusEvents(ch)
	require.Len(t, got, 1)

	probe.set(10, 70, 10)
	m.TriggerCheck()

	got = drainStatusEvents(ch)
	require.Len(t, got, 1)
	assert.Equal(t, "memory", got[0].Metadata["resource"])
	assert.Equal(t, "recovery", got[0].Metadata["severity"])
}

func TestMonitorMultipleResources(t *testing.T) {
	m, probe, _, ch := newTestMonitor(t)

	probe.set(95, 10, 99)
	m.TriggerCheck()

	got := drainStatusEvents(ch)
	require.Len(t, got, 2)

	resources := map[string]bool{}
	for _, ev := range got {
		resources[ev.Metadata["resource"].(string)] = true
	}
	assert.True(t, resources["cpu"])
	assert.True(t, resources["disk"])
}

func TestMonitorStatus(t *testing.T) {
	m, probe, _, _ := newTestMonitor(t)

	probe.set(95, 20, 30)
	m.TriggerCheck()

	statuses := m.Status()
	require.Len(t, statuses, 3)

	byResource := map[string]ResourceStatus{}
	for _, s := range statuses {
		byResource[s.Resource] = s
	}
	assert.True(t, byResource["cpu"].InWarning)
	assert.False(t, byResource["memory"].InWarning)
	assert.InDelta(t, 95, byResource["cpu"].Usage, 0.01)
}

func TestMonitorDisabledDoesNotStart(t *testing.T) {
	settings := monitorSettings()
	settings.Monitor.Enabled = false

	m := NewSystemMonitor(settings, nil, nil)
	m.Start()
	m.Stop()
}

func TestRetentionWorkerRunsCleanup(t *testing.T) {
	settings := &conf.Settings{}
	settings.Retention.Enabled = true
	settings.Retention.MaxAge = time.Hour
	settings.Retention.Interval = 10 * time.Millisecond

	store := &eventStore{}
	w := NewRetentionWorker(settings, store)
	w.Start()

	require.Eventually(t, func() bool {
		return store.cleanups() >= 2
	}, time.Second, 5*time.Millisecond)

	w.Stop()
}

func TestRetentionWorkerDisabled(t *testing.T) {
	settings := &conf.Settings{}
	settings.Retention.Enabled = false

	store := &eventStore{}
	w := NewRetentionWorker(settings, store)
	w.Start()
	w.Stop()

	assert.Zero(t, store.cleanups())
}
