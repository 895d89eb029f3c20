// Package monitor provides system resource monitoring with threshold-based
// system status events.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/events"
	"github.com/firesentinel/firesentinel-go/internal/logging"
)

// ResourceType identifies a monitored system resource.
type ResourceType string

const (
	ResourceCPU    ResourceType = "cpu"
	ResourceMemory ResourceType = "memory"
	ResourceDisk   ResourceType = "disk"
)

const (
	defaultCheckInterval = 30 * time.Second
	// hysteresisPercent keeps a resource in warning state until usage drops
	// this far below the threshold, so values hovering at the threshold do
	// not flap between warning and recovery events.
	hysteresisPercent = 5.0
)

// alertState tracks the warning state of a single resource.
type alertState struct {
	inWarning bool
	lastValue float64
	lastCheck time.Time
}

// resourceProbe abstracts the gopsutil readings for tests.
type resourceProbe interface {
	cpuPercent() (float64, error)
	memoryPercent() (float64, error)
	diskPercent(path string) (float64, error)
}

type gopsutilProbe struct{}

func (gopsutilProbe) cpuPercent() (float64, error) {
	// Zero interval gives an instant reading without blocking the loop.
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, err
	}
	if len(percents) == 0 {
		return 0, fmt.Errorf("no cpu usage data available")
	}
	return percents[0], nil
}

func (gopsutilProbe) memoryPercent() (float64, error) {
	info, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}

func (gopsutilProbe) diskPercent(path string) (float64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.UsedPercent, nil
}

// SystemMonitor watches CPU, memory, and disk usage and raises a system
// status event once per threshold crossing.
type SystemMonitor struct {
	settings *conf.Settings
	interval time.Duration
	diskPath string
	bus      *events.Bus
	store    datastore.Interface
	probe    resourceProbe

	mu     sync.Mutex
	states map[ResourceType]*alertState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewSystemMonitor creates a system monitor. The store may be nil, in which
// case events are only published on the bus.
func NewSystemMonitor(settings *conf.Settings, bus *events.Bus, store datastore.Interface) *SystemMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	interval := settings.Monitor.Interval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	// Watch the filesystem holding the alert database when sqlite is the
	// backend, the root filesystem otherwise.
	diskPath := "/"
	if settings.Output.SQLite.Enabled && settings.Output.SQLite.Path != "" {
		diskPath = filepath.Dir(settings.Output.SQLite.Path)
	}

	logger := logging.ForService("monitor")
	if logger == nil {
		logger = slog.Default().With("service", "monitor")
	}

	return &SystemMonitor{
		settings: settings,
		interval: interval,
		diskPath: diskPath,
		bus:      bus,
		store:    store,
		probe:    gopsutilProbe{},
		states:   make(map[ResourceType]*alertState),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start begins the monitoring loop. It is a no-op when monitoring is
// disabled in configuration.
func (m *SystemMonitor) Start() {
	if !m.settings.Monitor.Enabled {
		m.logger.Info("system monitoring disabled")
		return
	}

	m.logger.Info("starting system resource monitoring",
		"interval", m.interval,
		"cpu_warning", m.settings.Monitor.CPUWarning,
		"memory_warning", m.settings.Monitor.MemoryWarning,
		"disk_warning", m.settings.Monitor.DiskWarning,
		"disk_path", m.diskPath)

	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop stops the monitoring loop and waits for it to finish.
func (m *SystemMonitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *SystemMonitor) monitorLoop() {
	defer m.wg.Done()

	m.checkAllResources()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAllResources()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *SystemMonitor) checkAllResources() {
	if usage, err := m.probe.cpuPercent(); err != nil {
		m.logger.Error("failed to read cpu usage", "error", err)
	} else {
		m.checkThreshold(ResourceCPU, usage, m.settings.Monitor.CPUWarning)
	}

	if usage, err := m.probe.memoryPercent(); err != nil {
		m.logger.Error("failed to read memory usage", "error", err)
	} else {
		m.checkThreshold(ResourceMemory, usage, m.settings.Monitor.MemoryWarning)
	}

	if usage, err := m.probe.diskPercent(m.diskPath); err != nil {
		m.logger.Error("failed to read disk usage", "error", err, "path", m.diskPath)
	} else {
		m.checkThreshold(ResourceDisk, usage, m.settings.Monitor.DiskWarning)
	}
}

// checkThreshold raises exactly one warning event when usage crosses the
// threshold and one recovery event when it drops back below it minus the
// hysteresis band.
func (m *SystemMonitor) checkThreshold(resource ResourceType, current, threshold float64) {
	if threshold <= 0 {
		return
	}

	m.mu.Lock()
	state, ok := m.states[resource]
	if !ok {
		state = &alertState{}
		m.states[resource] = state
	}
	state.lastValue = current
	state.lastCheck = time.Now()

	var emit string
	switch {
	case current >= threshold && !state.inWarning:
		state.inWarning = true
		emit = "warning"
	case state.inWarning && current < threshold-hysteresisPercent:
		state.inWarning = false
		emit = "recovery"
	}
	m.mu.Unlock()

	if emit == "" {
		return
	}

	message := fmt.Sprintf("%s usage %.1f%% exceeded warning threshold %.1f%%", resource, current, threshold)
	if emit == "recovery" {
		message = fmt.Sprintf("%s usage recovered to %.1f%%", resource, current)
		m.logger.Info("resource usage recovered", "resource", string(resource), "current", current)
	} else {
		m.logger.Warn("resource warning threshold exceeded",
			"resource", string(resource), "current", current, "threshold", threshold)
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Kind:      events.KindSystemStatus,
			Timestamp: time.Now(),
			Message:   message,
			Metadata: map[string]any{
				"resource":  string(resource),
				"usage":     current,
				"threshold": threshold,
				"severity":  emit,
			},
		})
	}

	if m.store != nil {
		event := &datastore.SystemEvent{
			Kind:    string(events.KindSystemStatus),
			Message: message,
			Details: fmt.Sprintf("resource=%s usage=%.1f threshold=%.1f severity=%s", resource, current, threshold, emit),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.store.SaveSystemEvent(ctx, event); err != nil {
			m.logger.Error("failed to persist system event", "error", err)
		}
	}
}

// ResourceStatus describes the last reading for a monitored resource.
type ResourceStatus struct {
	Resource  string    `json:"resource"`
	Usage     float64   `json:"usage"`
	InWarning bool      `json:"in_warning"`
	LastCheck time.Time `json:"last_check"`
}

// Status returns the current state of all monitored resources.
func (m *SystemMonitor) Status() []ResourceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]ResourceStatus, 0, len(m.states))
	for resource, state := range m.states {
		statuses = append(statuses, ResourceStatus{
			Resource:  string(resource),
			Usage:     state.lastValue,
			InWarning: state.inWarning,
			LastCheck: state.lastCheck,
		})
	}
	return statuses
}

// TriggerCheck runs one resource check pass immediately.
func (m *SystemMonitor) TriggerCheck() {
	m.checkAllResources()
}
