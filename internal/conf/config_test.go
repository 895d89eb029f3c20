package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validTestSettings returns a Settings struct that passes full validation.
func validTestSettings() *Settings {
	s := &Settings{}
	s.Detection.Thresholds = ThresholdConfig{
		ImmediateAlert: 0.95,
		ReviewQueue:    0.85,
		LogOnly:        0.70,
		MinGap:         0.05,
	}
	s.Detection.Environmental = EnvironmentalSettings{
		FogAdjustment:    -0.05,
		SunsetStartHour:  17,
		SunsetEndHour:    19,
		SunsetAdjustment: 0.03,
	}
	s.Detection.Dedup.Cooldown = 30 * time.Second
	s.Detection.RateLimit = RateLimitSettings{HourlyMax: 10, DailyMax: 50}
	s.Detection.Detector = DetectorSettings{
		Endpoint: "http://127.0.0.1:8585/v1/score",
		Timeout:  2 * time.Second,
	}
	s.Camera.StaleFrameTimeout = time.Minute
	s.Camera.OfflineTimeout = 5 * time.Minute
	s.Camera.ReconnectInitial = 5 * time.Second
	s.Camera.ReconnectMax = 2 * time.Minute
	s.Notification.MaxRetries = 5
	s.Notification.Multiplier = 2.0
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "alerts.db"
	return s
}

func TestThresholdConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  ThresholdConfig
		wantErr bool
	}{
		{
			name:   "valid ordered cut points",
			config: ThresholdConfig{ImmediateAlert: 0.95, ReviewQueue: 0.85, LogOnly: 0.70, MinGap: 0.05},
		},
		{
			name:    "cut point above one",
			config:  ThresholdConfig{ImmediateAlert: 1.2, ReviewQueue: 0.85, LogOnly: 0.70, MinGap: 0.05},
			wantErr: true,
		},
		{
			name:    "cut point at zero",
			config:  ThresholdConfig{ImmediateAlert: 0.95, ReviewQueue: 0.85, LogOnly: 0, MinGap: 0.05},
			wantErr: true,
		},
		{
			name:    "negative min gap",
			config:  ThresholdConfig{ImmediateAlert: 0.95, ReviewQueue: 0.85, LogOnly: 0.70, MinGap: -0.01},
			wantErr: true,
		},
		{
			name:    "upper gap too small",
			config:  ThresholdConfig{ImmediateAlert: 0.88, ReviewQueue: 0.85, LogOnly: 0.70, MinGap: 0.05},
			wantErr: true,
		},
		{
			name:    "lower gap too small",
			config:  ThresholdConfig{ImmediateAlert: 0.95, ReviewQueue: 0.85, LogOnly: 0.82, MinGap: 0.05},
			wantErr: true,
		},
		{
			name:   "exact min gap accepted",
			config: ThresholdConfig{ImmediateAlert: 0.90, ReviewQueue: 0.85, LogOnly: 0.80, MinGap: 0.05},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSettingsCollectsAllProblems(t *testing.T) {
	s := validTestSettings()
	s.Detection.Thresholds.ImmediateAlert = 1.5
	s.Detection.RateLimit.HourlyMax = 0
	s.Camera.StaleFrameTimeout = 0
	s.Output.SQLite.Enabled = false
	s.Detection.Detector.Endpoint = "ftp://inference.local"

	err := ValidateSettings(s)
	require.Error(t, err)

	ve, ok := err.(ValidationErrors)
	require.True(t, ok, "expected aggregated validation errors, got %T", err)
	assert.GreaterOrEqual(t, len(ve.Errors), 4)
}

func TestValidateSettingsCameraStreams(t *testing.T) {
	s := validTestSettings()
	s.Camera.Streams = []CameraConfig{
		{ID: "CAM_001", URL: "rtsp://host/stream", Transport: "tcp", Enabled: true},
		{ID: "CAM_001", URL: "rtsp://host/stream2", Enabled: true},
	}
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate camera id")

	s.Camera.Streams = []CameraConfig{
		{ID: "CAM_001", URL: "http://host/stream", Enabled: true},
	}
	err = ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rtsp url")

	// Disabled streams are not held to the URL requirement.
	s.Camera.Streams = []CameraConfig{
		{ID: "CAM_001", URL: "", Enabled: false},
	}
	assert.NoError(t, ValidateSettings(s))
}

func TestValidateSettingsProviderTiers(t *testing.T) {
	s := validTestSettings()
	s.Notification.Providers = []ProviderConfig{
		{Name: "ops", Type: "shoutrrr", Enabled: true, URLs: []string{"discord://token@channel"}, Tiers: []string{"P4"}},
	}
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not dispatchable")
}

// setupViperConfig points the global viper at a throwaway config file so
// threshold updates can persist without touching the real config.
func setupViperConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	setDefaultConfig()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfigYAML), 0o644))
	viper.SetConfigFile(path)
	require.NoError(t, viper.ReadInConfig())

	t.Cleanup(func() { viper.Reset() })
}

func TestUpdateThreshold(t *testing.T) {
	setupViperConfig(t)

	settingsMutex.Lock()
	previous := settingsInstance
	settingsInstance = validTestSettings()
	settingsMutex.Unlock()
	t.Cleanup(func() {
		settingsMutex.Lock()
		settingsInstance = previous
		settingsMutex.Unlock()
	})

	updated, err := UpdateThreshold("review_queue", 0.88)
	require.NoError(t, err)
	assert.InDelta(t, 0.88, updated.Detection.Thresholds.ReviewQueue, 1e-9)
	assert.InDelta(t, 0.95, updated.Detection.Thresholds.ImmediateAlert, 1e-9)

	// The active instance was swapped, not mutated in place.
	assert.InDelta(t, 0.88, GetSettings().Detection.Thresholds.ReviewQueue, 1e-9)
}

func TestUpdateThresholdsPersistsFullSet(t *testing.T) {
	setupViperConfig(t)

	settingsMutex.Lock()
	previous := settingsInstance
	settingsInstance = validTestSettings()
	settingsMutex.Unlock()
	t.Cleanup(func() {
		settingsMutex.Lock()
		settingsInstance = previous
		settingsMutex.Unlock()
	})

	updated, err := UpdateThresholds(ThresholdConfig{
		ImmediateAlert: 0.97,
		ReviewQueue:    0.80,
		LogOnly:        0.60,
		MinGap:         0.05,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.97, updated.Detection.Thresholds.ImmediateAlert, 1e-9)
	assert.InDelta(t, 0.80, GetSettings().Detection.Thresholds.ReviewQueue, 1e-9)

	// The accepted set is written back so it survives a restart.
	raw, err := os.ReadFile(viper.ConfigFileUsed())
	require.NoError(t, err)
	assert.Contains(t, string(raw), "immediatealert: 0.97")
	assert.Contains(t, string(raw), "reviewqueue: 0.8")
}

func TestUpdateThresholdRejectsInvalid(t *testing.T) {
	setupViperConfig(t)

	settingsMutex.Lock()
	previous := settingsInstance
	settingsInstance = validTestSettings()
	settingsMutex.Unlock()
	t.Cleanup(func() {
		settingsMutex.Lock()
		settingsInstance = previous
		settingsMutex.Unlock()
	})

	// 0.93 leaves less than the minimum gap below immediate_alert.
	_, err := UpdateThreshold("review_queue", 0.93)
	require.Error(t, err)
	assert.InDelta(t, 0.85, GetSettings().Detection.Thresholds.ReviewQueue, 1e-9,
		"rejected update must leave the active config unchanged")

	_, err = UpdateThreshold("nonexistent", 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown threshold")
}

func TestReloadRejectsInvalidDocument(t *testing.T) {
	setupViperConfig(t)

	settingsMutex.Lock()
	previous := settingsInstance
	settingsInstance = validTestSettings()
	settingsMutex.Unlock()
	t.Cleanup(func() {
		settingsMutex.Lock()
		settingsInstance = previous
		settingsMutex.Unlock()
	})

	before := GetSettings()

	// An inverted threshold ordering must not survive validation.
	viper.Set("detection.thresholds.immediatealert", 0.50)
	_, err := reload()
	require.Error(t, err)
	assert.Same(t, before, GetSettings(), "failed reload must keep the previous settings active")

	viper.Set("detection.thresholds.immediatealert", 0.95)
	reloaded, err := reload()
	require.NoError(t, err)
	assert.Same(t, reloaded, GetSettings())
}

func TestDispatchableTiers(t *testing.T) {
	assert.Equal(t, []string{"P1", "P2"}, DispatchableTiers())
}

func TestSaveYAMLConfigOmitsRuntimeFields(t *testing.T) {
	s := validTestSettings()
	s.Version = "1.2.3"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "1.2.3", "build-time fields must not be persisted")
}
