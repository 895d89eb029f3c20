// config.go: settings struct and functions to load, access and persist the
// firesentinel configuration.
package conf

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LogConfig defines the configuration for file logging
type LogConfig struct {
	Enabled  bool         // true to enable file logging
	Path     string       // path to log file
	Rotation RotationType // rotation type: daily, weekly or size
	MaxSize  int64        // max size in bytes for size rotation
}

// RotationType defines different log rotation strategies
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// ThresholdConfig holds the three ordered confidence cut points used to
// classify a detection into a priority tier, plus the minimum separation
// enforced between adjacent cut points.
type ThresholdConfig struct {
	ImmediateAlert float64 // P1 cut point
	ReviewQueue    float64 // P2 cut point
	LogOnly        float64 // P4 cut point
	MinGap         float64 // minimum separation between adjacent cut points
}

// Validate checks the cut point ordering and minimum-gap invariant.
// Updates violating the invariant are rejected, never clamped.
func (t *ThresholdConfig) Validate() error {
	for name, v := range map[string]float64{
		"immediate_alert": t.ImmediateAlert,
		"review_queue":    t.ReviewQueue,
		"log_only":        t.LogOnly,
	} {
		if v <= 0 || v >= 1 {
			return ValidationError{Field: "detection.thresholds." + name, Message: "must be in (0, 1)"}
		}
	}
	if t.MinGap < 0 {
		return ValidationError{Field: "detection.thresholds.mingap", Message: "must not be negative"}
	}
	if t.ImmediateAlert-t.ReviewQueue < t.MinGap {
		return ValidationError{
			Field:   "detection.thresholds",
			Message: fmt.Sprintf("immediate_alert - review_queue must be at least %.3f", t.MinGap),
		}
	}
	if t.ReviewQueue-t.LogOnly < t.MinGap {
		return ValidationError{
			Field:   "detection.thresholds",
			Message: fmt.Sprintf("review_queue - log_only must be at least %.3f", t.MinGap),
		}
	}
	return nil
}

// EnvironmentalSettings controls the per-frame threshold offset applied
// before classification.
type EnvironmentalSettings struct {
	FogAdjustment    float64 // delta applied when low visibility is flagged, normally negative
	LowVisibility    bool    // live low-visibility flag, settable at runtime
	SunsetStartHour  int     // inclusive start of the sunset window, hour of day
	SunsetEndHour    int     // exclusive end of the sunset window, hour of day
	SunsetAdjustment float64 // delta applied during the sunset window, normally positive
	Latitude         float64 // site latitude, enables astronomical sunset window
	Longitude        float64 // site longitude
}

// DedupSettings controls alert merge behaviour for sustained events.
type DedupSettings struct {
	Cooldown time.Duration // window within which detections merge into the open alert
}

// RateLimitSettings bounds alert volume per camera and tier.
type RateLimitSettings struct {
	HourlyMax int // max alerts per (camera, tier) per rolling hour
	DailyMax  int // max alerts per (camera, tier) per rolling day
}

// DetectorSettings configures the external scorer boundary.
type DetectorSettings struct {
	Endpoint string        // inference service score endpoint
	Timeout  time.Duration // hard per-frame scoring timeout
}

// DetectionSettings groups the decision pipeline configuration.
type DetectionSettings struct {
	Thresholds    ThresholdConfig
	Environmental EnvironmentalSettings
	Dedup         DedupSettings
	RateLimit     RateLimitSettings
	Detector      DetectorSettings
}

// CameraConfig describes a single RTSP camera source.
type CameraConfig struct {
	ID        string // unique camera identifier, e.g. CAM_001
	URL       string // rtsp stream URI
	Username  string // optional stream credentials
	Password  string
	Transport string // rtsp transport, tcp or udp
	FPS       int    // decode cadence, frames per second fed to the detector
	Enabled   bool
}

// CameraSettings holds shared camera supervision parameters.
type CameraSettings struct {
	StaleFrameTimeout time.Duration  // ONLINE -> DEGRADED when no frame for this long
	OfflineTimeout    time.Duration  // DEGRADED -> OFFLINE when degraded for this long
	ReconnectInitial  time.Duration  // initial reconnect backoff delay
	ReconnectMax      time.Duration  // reconnect backoff cap
	Streams           []CameraConfig // configured cameras
}

// ProviderConfig describes a single notification delivery channel.
type ProviderConfig struct {
	Name    string // friendly name for logs
	Type    string // "shoutrrr" or "webhook"
	Enabled bool
	URLs    []string          // shoutrrr service URLs (smtp://, twilio://, ...)
	URL     string            // webhook endpoint
	Headers map[string]string // extra webhook headers
	Tiers   []string          // alert tiers this channel receives, empty for all dispatchable tiers
	Timeout time.Duration     // per-attempt send timeout
}

// NotificationSettings configures the dispatch and retry behaviour.
type NotificationSettings struct {
	Enabled      bool
	MaxRetries   int              // retry budget per channel per notification
	InitialDelay time.Duration    // first retry delay
	MaxDelay     time.Duration    // retry delay cap
	Multiplier   float64          // exponential backoff multiplier
	Providers    []ProviderConfig // delivery channels
	RateLimit    struct {
		RequestsPerMinute int // token refill rate toward external providers
		BurstSize         int
	}
}

// MQTTSettings configures alert event publishing over MQTT.
type MQTTSettings struct {
	Enabled  bool
	Broker   string // broker URL, e.g. tcp://localhost:1883
	Topic    string
	Username string
	Password string
	Retain   bool
}

// OutputSettings selects the alert record store backend.
type OutputSettings struct {
	SQLite struct {
		Enabled bool
		Path    string // path to sqlite database file
	}
	MySQL struct {
		Enabled  bool
		Username string
		Password string
		Database string
		Host     string
		Port     string
	}
}

// SentrySettings configures optional error telemetry. Disabled by default.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings contains all runtime configuration for firesentinel.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build

	Main struct {
		Name string    // name of this firesentinel node
		Log  LogConfig // logging configuration
	}

	Detection DetectionSettings // decision pipeline configuration

	Camera CameraSettings // camera supervision and stream list

	Notification NotificationSettings // alert dispatch configuration

	MQTT MQTTSettings // alert event publishing

	Output OutputSettings // alert record store backend

	Sentry SentrySettings // optional error telemetry

	WebServer struct {
		Enabled bool
		Listen  string // listen address for the HTTP API, e.g. :8090
		Debug   bool
	}

	Telemetry struct {
		Enabled bool
		Listen  string // prometheus endpoint listen address
	}

	Monitor struct {
		Enabled       bool
		Interval      time.Duration // system resource check interval
		CPUWarning    float64       // cpu usage percentage that raises a system event
		MemoryWarning float64
		DiskWarning   float64
	}

	Retention struct {
		Enabled  bool
		MaxAge   time.Duration // alert records older than this are purged
		Interval time.Duration // cleanup pass interval
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a new Settings struct and validates it.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper sets config name, paths and defaults, then reads the config file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// createDefaultConfig writes the default config to the first config path
// and loads it.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfigYAML), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	log.Printf("Created default config file at: %s", configPath)
	return viper.ReadInConfig()
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			if _, err := Load(); err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// GetSettings returns the current global settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetDefaultConfigPaths returns the config file search paths in priority
// order: current directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return []string{"."}, nil //nolint:nilerr // fall back to cwd only
	}
	return []string{".", filepath.Join(configDir, "firesentinel")}, nil
}

// SaveYAMLConfig writes the settings struct back to the given config file.
// It overwrites the existing file, not preserving comments.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}
	if err := os.WriteFile(configPath, yamlData, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// DispatchableTiers are the alert tiers that trigger notification dispatch.
func DispatchableTiers() []string {
	return []string{"P1", "P2"}
}
