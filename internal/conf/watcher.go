// watcher.go: hot reload of the configuration file. A changed file is read
// into a fresh Settings struct and validated before it replaces the active
// one, so readers never observe a partially applied or invalid document.
package conf

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc is called with the new settings after a successful reload.
type ReloadFunc func(*Settings)

// WatchConfig starts watching the active config file for changes. On each
// change the document is re-read and validated; an invalid document is
// rejected and the previous valid settings remain active.
func WatchConfig(logger *slog.Logger, onReload ReloadFunc) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		settings, err := reload()
		if err != nil {
			if logger != nil {
				logger.Error("config reload rejected, previous configuration remains active",
					"file", e.Name, "error", err)
			}
			return
		}
		if logger != nil {
			logger.Info("configuration reloaded", "file", e.Name)
		}
		if onReload != nil {
			onReload(settings)
		}
	})
	viper.WatchConfig()
}

// reload re-reads the config file into a fresh Settings struct, validates
// it and swaps it in as the global instance.
func reload() (*Settings, error) {
	settings := &Settings{}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

// UpdateThresholds validates a full threshold set, swaps it into the active
// settings and persists it through viper. The active settings are only
// replaced when validation passes.
func UpdateThresholds(updated ThresholdConfig) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	return updateThresholdsLocked(updated)
}

// UpdateThreshold applies a single named threshold update on top of the
// active configuration.
func UpdateThreshold(name string, value float64) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if settingsInstance == nil {
		return nil, fmt.Errorf("settings not loaded")
	}

	updated := settingsInstance.Detection.Thresholds
	switch name {
	case "immediate_alert":
		updated.ImmediateAlert = value
	case "review_queue":
		updated.ReviewQueue = value
	case "log_only":
		updated.LogOnly = value
	default:
		return nil, ValidationError{Field: "detection.thresholds", Message: fmt.Sprintf("unknown threshold %q", name)}
	}

	return updateThresholdsLocked(updated)
}

func updateThresholdsLocked(updated ThresholdConfig) (*Settings, error) {
	if settingsInstance == nil {
		return nil, fmt.Errorf("settings not loaded")
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	// Copy-on-write so concurrent readers of the old settings are unaffected.
	next := *settingsInstance
	next.Detection.Thresholds = updated
	settingsInstance = &next

	viper.Set("detection.thresholds.immediatealert", updated.ImmediateAlert)
	viper.Set("detection.thresholds.reviewqueue", updated.ReviewQueue)
	viper.Set("detection.thresholds.logonly", updated.LogOnly)
	if err := viper.WriteConfig(); err != nil {
		// Persistence failure does not invalidate the in-memory update.
		return settingsInstance, fmt.Errorf("threshold updated but not persisted: %w", err)
	}

	return settingsInstance, nil
}
