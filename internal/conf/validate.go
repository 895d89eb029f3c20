// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error returns a string representation of the validation error
func (ve ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ve.Field, ve.Message)
}

// ValidationErrors aggregates all configuration problems found in one pass.
type ValidationErrors struct {
	Errors []string
}

func (ve ValidationErrors) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct. All problems are
// collected so the caller can report the full set at once.
func ValidateSettings(settings *Settings) error {
	ve := ValidationErrors{}

	if err := settings.Detection.Thresholds.Validate(); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateEnvironmentalSettings(&settings.Detection.Environmental); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateDetectionSettings(&settings.Detection); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateCameraSettings(&settings.Camera); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateNotificationSettings(&settings.Notification); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateOutputSettings(&settings.Output); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateEnvironmentalSettings(settings *EnvironmentalSettings) error {
	if settings.SunsetStartHour < 0 || settings.SunsetStartHour > 23 {
		return ValidationError{Field: "detection.environmental.sunsetstarthour", Message: "must be between 0 and 23"}
	}
	if settings.SunsetEndHour < 0 || settings.SunsetEndHour > 24 {
		return ValidationError{Field: "detection.environmental.sunsetendhour", Message: "must be between 0 and 24"}
	}
	if settings.Latitude < -90 || settings.Latitude > 90 {
		return ValidationError{Field: "detection.environmental.latitude", Message: "must be between -90 and 90"}
	}
	if settings.Longitude < -180 || settings.Longitude > 180 {
		return ValidationError{Field: "detection.environmental.longitude", Message: "must be between -180 and 180"}
	}
	return nil
}

func validateDetectionSettings(settings *DetectionSettings) error {
	if settings.Dedup.Cooldown < 0 {
		return ValidationError{Field: "detection.dedup.cooldown", Message: "must not be negative"}
	}
	if settings.RateLimit.HourlyMax < 1 {
		return ValidationError{Field: "detection.ratelimit.hourlymax", Message: "must be at least 1"}
	}
	if settings.RateLimit.DailyMax < settings.RateLimit.HourlyMax {
		return ValidationError{Field: "detection.ratelimit.dailymax", Message: "must not be lower than hourlymax"}
	}
	if settings.Detector.Timeout <= 0 {
		return ValidationError{Field: "detection.detector.timeout", Message: "must be positive"}
	}
	if settings.Detector.Endpoint != "" {
		u, err := url.Parse(settings.Detector.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return ValidationError{Field: "detection.detector.endpoint", Message: "must be an http or https url"}
		}
	}
	return nil
}

func validateCameraSettings(settings *CameraSettings) error {
	if settings.StaleFrameTimeout <= 0 {
		return ValidationError{Field: "camera.staleframetimeout", Message: "must be positive"}
	}
	if settings.ReconnectInitial <= 0 || settings.ReconnectMax < settings.ReconnectInitial {
		return ValidationError{Field: "camera.reconnect", Message: "reconnectmax must not be lower than reconnectinitial"}
	}

	seen := make(map[string]bool, len(settings.Streams))
	for i := range settings.Streams {
		cam := &settings.Streams[i]
		if cam.ID == "" {
			return ValidationError{Field: "camera.streams", Message: fmt.Sprintf("stream %d has no id", i)}
		}
		if seen[cam.ID] {
			return ValidationError{Field: "camera.streams", Message: fmt.Sprintf("duplicate camera id %q", cam.ID)}
		}
		seen[cam.ID] = true

		if !cam.Enabled {
			continue
		}
		u, err := url.Parse(cam.URL)
		if err != nil || !strings.HasPrefix(u.Scheme, "rtsp") {
			return ValidationError{Field: "camera.streams", Message: fmt.Sprintf("camera %s has invalid rtsp url", cam.ID)}
		}
		if cam.Transport != "" && cam.Transport != "tcp" && cam.Transport != "udp" {
			return ValidationError{Field: "camera.streams", Message: fmt.Sprintf("camera %s transport must be tcp or udp", cam.ID)}
		}
	}
	return nil
}

func validateNotificationSettings(settings *NotificationSettings) error {
	if settings.MaxRetries < 0 {
		return ValidationError{Field: "notification.maxretries", Message: "must not be negative"}
	}
	if settings.Multiplier < 1 {
		return ValidationError{Field: "notification.multiplier", Message: "must be at least 1"}
	}
	for i := range settings.Providers {
		p := &settings.Providers[i]
		if !p.Enabled {
			continue
		}
		switch strings.ToLower(p.Type) {
		case "shoutrrr":
			if len(p.URLs) == 0 {
				return ValidationError{Field: "notification.providers", Message: fmt.Sprintf("provider %q requires at least one url", p.Name)}
			}
		case "webhook":
			if _, err := url.ParseRequestURI(p.URL); err != nil {
				return ValidationError{Field: "notification.providers", Message: fmt.Sprintf("provider %q has invalid webhook url", p.Name)}
			}
		default:
			return ValidationError{Field: "notification.providers", Message: fmt.Sprintf("provider %q has unknown type %q", p.Name, p.Type)}
		}
		for _, tier := range p.Tiers {
			if tier != "P1" && tier != "P2" {
				return ValidationError{Field: "notification.providers", Message: fmt.Sprintf("provider %q tier %q is not dispatchable", p.Name, tier)}
			}
		}
	}
	return nil
}

func validateOutputSettings(settings *OutputSettings) error {
	if !settings.SQLite.Enabled && !settings.MySQL.Enabled {
		return ValidationError{Field: "output", Message: "either sqlite or mysql output must be enabled"}
	}
	if settings.SQLite.Enabled && settings.SQLite.Path == "" {
		return ValidationError{Field: "output.sqlite.path", Message: "must not be empty"}
	}
	if settings.MySQL.Enabled {
		if settings.MySQL.Host == "" || settings.MySQL.Database == "" {
			return ValidationError{Field: "output.mysql", Message: "host and database must be set"}
		}
	}
	return nil
}
