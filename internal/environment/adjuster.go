// Package environment computes the per-frame threshold offset applied
// before tier classification. Evening light makes cameras prone to false
// positives, so the sunset window raises all cut points; fog lowers them
// because real smoke is easy to miss in poor visibility.
package environment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/suncalc"
)

// Adjuster derives a signed threshold delta from wall-clock time and the
// live visibility flag, then applies it uniformly to all three cut points.
// Adjuster is stateless apart from configuration and the optional sunset
// calculator, so it is safe to call from every camera goroutine.
type Adjuster struct {
	mu       sync.RWMutex
	settings conf.EnvironmentalSettings

	sun    *suncalc.SunCalc
	logger *slog.Logger
}

// NewAdjuster creates an Adjuster. When the site has coordinates configured
// the sunset window is derived astronomically; otherwise the fixed
// start/end hours are used.
func NewAdjuster(settings conf.EnvironmentalSettings, logger *slog.Logger) *Adjuster {
	a := &Adjuster{settings: settings, logger: logger}
	if settings.Latitude != 0 || settings.Longitude != 0 {
		a.sun = suncalc.NewSunCalc(settings.Latitude, settings.Longitude)
	}
	return a
}

// UpdateSettings swaps in new environmental settings on config reload.
func (a *Adjuster) UpdateSettings(settings conf.EnvironmentalSettings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	if settings.Latitude != 0 || settings.Longitude != 0 {
		a.sun = suncalc.NewSunCalc(settings.Latitude, settings.Longitude)
	} else {
		a.sun = nil
	}
}

// SetLowVisibility flips the live fog flag at runtime.
func (a *Adjuster) SetLowVisibility(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings.LowVisibility = active
}

// Delta returns the signed threshold offset for the given wall-clock time.
// Deltas compose additively.
func (a *Adjuster) Delta(now time.Time) float64 {
	a.mu.RLock()
	settings := a.settings
	sun := a.sun
	a.mu.RUnlock()

	delta := 0.0
	if a.inSunsetWindow(now, settings, sun) {
		delta += settings.SunsetAdjustment
	}
	if settings.LowVisibility {
		delta += settings.FogAdjustment
	}
	return delta
}

// AdjustedThresholds applies the current delta to base and returns the
// effective thresholds for this frame. When the shifted cut points would
// leave (0,1) or break the minimum-gap invariant, the adjustment is
// rejected and the unadjusted thresholds are returned, which is the
// stricter configuration the operator actually validated.
func (a *Adjuster) AdjustedThresholds(base conf.ThresholdConfig, now time.Time) conf.ThresholdConfig {
	delta := a.Delta(now)
	if delta == 0 {
		return base
	}

	adjusted := conf.ThresholdConfig{
		ImmediateAlert: base.ImmediateAlert + delta,
		ReviewQueue:    base.ReviewQueue + delta,
		LogOnly:        base.LogOnly + delta,
		MinGap:         base.MinGap,
	}
	if err := adjusted.Validate(); err != nil {
		if a.logger != nil {
			a.logger.Warn("environmental adjustment rejected, using unadjusted thresholds",
				"delta", delta,
				"error", err,
			)
		}
		return base
	}
	return adjusted
}

// inSunsetWindow reports whether now falls inside the configured sunset
// window: inclusive start hour, exclusive end hour, wrapping midnight.
func (a *Adjuster) inSunsetWindow(now time.Time, settings conf.EnvironmentalSettings, sun *suncalc.SunCalc) bool {
	if sun != nil {
		if times, err := sun.GetSunEventTimes(now); err == nil {
			// One hour before sunset through civil dusk.
			start := times.Sunset.Add(-time.Hour)
			return !now.Before(start) && now.Before(times.CivilDusk)
		}
		// Polar day/night or calculation failure: fall back to fixed hours.
	}

	start, end := settings.SunsetStartHour, settings.SunsetEndHour
	if start == end {
		return false
	}
	hour := now.Hour()
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. [22, 2).
	return hour >= start || hour < end
}
