package processor

import (
	"sync"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/analysis/classifier"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
)

// openAlert is the per-camera open alert a sustained event merges into.
type openAlert struct {
	record        *datastore.AlertRecord
	tier          classifier.Tier
	lastDetection time.Time
}

// Deduper merges detections from the same camera arriving within the
// cooldown window into one open alert instead of creating duplicates.
type Deduper struct {
	mu       sync.Mutex
	cooldown time.Duration
	open     map[string]*openAlert // keyed by camera ID
}

// NewDeduper creates a deduper with the given cooldown window.
func NewDeduper(cooldown time.Duration) *Deduper {
	return &Deduper{
		cooldown: cooldown,
		open:     make(map[string]*openAlert),
	}
}

// SetCooldown updates the window on config reload.
func (d *Deduper) SetCooldown(cooldown time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldown = cooldown
}

// MergeResult describes what Merge did with a detection.
type MergeResult struct {
	Merged bool
	// Record is the open alert the detection merged into; only set when
	// Merged is true. Confidence holds the max observed and the tier never
	// de-escalates during the open window.
	Record *datastore.AlertRecord
	// Escalated is true when the merge raised the alert's tier.
	Escalated bool
}

// Merge folds the detection into the camera's open alert when one exists
// within the cooldown window. Returns Merged=false when a new alert must
// be created instead.
func (d *Deduper) Merge(cameraID string, tier classifier.Tier, confidence float64, now time.Time) MergeResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	open, exists := d.open[cameraID]
	if !exists || now.Sub(open.lastDetection) > d.cooldown {
		return MergeResult{}
	}

	open.lastDetection = now
	open.record.MergedCount++
	if confidence > open.record.Confidence {
		open.record.Confidence = confidence
	}

	escalated := false
	if tier > open.tier {
		open.tier = tier
		open.record.Tier = tier.String()
		escalated = true
	}

	return MergeResult{Merged: true, Record: open.record, Escalated: escalated}
}

// Track registers a freshly created alert as the camera's open alert.
func (d *Deduper) Track(cameraID string, record *datastore.AlertRecord, tier classifier.Tier, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open[cameraID] = &openAlert{
		record:        record,
		tier:          tier,
		lastDetection: now,
	}
}

// Expire drops open alerts whose window has lapsed. Called periodically so
// the map does not grow with stale cameras.
func (d *Deduper) Expire(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for cameraID, open := range d.open {
		if now.Sub(open.lastDetection) > d.cooldown {
			delete(d.open, cameraID)
		}
	}
}
