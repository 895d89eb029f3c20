package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/errors"
	"github.com/firesentinel/firesentinel-go/internal/logging"
)

const (
	statsCacheTTL     = 30 * time.Second
	statsCacheCleanup = 5 * time.Minute
)

// DataStore implements Interface on top of a GORM database. Backend
// specific stores embed it and provide Open/Close.
type DataStore struct {
	DB       *gorm.DB
	Settings *conf.Settings

	// statsCache keeps recently computed statistics windows so the UI can
	// poll without hammering aggregate queries.
	statsCache *gocache.Cache
	logger     *slog.Logger
}

func (ds *DataStore) init() {
	if ds.statsCache == nil {
		ds.statsCache = gocache.New(statsCacheTTL, statsCacheCleanup)
	}
	if ds.logger == nil {
		ds.logger = logging.ForService("datastore")
		if ds.logger == nil {
			ds.logger = slog.Default()
		}
	}
}

func (ds *DataStore) checkConn() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	return nil
}

// Create persists a new alert record. A missing ID is generated; IDs are
// never reused.
func (ds *DataStore) Create(ctx context.Context, record *AlertRecord) error {
	if err := ds.checkConn(); err != nil {
		return err
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	if err := ds.DB.WithContext(ctx).Create(record).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "create").
			Context("alert_id", record.ID).
			Build()
	}
	ds.statsCache.Flush()
	return nil
}

// Get fetches one alert record by ID.
func (ds *DataStore) Get(ctx context.Context, id string) (*AlertRecord, error) {
	if err := ds.checkConn(); err != nil {
		return nil, err
	}

	var record AlertRecord
	err := ds.DB.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		category := errors.CategoryDatabase
		if errors.Is(err, gorm.ErrRecordNotFound) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("datastore").
			Category(category).
			Context("alert_id", id).
			Build()
	}
	return &record, nil
}

// Update saves changed fields of an existing record. Used by the dedup
// stage to merge a sustained detection into its open alert.
func (ds *DataStore) Update(ctx context.Context, record *AlertRecord) error {
	if err := ds.checkConn(); err != nil {
		return err
	}

	result := ds.DB.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"confidence":   record.Confidence,
			"tier":         record.Tier,
			"region":       record.Region,
			"description":  record.Description,
			"merged_count": record.MergedCount,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "update").
			Context("alert_id", record.ID).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("alert record %s not found", record.ID).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	ds.statsCache.Flush()
	return nil
}

// Acknowledge marks a record acknowledged. The conditional update makes it
// idempotent under concurrent callers: exactly one caller applies the
// acknowledgement, the rest see AckAlreadyAcknowledged, and
// acknowledged_at never changes after first set.
func (ds *DataStore) Acknowledge(ctx context.Context, id, by string) (AckOutcome, error) {
	if err := ds.checkConn(); err != nil {
		return AckAlreadyAcknowledged, err
	}

	now := time.Now()
	result := ds.DB.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ? AND acknowledged = ?", id, false).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": now,
			"acknowledged_by": by,
			"updated_at":      now,
		})
	if result.Error != nil {
		return AckAlreadyAcknowledged, errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "acknowledge").
			Context("alert_id", id).
			Build()
	}

	if result.RowsAffected == 1 {
		ds.statsCache.Flush()
		return AckApplied, nil
	}

	// Nothing updated: either already acknowledged or the record does not
	// exist. Distinguish the two.
	var count int64
	if err := ds.DB.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return AckAlreadyAcknowledged, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	if count == 0 {
		return AckAlreadyAcknowledged, errors.Newf("alert record %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	return AckAlreadyAcknowledged, nil
}

// MarkFalsePositive records the review verdict for a record.
func (ds *DataStore) MarkFalsePositive(ctx context.Context, id string, falsePositive bool) error {
	if err := ds.checkConn(); err != nil {
		return err
	}

	result := ds.DB.WithContext(ctx).Model(&AlertRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"false_positive": falsePositive,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return errors.New(result.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("alert_id", id).
			Build()
	}
	if result.RowsAffected == 0 {
		return errors.Newf("alert record %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
	}
	ds.statsCache.Flush()
	return nil
}

// ListRecent returns alert records newest first, narrowed by filter.
func (ds *DataStore) ListRecent(ctx context.Context, limit int, filter AlertFilter) ([]AlertRecord, error) {
	if err := ds.checkConn(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	query := ds.DB.WithContext(ctx).Model(&AlertRecord{}).Order("created_at DESC").Limit(limit)
	if filter.CameraID != "" {
		query = query.Where("camera_id = ?", filter.CameraID)
	}
	if filter.Tier != "" {
		query = query.Where("tier = ?", filter.Tier)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}
	if !filter.Until.IsZero() {
		query = query.Where("created_at < ?", filter.Until)
	}
	if filter.OnlyUnack {
		query = query.Where("acknowledged = ?", false)
	}

	var records []AlertRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "list_recent").
			Build()
	}
	return records, nil
}

// Statistics aggregates alert activity over the trailing window. Results
// are cached briefly since the UI polls this endpoint.
func (ds *DataStore) Statistics(ctx context.Context, window time.Duration) (*Statistics, error) {
	if err := ds.checkConn(); err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("stats-%s", window)
	if cached, found := ds.statsCache.Get(cacheKey); found {
		if stats, ok := cached.(*Statistics); ok {
			return stats, nil
		}
	}

	now := time.Now()
	since := now.Add(-window)
	stats := &Statistics{
		WindowStart: since,
		WindowEnd:   now,
		ByTier:      make(map[string]int64),
	}

	base := func() *gorm.DB {
		return ds.DB.WithContext(ctx).Model(&AlertRecord{}).Where("created_at >= ?", since)
	}

	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, ds.statsErr(err)
	}

	type tierCount struct {
		Tier  string
		Count int64
	}
	var tiers []tierCount
	if err := base().Select("tier, COUNT(*) as count").Group("tier").Scan(&tiers).Error; err != nil {
		return nil, ds.statsErr(err)
	}
	for _, tc := range tiers {
		stats.ByTier[tc.Tier] = tc.Count
	}

	if err := base().Where("acknowledged = ?", true).Count(&stats.Acknowledged).Error; err != nil {
		return nil, ds.statsErr(err)
	}
	if err := base().Where("false_positive = ?", true).Count(&stats.FalsePositives).Error; err != nil {
		return nil, ds.statsErr(err)
	}
	if err := base().Where("false_positive = ?", false).Count(&stats.TruePositives).Error; err != nil {
		return nil, ds.statsErr(err)
	}
	if err := base().Where("dispatched = ? AND tier IN ?", false, conf.DispatchableTiers()).
		Count(&stats.SuppressedDispatch).Error; err != nil {
		return nil, ds.statsErr(err)
	}

	// Average time from creation to acknowledgement, for acknowledged
	// records only. Computed in Go to stay portable across backends.
	var acked []AlertRecord
	if err := base().Where("acknowledged = ? AND acknowledged_at IS NOT NULL", true).
		Select("created_at, acknowledged_at").Find(&acked).Error; err != nil {
		return nil, ds.statsErr(err)
	}
	if len(acked) > 0 {
		var total time.Duration
		for i := range acked {
			total += acked[i].AcknowledgedAt.Sub(acked[i].CreatedAt)
		}
		stats.AvgResponseTime = total / time.Duration(len(acked))
	}

	ds.statsCache.Set(cacheKey, stats, gocache.DefaultExpiration)
	return stats, nil
}

func (ds *DataStore) statsErr(err error) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", "statistics").
		Build()
}

// SaveSystemEvent appends an operational log entry.
func (ds *DataStore) SaveSystemEvent(ctx context.Context, event *SystemEvent) error {
	if err := ds.checkConn(); err != nil {
		return err
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if err := ds.DB.WithContext(ctx).Create(event).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_system_event").
			Build()
	}
	return nil
}

// ListSystemEvents returns recent system events, newest first, optionally
// filtered by kind.
func (ds *DataStore) ListSystemEvents(ctx context.Context, limit int, kind string) ([]SystemEvent, error) {
	if err := ds.checkConn(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := ds.DB.WithContext(ctx).Model(&SystemEvent{}).Order("created_at DESC").Limit(limit)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var events []SystemEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "list_system_events").
			Build()
	}
	return events, nil
}

// Cleanup purges alert records and system events older than maxAge and
// returns the number of rows removed.
func (ds *DataStore) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	if err := ds.checkConn(); err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)

	alerts := ds.DB.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&AlertRecord{})
	if alerts.Error != nil {
		return 0, errors.New(alerts.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "cleanup").
			Build()
	}

	events := ds.DB.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&SystemEvent{})
	if events.Error != nil {
		return alerts.RowsAffected, errors.New(events.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "cleanup").
			Build()
	}

	removed := alerts.RowsAffected + events.RowsAffected
	if removed > 0 {
		ds.statsCache.Flush()
		ds.logger.Info("retention cleanup removed old records",
			"alerts", alerts.RowsAffected,
			"system_events", events.RowsAffected,
			"cutoff", cutoff,
		)
	}
	return removed, nil
}
