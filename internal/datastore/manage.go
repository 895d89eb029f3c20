package datastore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"gorm.io/gorm"
)

// DefaultSlowQueryThreshold flags queries slower than this in the logs.
const DefaultSlowQueryThreshold = 500 * time.Millisecond

// performAutoMigration runs GORM auto-migration for the alert schema.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string, log *slog.Logger) error {
	start := time.Now()

	if err := db.AutoMigrate(&AlertRecord{}, &SystemEvent{}); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug && log != nil {
		log.Debug("database migration completed",
			"db_type", dbType,
			"connection", connectionInfo,
			"duration", time.Since(start).String(),
		)
	}
	return nil
}

// createGormLogger adapts our slog logger for GORM's query logging,
// surfacing slow queries and errors only.
func createGormLogger(log *slog.Logger) gormlogger.Interface {
	return &slogGormLogger{log: log, slowThreshold: DefaultSlowQueryThreshold}
}

type slogGormLogger struct {
	log           *slog.Logger
	slowThreshold time.Duration
}

func (l *slogGormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *slogGormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.log != nil {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.log != nil {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.log != nil {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *slogGormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.log == nil {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error("query failed", "sql", sql, "rows", rows, "error", err)
	case elapsed > l.slowThreshold:
		sql, rows := fc()
		l.log.Warn("slow query", "sql", sql, "rows", rows, "elapsed", elapsed.String())
	}
}
