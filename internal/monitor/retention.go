package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/logging"
)

// RetentionWorker purges alert records and system events older than the
// configured retention age.
type RetentionWorker struct {
	settings *conf.Settings
	store    datastore.Interface
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *slog.Logger
}

// NewRetentionWorker creates a retention worker bound to the given store.
func NewRetentionWorker(settings *conf.Settings, store datastore.Interface) *RetentionWorker {
	ctx, cancel := context.WithCancel(context.Background())
	logger := logging.ForService("retention")
	if logger == nil {
		logger = slog.Default().With("service", "retention")
	}
	return &RetentionWorker{
		settings: settings,
		store:    store,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start launches the cleanup loop. No-op when retention is disabled or the
// configuration is incomplete.
func (w *RetentionWorker) Start() {
	if !w.settings.Retention.Enabled || w.store == nil {
		return
	}
	if w.settings.Retention.MaxAge <= 0 || w.settings.Retention.Interval <= 0 {
		w.logger.Warn("retention enabled but max age or interval not set, skipping")
		return
	}

	w.logger.Info("starting retention worker",
		"max_age", w.settings.Retention.MaxAge,
		"interval", w.settings.Retention.Interval)

	w.wg.Add(1)
	go w.run()
}

// Stop stops the cleanup loop and waits for it to finish.
func (w *RetentionWorker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *RetentionWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.settings.Retention.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.cleanupPass()
		case <-w.ctx.Done():
			return
		}
	}
}

func (w *RetentionWorker) cleanupPass() {
	ctx, cancel := context.WithTimeout(w.ctx, time.Minute)
	defer cancel()

	removed, err := w.store.Cleanup(ctx, w.settings.Retention.MaxAge)
	if err != nil {
		w.logger.Error("retention cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("retention cleanup removed old records", "removed", removed)
	}
}
