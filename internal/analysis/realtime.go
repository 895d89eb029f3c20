// Package analysis hosts the realtime entrypoint that assembles the full
// detection-to-alert pipeline and runs it until a termination signal.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/analysis/jobqueue"
	"github.com/firesentinel/firesentinel-go/internal/analysis/processor"
	"github.com/firesentinel/firesentinel-go/internal/api"
	"github.com/firesentinel/firesentinel-go/internal/camera"
	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/detector"
	"github.com/firesentinel/firesentinel-go/internal/environment"
	"github.com/firesentinel/firesentinel-go/internal/events"
	"github.com/firesentinel/firesentinel-go/internal/logging"
	"github.com/firesentinel/firesentinel-go/internal/monitor"
	"github.com/firesentinel/firesentinel-go/internal/mqtt"
	"github.com/firesentinel/firesentinel-go/internal/notification"
	"github.com/firesentinel/firesentinel-go/internal/observability"
	"github.com/firesentinel/firesentinel-go/internal/telemetry"
)

// expireInterval is how often lapsed dedup windows are swept.
const expireInterval = time.Minute

// RealtimeAnalysis assembles the camera supervisor, detection pipeline,
// stores, dispatchers and servers, then blocks until SIGINT or SIGTERM.
func RealtimeAnalysis(settings *conf.Settings) error {
	logger := logging.ForService("main")
	if logger == nil {
		logger = slog.Default().With("service", "main")
	}

	if settings.Main.Log.Enabled {
		fileLogger, closeLog, err := logging.NewFileLogger(settings.Main.Log.Path, "main", slog.LevelInfo)
		if err != nil {
			logger.Warn("file logging disabled", "path", settings.Main.Log.Path, "error", err)
		} else {
			logger = fileLogger
			defer func() { _ = closeLog() }()
		}
	}

	logger.Info("starting realtime pipeline",
		"version", settings.Version,
		"cameras", len(settings.Camera.Streams),
		"immediate_alert", settings.Detection.Thresholds.ImmediateAlert,
		"review_queue", settings.Detection.Thresholds.ReviewQueue,
		"log_only", settings.Detection.Thresholds.LogOnly)

	if err := telemetry.Init(&settings.Sentry, settings.Version); err != nil {
		logger.Warn("error telemetry disabled", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := datastore.New(settings)
	if err := store.Open(); err != nil {
		return fmt.Errorf("opening datastore: %w", err)
	}
	defer closeDataStore(store, logger)

	bus := events.NewBus(logging.ForService("events"))
	defer bus.Shutdown()

	queue := jobqueue.NewJobQueue(logging.ForService("jobqueue"))
	queue.StartWithContext(ctx)
	defer stopJobQueue(queue, logger)

	dispatcher := notification.NewDispatcher(&settings.Notification, queue, logging.ForService("notification"))

	scorer := detector.NewTimeoutScorer(
		detector.NewHTTPScorer(settings.Detection.Detector),
		settings.Detection.Detector.Timeout,
	)

	var publisher processor.AlertPublisher
	var mqttClient mqtt.Client
	if settings.MQTT.Enabled {
		mqttClient = mqtt.NewClient(settings)
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := mqttClient.Connect(connectCtx); err != nil {
			// Reconnect runs in the background; alerts queue retries meanwhile.
			logger.Warn("initial mqtt connect failed", "broker", settings.MQTT.Broker, "error", err)
		}
		cancel()
		publisher = mqttClient
		defer mqttClient.Disconnect()
	}

	proc := processor.New(processor.Config{
		Settings:  settings,
		Scorer:    scorer,
		Adjuster:  environment.NewAdjuster(settings.Detection.Environmental, logging.ForService("environment")),
		Store:     store,
		Notifier:  dispatcher,
		Bus:       bus,
		Queue:     queue,
		Publisher: publisher,
	})

	supervisor := camera.NewSupervisor(settings.Camera, proc, camera.NewFFmpegSource, bus, store, logging.ForService("camera"))
	supervisor.Start(ctx)
	defer supervisor.Stop()

	sysMonitor := monitor.NewSystemMonitor(settings, bus, store)
	sysMonitor.Start()
	defer sysMonitor.Stop()

	retention := monitor.NewRetentionWorker(settings, store)
	retention.Start()
	defer retention.Stop()

	metrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	proc.SetMetrics(metrics.Pipeline)
	supervisor.SetMetrics(metrics.Camera)
	dispatcher.SetMetrics(metrics.Notification)
	if mqttClient != nil {
		mqttClient.SetMetrics(metrics.MQTT)
	}

	if settings.Telemetry.Enabled {
		endpoint, err := observability.NewEndpoint(settings, metrics)
		if err != nil {
			return fmt.Errorf("initializing telemetry endpoint: %w", err)
		}
		endpoint.Start()
		defer endpoint.Stop()
	}

	if settings.WebServer.Enabled {
		server := api.NewServer(settings, store, proc, supervisor, bus, sysMonitor, dispatcher)
		server.Start()
		defer server.Stop()
	}

	conf.WatchConfig(logger, func(reloaded *conf.Settings) {
		if err := proc.ApplySettings(reloaded); err != nil {
			logger.Error("config reload rejected by pipeline", "error", err)
		}
	})

	go sweepExpiredAlerts(ctx, proc)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	telemetry.Flush()
	return nil
}

// sweepExpiredAlerts periodically drops dedup windows whose cooldown lapsed
// without a merge, so a later detection opens a fresh alert.
func sweepExpiredAlerts(ctx context.Context, proc *processor.Processor) {
	ticker := time.NewTicker(expireInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			proc.ExpireOpenAlerts(now)
		}
	}
}

func stopJobQueue(queue *jobqueue.JobQueue, logger *slog.Logger) {
	if err := queue.StopWithTimeout(30 * time.Second); err != nil {
		logger.Warn("job queue did not drain cleanly", "error", err)
	}
}

func closeDataStore(store datastore.Interface, logger *slog.Logger) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close datastore", "error", err)
	} else {
		logger.Info("datastore closed")
	}
}
