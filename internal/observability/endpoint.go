package observability

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Endpoint serves the Prometheus scrape endpoint.
type Endpoint struct {
	server        *http.Server
	listenAddress string
	metrics       *Metrics
	logger        *slog.Logger
}

// NewEndpoint creates a telemetry endpoint. Returns an error when telemetry
// is disabled in the settings.
func NewEndpoint(settings *conf.Settings, m *Metrics) (*Endpoint, error) {
	if !settings.Telemetry.Enabled {
		return nil, errors.New("telemetry not enabled in settings")
	}

	logger := logging.ForService("telemetry")
	if logger == nil {
		logger = slog.Default().With("service", "telemetry")
	}

	return &Endpoint{
		listenAddress: settings.Telemetry.Listen,
		metrics:       m,
		logger:        logger,
	}, nil
}

// Start runs the HTTP server in a new goroutine.
func (e *Endpoint) Start() {
	mux := http.NewServeMux()
	e.metrics.RegisterHandlers(mux)

	e.server = &http.Server{
		Addr:              e.listenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		e.logger.Info("telemetry endpoint starting", "address", e.listenAddress)
		if err := e.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("telemetry server error", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (e *Endpoint) Stop() {
	if e.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		e.logger.Error("telemetry server shutdown error", "error", err)
	}
}

// GetMetrics returns the Metrics instance served by this endpoint.
func (e *Endpoint) GetMetrics() *Metrics {
	return e.metrics
}
