// Package api implements the HTTP API for alert review, camera status, and
// runtime threshold control.
package api

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/firesentinel/firesentinel-go/internal/camera"
	"github.com/firesentinel/firesentinel-go/internal/conf"
	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/events"
	"github.com/firesentinel/firesentinel-go/internal/logging"
	"github.com/firesentinel/firesentinel-go/internal/monitor"
	"github.com/firesentinel/firesentinel-go/internal/notification"
)

// AlertPipeline is the processor surface the API consumes.
type AlertPipeline interface {
	Acknowledge(ctx context.Context, id, by string) (datastore.AckOutcome, error)
	CurrentThresholds() conf.ThresholdConfig
	UpdateThresholds(thresholds conf.ThresholdConfig) error
}

// CameraStates is the supervisor surface the API consumes.
type CameraStates interface {
	States() []camera.State
	CameraState(id string) (camera.State, bool)
}

// ResourceStatuser reports system resource state.
type ResourceStatuser interface {
	Status() []monitor.ResourceStatus
}

// DeliveryLister reports notification delivery state.
type DeliveryLister interface {
	Deliveries() []notification.Delivery
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo       *echo.Echo
	Group      *echo.Group
	DS         datastore.Interface
	Settings   *conf.Settings
	Pipeline   AlertPipeline
	Cameras    CameraStates
	Monitor    ResourceStatuser
	Deliveries DeliveryLister
	Bus        *events.Bus

	logger    *slog.Logger
	startTime time.Time

	// persistThresholds writes an accepted threshold update back to the
	// configuration file so it survives a restart.
	persistThresholds func(conf.ThresholdConfig) error
}

// New creates the API controller and registers its routes on the given echo
// instance. The monitor and delivery listers are optional.
func New(e *echo.Echo, ds datastore.Interface, settings *conf.Settings,
	pipeline AlertPipeline, cameras CameraStates, bus *events.Bus,
	sysMonitor ResourceStatuser, deliveries DeliveryLister) *Controller {

	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}

	c := &Controller{
		Echo:       e,
		DS:         ds,
		Settings:   settings,
		Pipeline:   pipeline,
		Cameras:    cameras,
		Monitor:    sysMonitor,
		Deliveries: deliveries,
		Bus:        bus,
		logger:     logger,
		startTime:  time.Now(),
		persistThresholds: func(t conf.ThresholdConfig) error {
			_, err := conf.UpdateThresholds(t)
			return err
		},
	}

	c.Group = e.Group("/api/v1")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.initAlertRoutes()
	c.initCameraRoutes()
	c.initThresholdRoutes()
	c.initSystemRoutes()
}

// ErrorResponse is the JSON body for API errors.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// HandleError logs the error and writes a structured error response.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := &ErrorResponse{
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Error = message
	}

	c.logger.Error("api request failed",
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"code", code,
		"correlation_id", resp.CorrelationID,
		"error", resp.Error,
	)
	return ctx.JSON(code, resp)
}

// generateCorrelationID creates a short identifier for error tracking.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[b[i]%byte(len(charset))]
	}
	return string(b)
}

// Server wraps the echo instance with lifecycle management.
type Server struct {
	echo   *echo.Echo
	listen string
	logger *slog.Logger
}

// NewServer builds an echo instance with standard middleware and the API
// routes, ready to start.
func NewServer(settings *conf.Settings, ds datastore.Interface,
	pipeline AlertPipeline, cameras CameraStates, bus *events.Bus,
	sysMonitor ResourceStatuser, deliveries DeliveryLister) *Server {

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Gzip())

	New(e, ds, settings, pipeline, cameras, bus, sysMonitor, deliveries)

	logger := logging.ForService("api")
	if logger == nil {
		logger = slog.Default().With("service", "api")
	}

	return &Server{
		echo:   e,
		listen: settings.WebServer.Listen,
		logger: logger,
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Info("api server starting", "address", s.listen)
		if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Error("api server shutdown error", "error", err)
	}
}
