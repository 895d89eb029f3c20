package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/firesentinel/firesentinel-go/internal/monitor"
	"github.com/firesentinel/firesentinel-go/internal/notification"
)

// initSystemRoutes registers health, system event, and streaming endpoints.
func (c *Controller) initSystemRoutes() {
	c.Group.GET("/health", c.GetHealth)
	c.Group.GET("/system/resources", c.GetResources)
	c.Group.GET("/system/events", c.GetSystemEvents)
	c.Group.GET("/deliveries", c.GetDeliveries)
	c.Group.GET("/events", c.StreamEvents)
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// GetHealth handles GET /health.
func (c *Controller) GetHealth(ctx echo.Context) error {
	version := ""
	if c.Settings != nil {
		version = c.Settings.Version
	}
	return ctx.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version,
		Uptime:  time.Since(c.startTime).Round(time.Second).String(),
	})
}

// GetResources handles GET /system/resources.
func (c *Controller) GetResources(ctx echo.Context) error {
	if c.Monitor == nil {
		return ctx.JSON(http.StatusOK, []monitor.ResourceStatus{})
	}
	return ctx.JSON(http.StatusOK, c.Monitor.Status())
}

// GetSystemEvents handles GET /system/events with optional kind filter.
func (c *Controller) GetSystemEvents(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
	}

	records, err := c.DS.ListSystemEvents(ctx.Request().Context(), limit, ctx.QueryParam("kind"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to list system events", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetDeliveries handles GET /deliveries.
func (c *Controller) GetDeliveries(ctx echo.Context) error {
	if c.Deliveries == nil {
		return ctx.JSON(http.StatusOK, []notification.Delivery{})
	}
	return ctx.JSON(http.StatusOK, c.Deliveries.Deliveries())
}

// StreamEvents handles GET /events: a Server-Sent Events feed of
// pipeline events. The subscription is bounded; a stalled client drops
// events instead of backpressuring the pipeline.
func (c *Controller) StreamEvents(ctx echo.Context) error {
	if c.Bus == nil {
		return c.HandleError(ctx, nil, "event stream unavailable", http.StatusServiceUnavailable)
	}

	resp := ctx.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ch, subCtx := c.Bus.Subscribe(64)
	defer c.Bus.Unsubscribe(ch)

	// Heartbeat keeps proxies from closing an idle stream.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	reqCtx := ctx.Request().Context()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-subCtx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event.Kind, payload); err != nil {
				return nil
			}
			resp.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": heartbeat\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}
