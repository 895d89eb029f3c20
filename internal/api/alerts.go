package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/firesentinel/firesentinel-go/internal/datastore"
	"github.com/firesentinel/firesentinel-go/internal/errors"
)

// initAlertRoutes registers all alert-related API endpoints.
func (c *Controller) initAlertRoutes() {
	c.Group.GET("/alerts", c.GetAlerts)
	c.Group.GET("/alerts/:id", c.GetAlert)
	c.Group.POST("/alerts/:id/acknowledge", c.AcknowledgeAlert)
	c.Group.POST("/alerts/:id/false-positive", c.ReviewAlert)
	c.Group.GET("/statistics", c.GetStatistics)
}

// AcknowledgeRequest is the body for alert acknowledgement.
type AcknowledgeRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// AcknowledgeResponse reports the outcome of an acknowledge call.
type AcknowledgeResponse struct {
	ID                  string `json:"id"`
	Acknowledged        bool   `json:"acknowledged"`
	AlreadyAcknowledged bool   `json:"already_acknowledged"`
}

// ReviewRequest is the body for marking a reviewed alert.
type ReviewRequest struct {
	FalsePositive bool `json:"false_positive"`
}

// GetAlerts handles GET /alerts with optional filters.
func (c *Controller) GetAlerts(ctx echo.Context) error {
	limit, _ := strconv.Atoi(ctx.QueryParam("limit"))
	if limit <= 0 {
		limit = 100
	} else if limit > 1000 {
		limit = 1000
	}

	filter := datastore.AlertFilter{
		CameraID:  ctx.QueryParam("camera"),
		Tier:      ctx.QueryParam("tier"),
		OnlyUnack: ctx.QueryParam("unacknowledged") == "true",
	}
	if since := ctx.QueryParam("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return c.HandleError(ctx, err, "invalid since timestamp, expected RFC3339", http.StatusBadRequest)
		}
		filter.Since = t
	}
	if until := ctx.QueryParam("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return c.HandleError(ctx, err, "invalid until timestamp, expected RFC3339", http.StatusBadRequest)
		}
		filter.Until = t
	}

	records, err := c.DS.ListRecent(ctx.Request().Context(), limit, filter)
	if err != nil {
		return c.HandleError(ctx, err, "failed to list alerts", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, records)
}

// GetAlert handles GET /alerts/:id.
func (c *Controller) GetAlert(ctx echo.Context) error {
	record, err := c.DS.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.HasCategory(err, errors.CategoryNotFound) {
			return c.HandleError(ctx, err, "alert not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "failed to load alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, record)
}

// AcknowledgeAlert handles POST /alerts/:id/acknowledge. The operation is
// idempotent: acknowledging an already-acknowledged alert succeeds and
// reports the prior state.
func (c *Controller) AcknowledgeAlert(ctx echo.Context) error {
	var req AcknowledgeRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if req.AcknowledgedBy == "" {
		req.AcknowledgedBy = "operator"
	}

	id := ctx.Param("id")
	outcome, err := c.Pipeline.Acknowledge(ctx.Request().Context(), id, req.AcknowledgedBy)
	if err != nil {
		if errors.HasCategory(err, errors.CategoryNotFound) {
			return c.HandleError(ctx, err, "alert not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "failed to acknowledge alert", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, AcknowledgeResponse{
		ID:                  id,
		Acknowledged:        true,
		AlreadyAcknowledged: outcome == datastore.AckAlreadyAcknowledged,
	})
}

// ReviewAlert handles POST /alerts/:id/false-positive.
func (c *Controller) ReviewAlert(ctx echo.Context) error {
	var req ReviewRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	id := ctx.Param("id")
	if err := c.DS.MarkFalsePositive(ctx.Request().Context(), id, req.FalsePositive); err != nil {
		if errors.HasCategory(err, errors.CategoryNotFound) {
			return c.HandleError(ctx, err, "alert not found", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "failed to review alert", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"id":             id,
		"false_positive": req.FalsePositive,
	})
}

// GetStatistics handles GET /statistics?window=24h.
func (c *Controller) GetStatistics(ctx echo.Context) error {
	window := 24 * time.Hour
	if raw := ctx.QueryParam("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return c.HandleError(ctx, err, "invalid window duration", http.StatusBadRequest)
		}
		window = parsed
	}

	stats, err := c.DS.Statistics(ctx.Request().Context(), window)
	if err != nil {
		return c.HandleError(ctx, err, "failed to compute statistics", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, stats)
}
