package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/firesentinel/firesentinel-go/internal/conf"
)

// initThresholdRoutes registers threshold inspection and update endpoints.
func (c *Controller) initThresholdRoutes() {
	c.Group.GET("/thresholds", c.GetThresholds)
	c.Group.PATCH("/thresholds", c.UpdateThresholds)
}

// ThresholdUpdateRequest carries partial threshold updates. Omitted fields
// keep their current value.
type ThresholdUpdateRequest struct {
	ImmediateAlert *float64 `json:"immediate_alert,omitempty"`
	ReviewQueue    *float64 `json:"review_queue,omitempty"`
	LogOnly        *float64 `json:"log_only,omitempty"`
}

// GetThresholds handles GET /thresholds.
func (c *Controller) GetThresholds(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Pipeline.CurrentThresholds())
}

// UpdateThresholds handles PATCH /thresholds. The merged configuration is
// validated as a whole before taking effect; an invalid combination leaves
// the active thresholds unchanged and returns 422.
func (c *Controller) UpdateThresholds(ctx echo.Context) error {
	var req ThresholdUpdateRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	updated := c.Pipeline.CurrentThresholds()
	applyThresholdUpdate(&updated, &req)

	if err := c.Pipeline.UpdateThresholds(updated); err != nil {
		return c.HandleError(ctx, err, "threshold update rejected", http.StatusUnprocessableEntity)
	}

	// The pipeline accepted the update; write it back to the config file so
	// it survives a restart. A failed write keeps the live update in effect.
	if c.persistThresholds != nil {
		if err := c.persistThresholds(updated); err != nil {
			c.logger.Error("failed to persist threshold update", "error", err)
		}
	}
	return ctx.JSON(http.StatusOK, updated)
}

func applyThresholdUpdate(thresholds *conf.ThresholdConfig, req *ThresholdUpdateRequest) {
	if req.ImmediateAlert != nil {
		thresholds.ImmediateAlert = *req.ImmediateAlert
	}
	if req.ReviewQueue != nil {
		thresholds.ReviewQueue = *req.ReviewQueue
	}
	if req.LogOnly != nil {
		thresholds.LogOnly = *req.LogOnly
	}
}
