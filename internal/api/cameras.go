package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// initCameraRoutes registers camera status endpoints.
func (c *Controller) initCameraRoutes() {
	c.Group.GET("/cameras", c.GetCameras)
	c.Group.GET("/cameras/:id", c.GetCamera)
}

// GetCameras handles GET /cameras.
func (c *Controller) GetCameras(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.Cameras.States())
}

// GetCamera handles GET /cameras/:id.
func (c *Controller) GetCamera(ctx echo.Context) error {
	state, ok := c.Cameras.CameraState(ctx.Param("id"))
	if !ok {
		return c.HandleError(ctx, nil, "camera not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, state)
}
