// Package v1 provides the public HTTP handlers for the run service.
package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xhe623/planrun/internal/coordinator"
)

// Handler handles HTTP requests.
type Handler struct {
	coord     *coordinator.Coordinator
	keepAlive time.Duration
}

// NewHandler creates a new handler. keepAlive is the interval between
// ping events on otherwise idle live feeds.
func NewHandler(coord *coordinator.Coordinator, keepAlive time.Duration) *Handler {
	return &Handler{
		coord:     coord,
		keepAlive: keepAlive,
	}
}

// RegisterRoutes registers the public routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Run lifecycle API
	e.POST("/v1/runs", h.StartRun)
	e.GET("/v1/runs", h.ListRuns)
	e.GET("/v1/runs/:run_id", h.GetRun)
	e.POST("/v1/runs/:run_id/pause", h.PauseRun)

	// Live event feeds
	e.GET("/v1/runs/:run_id/stream", h.StreamRun)
	e.GET("/v1/runs/:run_id/ws", h.StreamRunWS)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
