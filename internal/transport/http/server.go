// Package http provides the HTTP server for the run service.
package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xhe623/planrun/internal/coordinator"
	v1 "github.com/xhe623/planrun/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server. It handles run
// creation, history, pause, and the live event feeds.
func NewServer(coord *coordinator.Coordinator, keepAlive time.Duration) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(coord, keepAlive)

	// Register Routes
	v1Handler.RegisterRoutes(e)

	return e
}
