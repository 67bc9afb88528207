// Package router builds the echo instance of the ops API with its global
// middleware chain and error handler.
package router

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/dukerupert/recurring/internal/handler"
	"github.com/dukerupert/recurring/internal/middleware"
)

// New creates an echo instance. Middleware runs in this order: request
// id, metrics (optional), request logging, panic recovery.
func New(logger *slog.Logger, metrics *middleware.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.HTTPErrorHandler(logger)

	e.Use(middleware.RequestID())
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(middleware.RequestLogger(logger))
	e.Use(Recovery(logger))

	return e
}
