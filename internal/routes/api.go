package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/dukerupert/recurring/internal/middleware"
)

// RegisterOpsRoutes registers health and metrics routes.
// These routes do not require authentication and are called by probes and scrapers.
func RegisterOpsRoutes(e *echo.Echo, deps OpsDeps) {
	e.GET("/health", deps.HealthHandler.Health)
	if deps.MetricsHandler != nil {
		e.GET(middleware.MetricsPath, echo.WrapHandler(deps.MetricsHandler))
	}
}

// RegisterAPIRoutes registers the recurring billing API routes.
func RegisterAPIRoutes(e *echo.Echo, deps APIDeps) {
	h := deps.RecurringHandler
	g := e.Group("/api")

	g.POST("/schedules", h.CreateSchedule)
	g.POST("/payment-methods", h.CreatePaymentMethod)

	g.POST("/subscriptions", h.CreateSubscription)
	g.GET("/subscriptions/:id", h.GetSubscription)
	g.POST("/subscriptions/:id/ensure-order", h.EnsureOrder)

	g.GET("/orders/:id", h.GetOrder)
	g.POST("/orders/:id/refresh", h.RefreshOrder)
	g.POST("/orders/:id/close", h.CloseOrder)
	g.POST("/orders/:id/renew", h.RenewOrder)
}
