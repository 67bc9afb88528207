package routes

import (
	"net/http"

	"github.com/dukerupert/recurring/internal/handler"
	"github.com/dukerupert/recurring/internal/handler/api"
)

// OpsDeps contains dependencies for health and metrics routes
type OpsDeps struct {
	HealthHandler  *handler.HealthHandler
	MetricsHandler http.Handler
}

// APIDeps contains dependencies for the recurring billing API
type APIDeps struct {
	RecurringHandler *api.RecurringHandler
}
