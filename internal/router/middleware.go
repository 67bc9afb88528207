package router

import (
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/dukerupert/recurring/internal/domain"
)

// Recovery recovers from panics, logs them and hands an internal error to
// the error handler.
func Recovery(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("panic recovered",
						"error", r,
						"path", c.Request().URL.Path,
					)
					err = domain.Internal(fmt.Errorf("panic: %v", r), "http.recover", "panic recovered")
				}
			}()
			return next(c)
		}
	}
}
