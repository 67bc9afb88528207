// Package handler holds the HTTP plumbing shared by the ops API.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dukerupert/recurring/internal/domain"
	"github.com/dukerupert/recurring/internal/middleware"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EPAYMENT, domain.EDECLINE:
		return http.StatusPaymentRequired
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT:
		return http.StatusConflict
	case domain.ENOTIMPL:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

// HTTPErrorHandler writes domain errors as JSON. Internal errors are logged
// with their details and answered with a generic message.
func HTTPErrorHandler(fallback *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := responseFor(err)

		logger := middleware.GetLogger(c.Request().Context(), fallback)
		attrs := []any{"error", err.Error(), "code", body.Code, "status", status}
		if op := domain.ErrorOp(err); op != "" {
			attrs = append(attrs, "op", op)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", attrs...)
		} else {
			logger.Debug("request rejected", attrs...)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, errorResponse{Error: body})
		}
		if err != nil {
			logger.Error("failed to write error response", "error", err)
		}
	}
}

func responseFor(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, errorBody{Code: httpStatusCode(he.Code), Message: msg}
	}

	code := domain.ErrorCode(err)
	body := errorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
		Fields:  domain.GetValidationFields(err),
	}
	if code == domain.EINTERNAL {
		body.Message = "An internal error occurred. Please try again later."
	}
	return ErrorCodeToHTTPStatus(code), body
}

// httpStatusCode names framework errors (unknown route, bad method) with
// the closest domain code.
func httpStatusCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return domain.ENOTFOUND
	case http.StatusConflict:
		return domain.ECONFLICT
	}
	if status >= http.StatusInternalServerError {
		return domain.EINTERNAL
	}
	return domain.EINVALID
}
