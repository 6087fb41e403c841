package gateway

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"fivecut/internal/logging"
	"fivecut/internal/queue"
	"fivecut/internal/services"
	"fivecut/internal/storage"
)

// httpError maps service-layer errors onto the HTTP status taxonomy.
// Storage failures pass their message through as 500s.
func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, services.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, services.ErrNotFound), errors.Is(err, queue.ErrNotFound), storage.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, services.ErrUnsatisfiableRange):
		return echo.NewHTTPError(http.StatusRequestedRangeNotSatisfiable, "unsatisfiable range")
	case errors.Is(err, services.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// errorHandler renders mapped errors as JSON and logs server-side failures.
func (s *Server) errorHandler(err error, c echo.Context) {
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) {
		httpErr = httpError(err)
	}
	if httpErr.Code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", c.Request().URL.Path),
			logging.Error(err),
		)
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(httpErr.Code)
		return
	}
	_ = c.JSON(httpErr.Code, map[string]any{"error": httpErr.Message})
}
