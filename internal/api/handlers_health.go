// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	ping    func(ctx context.Context) error
}

// NewHealthHandler creates a new health handler. ping may be nil.
func NewHealthHandler(version string, ping func(ctx context.Context) error) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		ping:    ping,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	body := map[string]interface{}{
		"status":  "ok",
		"version": h.version,
	}
	if h.ping != nil {
		if err := h.ping(c.Request().Context()); err != nil {
			body["status"] = "degraded"
			body["database"] = err.Error()
		} else {
			body["database"] = "ok"
		}
	}
	return c.JSON(http.StatusOK, body)
}
