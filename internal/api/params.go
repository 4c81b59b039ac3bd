// params.go - Request parameter helpers shared by the handlers
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/database"
)

func parseInt64Param(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// siteIDParam reads a positive :siteId path parameter.
func siteIDParam(c echo.Context) (int64, error) {
	id, err := parseInt64Param(c.Param("siteId"))
	if err != nil || id <= 0 {
		return 0, NewValidationError("siteId")
	}
	return id, nil
}

// siteIDQuery reads ?siteId=, falling back to def when absent.
func siteIDQuery(c echo.Context, def int64) (int64, error) {
	raw := c.QueryParam("siteId")
	if raw == "" {
		return def, nil
	}
	id, err := parseInt64Param(raw)
	if err != nil || id <= 0 {
		return 0, NewValidationError("siteId")
	}
	return id, nil
}

// intQuery reads an integer query parameter, returning def when absent or invalid.
func intQuery(c echo.Context, name string, def int) int {
	v, err := strconv.Atoi(c.QueryParam(name))
	if err != nil {
		return def
	}
	return v
}

// floatQuery reads a required float query parameter.
func floatQuery(c echo.Context, name string) (float64, error) {
	v, err := strconv.ParseFloat(c.QueryParam(name), 64)
	if err != nil {
		return 0, NewValidationError(name)
	}
	return v, nil
}

// parseTimestamp accepts unix milliseconds or RFC 3339.
func parseTimestamp(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, s)
}

// notFoundOr maps database.ErrNotFound to a 404 and anything else to a 500.
func notFoundOr(err error, resource, id, message string) *APIError {
	if errors.Is(err, database.ErrNotFound) {
		return NewNotFoundError(resource, id)
	}
	return NewInternalError(message, err)
}

func success(c echo.Context, status int, extra map[string]interface{}) error {
	body := map[string]interface{}{"success": true}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(status, body)
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func idString(id int64) string {
	return fmt.Sprintf("%d", id)
}
