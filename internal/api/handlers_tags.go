// handlers_tags.go - Tag display, history, alarm and dashboard handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/tracker"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 500
	defaultAlarmLimit   = 50
	defaultHistoryRange = time.Hour
)

// TagHandlerImpl implements the TagHandler interface
type TagHandlerImpl struct {
	tracker LiveTracker
	links   association.Resolver
	dir     association.Directory
	users   DirectoryRepository
	history HistoryRepository
	// companyID scopes the dashboard directory totals
	companyID string
	log       *zap.Logger
}

// NewTagHandler creates a new tag handler. history may be nil.
func NewTagHandler(live LiveTracker, links association.Resolver, dir association.Directory,
	users DirectoryRepository, history HistoryRepository, companyID string, logger *zap.Logger) TagHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TagHandlerImpl{
		tracker:   live,
		links:     links,
		dir:       dir,
		users:     users,
		history:   history,
		companyID: companyID,
		log:       logger.Named("tags"),
	}
}

// HandleListTags returns the display info of every tracked tag
func (h *TagHandlerImpl) HandleListTags(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Snapshot(h.links, h.dir))
}

// HandleListTagsMsgpack returns the same snapshot encoded as MessagePack
func (h *TagHandlerImpl) HandleListTagsMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(h.tracker.Snapshot(h.links, h.dir))
	if err != nil {
		return NewInternalError("failed to encode tags", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleTagHistory returns recorded positions of :tagId since ?since= (default: last hour)
func (h *TagHandlerImpl) HandleTagHistory(c echo.Context) error {
	tagID := c.Param("tagId")
	if tagID == "" {
		return NewValidationError("tagId")
	}
	if h.history == nil {
		return NewServiceUnavailableError("position history not available")
	}

	since := time.Now().Add(-defaultHistoryRange)
	if raw := c.QueryParam("since"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			return NewBadRequestError("invalid since timestamp", err)
		}
		since = t
	}
	limit := intQuery(c, "limit", defaultHistoryLimit)

	positions, err := h.history.PositionHistory(c.Request().Context(), tagID, since, limit)
	if err != nil {
		return NewInternalError("failed to load history", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tagId":     tagID,
		"since":     since,
		"positions": positions,
	})
}

// HandleAlarms returns the most recent alarms. Recorded alarms are
// preferred; the tracker's in-memory list is the fallback.
func (h *TagHandlerImpl) HandleAlarms(c echo.Context) error {
	limit := intQuery(c, "limit", defaultAlarmLimit)
	if h.history != nil {
		alarms, err := h.history.RecentAlarms(c.Request().Context(), limit)
		if err == nil {
			return c.JSON(http.StatusOK, alarms)
		}
		h.log.Warn("loading recorded alarms failed", zap.Error(err))
	}
	alarms := h.tracker.RecentAlarms(limit)
	if alarms == nil {
		alarms = []models.Alarm{}
	}
	return c.JSON(http.StatusOK, alarms)
}

// HandleDashboard returns the summary counters
func (h *TagHandlerImpl) HandleDashboard(c echo.Context) error {
	ctx := c.Request().Context()
	infos := h.tracker.Snapshot(h.links, h.dir)

	resp := dashboardResponse{
		Feed: h.tracker.Status(),
		Tags: len(infos),
	}
	for _, info := range infos {
		if !info.Associated {
			resp.Unassociated++
		}
		if info.Stale {
			resp.Stale++
		}
	}

	users, err := h.users.ListUsers(ctx, h.companyID)
	if err != nil {
		return NewInternalError("failed to count users", err)
	}
	assets, err := h.users.ListAssets(ctx, h.companyID)
	if err != nil {
		return NewInternalError("failed to count assets", err)
	}
	resp.Employees = len(users)
	resp.Assets = len(assets)

	if h.history != nil {
		n, err := h.history.CountAlarms(ctx)
		if err != nil {
			return NewInternalError("failed to count alarms", err)
		}
		resp.Alarms = n
	} else {
		resp.Alarms = len(h.tracker.RecentAlarms(0))
	}
	return c.JSON(http.StatusOK, resp)
}

type dashboardResponse struct {
	Tags         int                `json:"tags"`
	Employees    int                `json:"employees"`
	Assets       int                `json:"assets"`
	Unassociated int                `json:"unassociated"`
	Stale        int                `json:"stale"`
	Alarms       int                `json:"alarms"`
	Feed         tracker.StatusInfo `json:"feed"`
}
