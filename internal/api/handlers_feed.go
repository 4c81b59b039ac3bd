// handlers_feed.go - Manual position feed control
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/feed"
	"go.uber.org/zap"
)

// FeedHandlerImpl implements the FeedHandler interface
type FeedHandlerImpl struct {
	// ctx bounds the feed connection; request contexts end with the request.
	ctx     context.Context
	tracker LiveTracker
	history HistoryRepository
	siteID  int64
	log     *zap.Logger
}

// NewFeedHandler creates a new feed handler. history may be nil.
func NewFeedHandler(ctx context.Context, live LiveTracker, history HistoryRepository, siteID int64, logger *zap.Logger) FeedHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedHandlerImpl{
		ctx:     ctx,
		tracker: live,
		history: history,
		siteID:  siteID,
		log:     logger.Named("feed"),
	}
}

// HandleFeedStatus returns the feed connection summary
func (h *FeedHandlerImpl) HandleFeedStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Status())
}

// HandleFeedConnect starts the feed. Completion is reported via the status route.
func (h *FeedHandlerImpl) HandleFeedConnect(c echo.Context) error {
	if err := h.tracker.Connect(h.ctx); err != nil {
		if errors.Is(err, feed.ErrAlreadyConnected) {
			return NewConflictError("feed already connected")
		}
		return NewInternalError("failed to connect feed", err)
	}
	h.record(c, "feed connect requested")
	return success(c, http.StatusAccepted, map[string]interface{}{"status": h.tracker.Status()})
}

// HandleFeedDisconnect stops the feed
func (h *FeedHandlerImpl) HandleFeedDisconnect(c echo.Context) error {
	if err := h.tracker.Disconnect(); err != nil {
		return NewInternalError("failed to disconnect feed", err)
	}
	h.record(c, "feed disconnected")
	return success(c, http.StatusOK, map[string]interface{}{"status": h.tracker.Status()})
}

func (h *FeedHandlerImpl) record(c echo.Context, msg string) {
	if h.history == nil {
		return
	}
	if err := h.history.AppendLog(c.Request().Context(), "feed", msg, h.siteID); err != nil {
		h.log.Warn("writing feed log failed", zap.Error(err))
	}
}
