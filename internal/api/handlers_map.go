// handlers_map.go - Floor-plan upload, parse session and frame handlers
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/parser"
	"github.com/site-tracker/backend/internal/storage"
	"go.uber.org/zap"
)

const (
	parseWaitTimeout   = 2 * time.Minute
	progressPollPeriod = 100 * time.Millisecond
	progressTimeout    = 5 * time.Minute
)

// MapHandlerImpl implements the MapHandler interface
type MapHandlerImpl struct {
	sites    SiteRepository
	store    storage.Store
	sessions SessionManager
	views    *SiteViews
	log      *zap.Logger
}

// NewMapHandler creates a new map handler
func NewMapHandler(sites SiteRepository, store storage.Store, sessions SessionManager, views *SiteViews, logger *zap.Logger) MapHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MapHandlerImpl{
		sites:    sites,
		store:    store,
		sessions: sessions,
		views:    views,
		log:      logger.Named("map"),
	}
}

// HandleUploadMap stores a base64 DXF and starts parsing it. With
// "wait": true the response carries the finished session.
func (h *MapHandlerImpl) HandleUploadMap(c echo.Context) error {
	var req uploadMapRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	data, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	ctx := c.Request().Context()
	site, err := h.sites.GetSite(ctx, req.SiteID)
	if err != nil {
		return notFoundOr(err, "site", idString(req.SiteID), "failed to load site")
	}

	info, err := h.store.SaveBytes(site.ID, req.Name, data)
	if err != nil {
		return NewInternalError("failed to save drawing", err)
	}

	sess, err := h.startParse(site, info.ID)
	if err != nil {
		return err
	}

	if !req.Wait {
		go h.finishAsync(site, info.ID, sess.ID)
		return c.JSON(http.StatusAccepted, sess)
	}

	waitCtx, cancel := context.WithTimeout(ctx, parseWaitTimeout)
	defer cancel()
	done, err := h.sessions.Wait(waitCtx, sess.ID)
	if done == nil {
		return NewInternalError("waiting for parse failed", err)
	}
	if ferr := h.finish(context.Background(), site, info.ID, err); ferr != nil {
		h.log.Warn("recording parse result failed", zap.String("file", info.ID), zap.Error(ferr))
	}
	var perr *parser.ParseError
	if errors.As(err, &perr) {
		return NewParseError(perr)
	}
	if err != nil {
		return NewUnprocessableError("PARSE_FAILED", "drawing could not be parsed", err)
	}
	return c.JSON(http.StatusOK, done)
}

func (h *MapHandlerImpl) startParse(site models.Site, fileID string) (*models.ParseSession, error) {
	path, err := h.store.GetFilePath(fileID)
	if err != nil {
		return nil, NewInternalError("failed to locate drawing", err)
	}
	sess, err := h.sessions.StartSession(site.ID, fileID, path)
	if err != nil {
		return nil, NewInternalError("failed to start parse session", err)
	}
	if err := h.store.SetStatus(fileID, models.FileStatusParsing); err != nil {
		h.log.Warn("marking drawing as parsing failed", zap.String("file", fileID), zap.Error(err))
	}
	return sess, nil
}

func (h *MapHandlerImpl) finishAsync(site models.Site, fileID, sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), parseWaitTimeout)
	defer cancel()

	done, err := h.sessions.Wait(ctx, sessionID)
	if done == nil {
		h.log.Warn("parse session did not finish", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if ferr := h.finish(ctx, site, fileID, err); ferr != nil {
		h.log.Warn("recording parse result failed", zap.String("file", fileID), zap.Error(ferr))
	}
}

// finish records the parse outcome on the drawing file and, on success,
// points the site at the new drawing.
func (h *MapHandlerImpl) finish(ctx context.Context, site models.Site, fileID string, parseErr error) error {
	if parseErr != nil {
		return h.store.SetStatus(fileID, models.FileStatusError)
	}
	if err := h.store.SetStatus(fileID, models.FileStatusParsed); err != nil {
		return err
	}
	return h.sites.UpdateSiteMap(ctx, site.ID, fileID, site.MapWidth, site.MapHeight, site.MapCorners)
}

// HandleSessionStatus returns the status of a parse session
func (h *MapHandlerImpl) HandleSessionStatus(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}
	sess, ok := h.sessions.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, sess)
}

// HandleSessionProgressStream streams parse progress via SSE
func (h *MapHandlerImpl) HandleSessionProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if id == "" {
		return NewValidationError("sessionId")
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	sess, ok := h.sessions.GetSession(id)
	if !ok {
		sendSSEError(c, "session not found")
		return nil
	}
	sendSSEData(c, sess)
	if finished(sess) {
		return nil
	}

	ticker := time.NewTicker(progressPollPeriod)
	defer ticker.Stop()
	timeout := time.NewTimer(progressTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
			sess, ok := h.sessions.GetSession(id)
			if !ok {
				sendSSEError(c, "session not found")
				return nil
			}
			sendSSEData(c, sess)
			if finished(sess) {
				return nil
			}
		case <-timeout.C:
			sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

func finished(s *models.ParseSession) bool {
	return s.Status == models.SessionStatusComplete || s.Status == models.SessionStatusError
}

// HandleGetMap returns the map metadata of a site with its current drawing
func (h *MapHandlerImpl) HandleGetMap(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	site, err := h.sites.GetSite(c.Request().Context(), siteID)
	if err != nil {
		return notFoundOr(err, "site", idString(siteID), "failed to load site")
	}

	resp := mapResponse{
		SiteID:     site.ID,
		MapFile:    site.MapFile,
		MapWidth:   site.MapWidth,
		MapHeight:  site.MapHeight,
		MapCorners: site.MapCorners,
		Primitives: []models.Primitive{},
		Bounds:     parser.ComputeBounds(nil, parser.DefaultMargin),
	}
	if d, ok := h.sessions.Current(siteID); ok && d != nil {
		resp.Primitives = d.Primitives
		resp.Bounds = d.Bounds
		resp.Layers = d.Layers
		resp.Loaded = true
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleUpdateMapFile updates the map metadata of a site. A map file that
// names a stored drawing different from the current one is parsed.
func (h *MapHandlerImpl) HandleUpdateMapFile(c echo.Context) error {
	var req updateMapFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	site, err := h.sites.GetSite(ctx, req.SiteID)
	if err != nil {
		return notFoundOr(err, "site", idString(req.SiteID), "failed to load site")
	}

	fileID := storedFileID(req.MapFile)
	if err := h.sites.UpdateSiteMap(ctx, site.ID, fileID, req.MapWidth, req.MapHeight, req.MapCorners); err != nil {
		return notFoundOr(err, "site", idString(site.ID), "failed to update site map")
	}
	site.MapFile, site.MapWidth, site.MapHeight, site.MapCorners = fileID, req.MapWidth, req.MapHeight, req.MapCorners

	if fileID == "" {
		return success(c, http.StatusOK, map[string]interface{}{"site": site})
	}
	if _, err := h.store.Get(fileID); err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			// metadata only; the drawing lives elsewhere
			return success(c, http.StatusOK, map[string]interface{}{"site": site})
		}
		return NewInternalError("failed to load drawing", err)
	}

	sess, err := h.startParse(site, fileID)
	if err != nil {
		return err
	}
	go h.finishAsync(site, fileID, sess.ID)
	return success(c, http.StatusAccepted, map[string]interface{}{"site": site, "session": sess})
}

// storedFileID strips a directory and the .dxf extension from a map file
// reference so both "abc" and "maps/abc.dxf" name drawing abc.
func storedFileID(mapFile string) string {
	base := filepath.Base(strings.TrimSpace(mapFile))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, ".dxf")
}

// HandleFrame returns the latest rendered SVG frame of a site
func (h *MapHandlerImpl) HandleFrame(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	if _, err := h.sites.GetSite(c.Request().Context(), siteID); err != nil {
		return notFoundOr(err, "site", idString(siteID), "failed to load site")
	}

	frame, at, err := h.views.Loop(siteID).Latest()
	if err != nil {
		return NewInternalError("failed to render frame", err)
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	c.Response().Header().Set("X-Frame-Rendered-At", at.UTC().Format(time.RFC3339Nano))
	return c.Blob(http.StatusOK, "image/svg+xml", frame)
}

func sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func sendSSEError(c echo.Context, message string) {
	sendSSEData(c, map[string]string{"error": message})
}

// Request and response types

type uploadMapRequest struct {
	SiteID int64  `json:"siteId"`
	Name   string `json:"name"`
	Data   string `json:"data"`
	Wait   bool   `json:"wait"`
}

func (r *uploadMapRequest) validate() error {
	if r.SiteID <= 0 {
		return NewValidationError("siteId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type updateMapFileRequest struct {
	SiteID     int64          `json:"siteId"`
	MapFile    string         `json:"mapFile"`
	MapWidth   float64        `json:"mapWidth"`
	MapHeight  float64        `json:"mapHeight"`
	MapCorners []models.Point `json:"mapCorners"`
}

func (r *updateMapFileRequest) validate() error {
	if r.SiteID <= 0 {
		return NewValidationError("siteId")
	}
	if r.MapWidth < 0 {
		return NewValidationError("mapWidth")
	}
	if r.MapHeight < 0 {
		return NewValidationError("mapHeight")
	}
	return nil
}

type mapResponse struct {
	SiteID     int64              `json:"siteId"`
	MapFile    string             `json:"mapFile"`
	MapWidth   float64            `json:"mapWidth"`
	MapHeight  float64            `json:"mapHeight"`
	MapCorners []models.Point     `json:"mapCorners"`
	Loaded     bool               `json:"loaded"`
	Primitives []models.Primitive `json:"primitives"`
	Layers     []string           `json:"layers,omitempty"`
	Bounds     models.BoundingBox `json:"bounds"`
}
