// handlers_view.go - Zoom and pan handlers for the per-site viewports
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/viewport"
)

// View actions accepted by HandleViewAction
const (
	ViewActionZoomIn  = "zoomIn"
	ViewActionZoomOut = "zoomOut"
	ViewActionWheel   = "wheel"
	ViewActionReset   = "reset"
	ViewActionPan     = "pan"
	ViewActionResize  = "resize"
)

// ViewHandlerImpl implements the ViewHandler interface
type ViewHandlerImpl struct {
	sites SiteRepository
	views *SiteViews
}

// NewViewHandler creates a new view handler
func NewViewHandler(sites SiteRepository, views *SiteViews) ViewHandler {
	return &ViewHandlerImpl{sites: sites, views: views}
}

func (h *ViewHandlerImpl) view(c echo.Context) (int64, *viewport.View, error) {
	siteID, err := siteIDParam(c)
	if err != nil {
		return 0, nil, err
	}
	if _, err := h.sites.GetSite(c.Request().Context(), siteID); err != nil {
		return 0, nil, notFoundOr(err, "site", idString(siteID), "failed to load site")
	}
	return siteID, h.views.View(siteID), nil
}

// HandleGetView returns the view state of a site
func (h *ViewHandlerImpl) HandleGetView(c echo.Context) error {
	_, v, err := h.view(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v.State())
}

// HandleViewAction applies one zoom, pan or resize action and returns the new state
func (h *ViewHandlerImpl) HandleViewAction(c echo.Context) error {
	siteID, v, err := h.view(c)
	if err != nil {
		return err
	}
	var req viewActionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	switch req.Action {
	case ViewActionZoomIn:
		v.ZoomIn()
	case ViewActionZoomOut:
		v.ZoomOut()
	case ViewActionWheel:
		v.Wheel(req.X, req.Y, req.Ticks)
	case ViewActionReset:
		v.ZoomReset()
	case ViewActionPan:
		v.PanBy(req.DX, req.DY)
	case ViewActionResize:
		if req.Width <= 0 || req.Height <= 0 {
			return NewValidationError("width/height")
		}
		v.Resize(req.Width, req.Height)
	default:
		return NewValidationError("action")
	}

	h.views.Invalidate(siteID)
	return c.JSON(http.StatusOK, v.State())
}

// HandleToDrawing maps ?x=&y= screen coordinates to drawing space
func (h *ViewHandlerImpl) HandleToDrawing(c echo.Context) error {
	_, v, err := h.view(c)
	if err != nil {
		return err
	}
	x, err := floatQuery(c, "x")
	if err != nil {
		return err
	}
	y, err := floatQuery(c, "y")
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v.ScreenToDrawing(x, y))
}

// Request types

type viewActionRequest struct {
	Action string  `json:"action"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Ticks  int     `json:"ticks"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
