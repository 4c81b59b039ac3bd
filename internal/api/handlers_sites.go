// handlers_sites.go - Site and geofence area handlers
package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/crm"
	"github.com/site-tracker/backend/internal/models"
)

// SiteHandlerImpl implements the SiteHandler interface
type SiteHandlerImpl struct {
	sites     SiteRepository
	views     *SiteViews
	companyID string
}

// NewSiteHandler creates a new site handler
func NewSiteHandler(sites SiteRepository, views *SiteViews, companyID string) SiteHandler {
	return &SiteHandlerImpl{
		sites:     sites,
		views:     views,
		companyID: companyID,
	}
}

// HandleListSites returns the sites of the configured company, or of ?companyId=
func (h *SiteHandlerImpl) HandleListSites(c echo.Context) error {
	companyID := h.companyID
	if raw := c.QueryParam("companyId"); raw != "" {
		id, err := crm.ParseCompanyID(raw)
		if err != nil {
			return NewBadRequestError("invalid companyId", err)
		}
		companyID = id
	}

	sites, err := h.sites.ListSites(c.Request().Context(), companyID)
	if err != nil {
		return NewInternalError("failed to list sites", err)
	}
	return c.JSON(http.StatusOK, sites)
}

// HandleCreateSite creates a site
func (h *SiteHandlerImpl) HandleCreateSite(c echo.Context) error {
	var req createSiteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if req.CompanyID == "" {
		req.CompanyID = h.companyID
	}

	site, err := h.sites.CreateSite(c.Request().Context(), models.Site{
		Name:       req.Name,
		ServerIP:   req.ServerIP,
		ServerPort: req.ServerPort,
		MapFile:    req.MapFile,
		MapWidth:   req.MapWidth,
		MapHeight:  req.MapHeight,
		MapCorners: req.MapCorners,
		Company:    req.Company,
		CompanyID:  req.CompanyID,
	})
	if err != nil {
		return NewInternalError("failed to create site", err)
	}
	return c.JSON(http.StatusCreated, site)
}

// HandleGetSite returns one site
func (h *SiteHandlerImpl) HandleGetSite(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	site, err := h.sites.GetSite(c.Request().Context(), siteID)
	if err != nil {
		return notFoundOr(err, "site", idString(siteID), "failed to load site")
	}
	return c.JSON(http.StatusOK, site)
}

// HandleListAreas returns the geofences of a site
func (h *SiteHandlerImpl) HandleListAreas(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	areas, err := h.sites.ListAreas(c.Request().Context(), siteID)
	if err != nil {
		return NewInternalError("failed to list areas", err)
	}
	return c.JSON(http.StatusOK, areas)
}

// HandleCreateArea adds or replaces a geofence of a site
func (h *SiteHandlerImpl) HandleCreateArea(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	var req createAreaRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if _, err := h.sites.GetSite(ctx, siteID); err != nil {
		return notFoundOr(err, "site", idString(siteID), "failed to load site")
	}

	area := models.Area{
		ID:        req.ID,
		SiteID:    siteID,
		Name:      req.Name,
		Type:      req.Type,
		Points:    req.Points,
		CreatedAt: time.Now(),
	}
	if area.ID == "" {
		area.ID = uuid.New().String()
	}
	if area.Type == "" {
		area.Type = models.AreaTypeGeofence
	}
	if err := h.sites.SaveArea(ctx, area); err != nil {
		return NewInternalError("failed to save area", err)
	}
	if err := h.reloadAreas(c, siteID); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, area)
}

// HandleDeleteArea removes a geofence
func (h *SiteHandlerImpl) HandleDeleteArea(c echo.Context) error {
	siteID, err := siteIDParam(c)
	if err != nil {
		return err
	}
	areaID := c.Param("areaId")
	if areaID == "" {
		return NewValidationError("areaId")
	}
	if err := h.sites.DeleteArea(c.Request().Context(), areaID); err != nil {
		return notFoundOr(err, "area", areaID, "failed to delete area")
	}
	if err := h.reloadAreas(c, siteID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *SiteHandlerImpl) reloadAreas(c echo.Context, siteID int64) error {
	if h.views == nil {
		return nil
	}
	areas, err := h.sites.ListAreas(c.Request().Context(), siteID)
	if err != nil {
		return NewInternalError("failed to reload areas", err)
	}
	h.views.SetAreas(siteID, areas)
	return nil
}

// Request types

type createSiteRequest struct {
	Name       string         `json:"name"`
	ServerIP   string         `json:"serverIp"`
	ServerPort int            `json:"serverPort"`
	MapFile    string         `json:"mapFile"`
	MapWidth   float64        `json:"mapWidth"`
	MapHeight  float64        `json:"mapHeight"`
	MapCorners []models.Point `json:"mapCorners"`
	Company    string         `json:"company"`
	CompanyID  string         `json:"companyId"`
}

func (r *createSiteRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.MapWidth < 0 {
		return NewValidationError("mapWidth")
	}
	if r.MapHeight < 0 {
		return NewValidationError("mapHeight")
	}
	if r.ServerPort < 0 || r.ServerPort > 65535 {
		return NewValidationError("serverPort")
	}
	return nil
}

type createAreaRequest struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Points []models.Point `json:"points"`
}

func (r *createAreaRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if len(r.Points) < 3 {
		return NewValidationError("points")
	}
	return nil
}
