// handlers_directory.go - Employee, asset and CRM import handlers
package api

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// DirectoryHandlerImpl implements the DirectoryHandler interface
type DirectoryHandlerImpl struct {
	repo      DirectoryRepository
	cache     *DirectoryCache
	crm       DirectoryFetcher
	history   HistoryRepository
	views     *SiteViews
	siteID    int64
	companyID string
	log       *zap.Logger
}

// NewDirectoryHandler creates a new directory handler. crm and history may be nil.
func NewDirectoryHandler(repo DirectoryRepository, cache *DirectoryCache, crm DirectoryFetcher, history HistoryRepository,
	views *SiteViews, siteID int64, companyID string, logger *zap.Logger) DirectoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryHandlerImpl{
		repo:      repo,
		cache:     cache,
		crm:       crm,
		history:   history,
		views:     views,
		siteID:    siteID,
		companyID: companyID,
		log:       logger.Named("directory"),
	}
}

// HandleListUsers returns the employees of the company
func (h *DirectoryHandlerImpl) HandleListUsers(c echo.Context) error {
	users, err := h.repo.ListUsers(c.Request().Context(), h.companyID)
	if err != nil {
		return NewInternalError("failed to list users", err)
	}
	return c.JSON(http.StatusOK, users)
}

// HandleCreateUser inserts or replaces an employee
func (h *DirectoryHandlerImpl) HandleCreateUser(c echo.Context) error {
	var req directoryEntryRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	user := models.Employee{ID: req.ID, Name: req.Name, Role: req.Role, CompanyID: h.companyID}
	if err := h.repo.UpsertUser(c.Request().Context(), user); err != nil {
		return NewInternalError("failed to save user", err)
	}
	h.refresh(c)
	return success(c, http.StatusOK, map[string]interface{}{"user": user})
}

// HandleListAssets returns the assets of the company
func (h *DirectoryHandlerImpl) HandleListAssets(c echo.Context) error {
	assets, err := h.repo.ListAssets(c.Request().Context(), h.companyID)
	if err != nil {
		return NewInternalError("failed to list assets", err)
	}
	return c.JSON(http.StatusOK, assets)
}

// HandleCreateAsset inserts or replaces an asset
func (h *DirectoryHandlerImpl) HandleCreateAsset(c echo.Context) error {
	var req directoryEntryRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	asset := models.Asset{ID: req.ID, Name: req.Name, Type: req.Type, CompanyID: h.companyID}
	if err := h.repo.UpsertAsset(c.Request().Context(), asset); err != nil {
		return NewInternalError("failed to save asset", err)
	}
	h.refresh(c)
	return success(c, http.StatusOK, map[string]interface{}{"asset": asset})
}

// HandleCRMImport fetches users and assets from the CRM and stores them
func (h *DirectoryHandlerImpl) HandleCRMImport(c echo.Context) error {
	if h.crm == nil {
		return NewServiceUnavailableError("CRM client not configured")
	}
	ctx := c.Request().Context()

	users, err := h.crm.FetchUsers(ctx)
	if err != nil {
		e := NewServiceUnavailableError("failed to fetch users from CRM")
		e.Details = err.Error()
		return e
	}
	assets, err := h.crm.FetchAssets(ctx)
	if err != nil {
		e := NewServiceUnavailableError("failed to fetch assets from CRM")
		e.Details = err.Error()
		return e
	}

	for i := range users {
		if users[i].CompanyID == "" {
			users[i].CompanyID = h.companyID
		}
	}
	for i := range assets {
		if assets[i].CompanyID == "" {
			assets[i].CompanyID = h.companyID
		}
	}

	if err := h.repo.ImportDirectory(ctx, users, assets); err != nil {
		return NewInternalError("failed to import directory", err)
	}
	h.refresh(c)

	if h.history != nil {
		msg := fmt.Sprintf("imported %d users and %d assets from CRM", len(users), len(assets))
		if err := h.history.AppendLog(ctx, "crm", msg, h.siteID); err != nil {
			h.log.Warn("writing import log failed", zap.Error(err))
		}
	}

	return success(c, http.StatusOK, map[string]interface{}{
		"users":  len(users),
		"assets": len(assets),
	})
}

// refresh reloads the lookup cache so labels change on the next frame.
func (h *DirectoryHandlerImpl) refresh(c echo.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Refresh(c.Request().Context()); err != nil {
		h.log.Warn("refreshing directory cache failed", zap.Error(err))
		return
	}
	if h.views != nil {
		h.views.Invalidate(h.siteID)
	}
}

// Request types

type directoryEntryRequest struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
	Type string `json:"type"`
}

func (r *directoryEntryRequest) validate() error {
	if r.ID <= 0 {
		return NewValidationError("id")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	return nil
}
