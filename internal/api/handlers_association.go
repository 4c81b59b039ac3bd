// handlers_association.go - Tag association handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/models"
)

// AssociationHandlerImpl implements the AssociationHandler interface.
// The in-memory store mirrors the tracked site; other sites are only
// persisted.
type AssociationHandlerImpl struct {
	links  *association.Store
	repo   AssociationRepository
	views  *SiteViews
	siteID int64
}

// NewAssociationHandler creates a new association handler
func NewAssociationHandler(links *association.Store, repo AssociationRepository, views *SiteViews, siteID int64) AssociationHandler {
	return &AssociationHandlerImpl{
		links:  links,
		repo:   repo,
		views:  views,
		siteID: siteID,
	}
}

// HandleAssociate links a tag to an employee or asset. An empty target
// clears the association.
func (h *AssociationHandlerImpl) HandleAssociate(c echo.Context) error {
	var req associateRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	siteID := req.SiteID
	if siteID == 0 {
		siteID = h.siteID
	}

	ctx := c.Request().Context()
	a := models.Association{TagID: req.TagID, TargetType: req.TargetType, TargetID: req.TargetID}
	cleared := req.TargetType == "" || req.TargetID == 0

	var err error
	if cleared {
		err = h.repo.DeleteAssociation(ctx, siteID, req.TagID)
	} else {
		err = h.repo.SaveAssociation(ctx, siteID, a)
	}
	if err != nil {
		return NewInternalError("failed to save association", err)
	}

	if siteID == h.siteID {
		h.links.Associate(req.TagID, req.TargetType, req.TargetID)
		if h.views != nil {
			h.views.Invalidate(siteID)
		}
	}

	if cleared {
		return success(c, http.StatusOK, map[string]interface{}{"cleared": req.TagID})
	}
	return success(c, http.StatusOK, map[string]interface{}{"association": a})
}

// HandleListAssociations returns the associations of ?siteId= (default: the tracked site)
func (h *AssociationHandlerImpl) HandleListAssociations(c echo.Context) error {
	siteID, err := siteIDQuery(c, h.siteID)
	if err != nil {
		return err
	}
	if siteID == h.siteID {
		return c.JSON(http.StatusOK, h.links.All())
	}
	links, err := h.repo.ListAssociations(c.Request().Context(), siteID)
	if err != nil {
		return NewInternalError("failed to list associations", err)
	}
	return c.JSON(http.StatusOK, links)
}

// HandleDeleteAssociation clears the association of :tagId
func (h *AssociationHandlerImpl) HandleDeleteAssociation(c echo.Context) error {
	tagID := c.Param("tagId")
	if tagID == "" {
		return NewValidationError("tagId")
	}
	siteID, err := siteIDQuery(c, h.siteID)
	if err != nil {
		return err
	}

	if siteID == h.siteID {
		if _, ok := h.links.Resolve(tagID); !ok {
			return NewNotFoundError("association", tagID)
		}
	}
	if err := h.repo.DeleteAssociation(c.Request().Context(), siteID, tagID); err != nil {
		return NewInternalError("failed to delete association", err)
	}
	if siteID == h.siteID {
		h.links.Remove(tagID)
		if h.views != nil {
			h.views.Invalidate(siteID)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// Request types

type associateRequest struct {
	TagID      string            `json:"tagId"`
	TargetType models.TargetType `json:"targetType"`
	TargetID   int64             `json:"targetId"`
	SiteID     int64             `json:"siteId"`
}

func (r *associateRequest) validate() error {
	if r.TagID == "" {
		return NewValidationError("tagId")
	}
	if r.TargetType != "" && !r.TargetType.Valid() {
		return NewValidationError("targetType")
	}
	if r.TargetID < 0 {
		return NewValidationError("targetId")
	}
	if r.SiteID < 0 {
		return NewValidationError("siteId")
	}
	return nil
}
