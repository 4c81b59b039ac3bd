// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/tracker"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SiteHandler handles sites and their geofence areas
type SiteHandler interface {
	HandleListSites(c echo.Context) error
	HandleCreateSite(c echo.Context) error
	HandleGetSite(c echo.Context) error
	HandleListAreas(c echo.Context) error
	HandleCreateArea(c echo.Context) error
	HandleDeleteArea(c echo.Context) error
}

// DirectoryHandler handles employees, assets and the CRM import
type DirectoryHandler interface {
	HandleListUsers(c echo.Context) error
	HandleCreateUser(c echo.Context) error
	HandleListAssets(c echo.Context) error
	HandleCreateAsset(c echo.Context) error
	HandleCRMImport(c echo.Context) error
}

// AssociationHandler handles tag associations
type AssociationHandler interface {
	HandleAssociate(c echo.Context) error
	HandleListAssociations(c echo.Context) error
	HandleDeleteAssociation(c echo.Context) error
}

// MapHandler handles floor-plan uploads, parse sessions and rendered frames
type MapHandler interface {
	HandleUploadMap(c echo.Context) error
	HandleSessionStatus(c echo.Context) error
	HandleSessionProgressStream(c echo.Context) error
	HandleGetMap(c echo.Context) error
	HandleUpdateMapFile(c echo.Context) error
	HandleFrame(c echo.Context) error
}

// ViewHandler handles zoom and pan of the per-site viewports
type ViewHandler interface {
	HandleGetView(c echo.Context) error
	HandleViewAction(c echo.Context) error
	HandleToDrawing(c echo.Context) error
}

// TagHandler handles tag display data, history and the dashboard
type TagHandler interface {
	HandleListTags(c echo.Context) error
	HandleListTagsMsgpack(c echo.Context) error
	HandleTagHistory(c echo.Context) error
	HandleAlarms(c echo.Context) error
	HandleDashboard(c echo.Context) error
}

// FeedHandler handles manual control of the position feed
type FeedHandler interface {
	HandleFeedStatus(c echo.Context) error
	HandleFeedConnect(c echo.Context) error
	HandleFeedDisconnect(c echo.Context) error
}

// SiteRepository persists sites and areas
type SiteRepository interface {
	ListSites(ctx context.Context, companyID string) ([]models.Site, error)
	GetSite(ctx context.Context, id int64) (models.Site, error)
	CreateSite(ctx context.Context, site models.Site) (models.Site, error)
	UpdateSiteMap(ctx context.Context, siteID int64, mapFile string, width, height float64, corners []models.Point) error
	SaveArea(ctx context.Context, area models.Area) error
	DeleteArea(ctx context.Context, id string) error
	ListAreas(ctx context.Context, siteID int64) ([]models.Area, error)
}

// DirectoryRepository persists employees and assets
type DirectoryRepository interface {
	UpsertUser(ctx context.Context, u models.Employee) error
	UpsertAsset(ctx context.Context, a models.Asset) error
	ImportDirectory(ctx context.Context, users []models.Employee, assets []models.Asset) error
	ListUsers(ctx context.Context, companyID string) ([]models.Employee, error)
	ListAssets(ctx context.Context, companyID string) ([]models.Asset, error)
	Directory(ctx context.Context) (*association.MapDirectory, error)
}

// AssociationRepository persists tag associations per site
type AssociationRepository interface {
	SaveAssociation(ctx context.Context, siteID int64, a models.Association) error
	DeleteAssociation(ctx context.Context, siteID int64, tagID string) error
	ListAssociations(ctx context.Context, siteID int64) ([]models.Association, error)
}

// HistoryRepository reads recorded positions and alarms
type HistoryRepository interface {
	PositionHistory(ctx context.Context, tagID string, since time.Time, limit int) ([]models.TagPosition, error)
	RecentAlarms(ctx context.Context, limit int) ([]models.Alarm, error)
	CountAlarms(ctx context.Context) (int, error)
	AppendLog(ctx context.Context, logType, message string, siteID int64) error
}

// DirectoryFetcher loads the directory from the CRM
type DirectoryFetcher interface {
	FetchUsers(ctx context.Context) ([]models.Employee, error)
	FetchAssets(ctx context.Context) ([]models.Asset, error)
}

// LiveTracker is the live tag state behind the tag and feed routes.
// This allows mocking in tests
type LiveTracker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Status() tracker.StatusInfo
	Positions() []models.TagPosition
	Snapshot(links association.Resolver, dir association.Directory) []models.TagDisplayInfo
	RecentAlarms(limit int) []models.Alarm
	SetAreas(areas []models.Area)
	Areas() []models.Area
}

// SessionManager defines the interface for floor-plan parse sessions
type SessionManager interface {
	StartSession(siteID int64, fileID, filePath string) (*models.ParseSession, error)
	GetSession(id string) (*models.ParseSession, bool)
	Wait(ctx context.Context, id string) (*models.ParseSession, error)
	Current(siteID int64) (*models.Drawing, bool)
}
