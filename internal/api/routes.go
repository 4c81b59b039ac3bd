// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/database"
	"github.com/site-tracker/backend/internal/storage"
	"go.uber.org/zap"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	// Ctx bounds background work started by handlers, e.g. the feed connection.
	Ctx       context.Context
	DB        *database.SiteDB
	CRM       DirectoryFetcher
	Store     storage.Store
	Sessions  SessionManager
	Tracker   LiveTracker
	Links     *association.Store
	DirCache  *DirectoryCache
	Views     *SiteViews
	Hub       *PositionHub
	SiteID    int64
	CompanyID string
	Version   string
	Logger    *zap.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health       HealthHandler
	Sites        SiteHandler
	Directory    DirectoryHandler
	Associations AssociationHandler
	Map          MapHandler
	View         ViewHandler
	Tags         TagHandler
	Feed         FeedHandler
	Hub          *PositionHub
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx := deps.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		ping    func(context.Context) error
		history HistoryRepository
	)
	if deps.DB != nil {
		ping = deps.DB.Ping
		history = deps.DB
	}

	return &Handlers{
		Health:       NewHealthHandler(deps.Version, ping),
		Sites:        NewSiteHandler(deps.DB, deps.Views, deps.CompanyID),
		Directory:    NewDirectoryHandler(deps.DB, deps.DirCache, deps.CRM, history, deps.Views, deps.SiteID, deps.CompanyID, logger),
		Associations: NewAssociationHandler(deps.Links, deps.DB, deps.Views, deps.SiteID),
		Map:          NewMapHandler(deps.DB, deps.Store, deps.Sessions, deps.Views, logger),
		View:         NewViewHandler(deps.DB, deps.Views),
		Tags:         NewTagHandler(deps.Tracker, deps.Links, deps.DirCache, deps.DB, history, deps.CompanyID, logger),
		Feed:         NewFeedHandler(ctx, deps.Tracker, history, deps.SiteID, logger),
		Hub:          deps.Hub,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Sites and geofences
	api.GET("/sites", handlers.Sites.HandleListSites)
	api.POST("/sites", handlers.Sites.HandleCreateSite)
	api.GET("/sites/:siteId", handlers.Sites.HandleGetSite)
	api.GET("/sites/:siteId/areas", handlers.Sites.HandleListAreas)
	api.POST("/sites/:siteId/areas", handlers.Sites.HandleCreateArea)
	api.DELETE("/sites/:siteId/areas/:areaId", handlers.Sites.HandleDeleteArea)

	// Directory
	api.GET("/users", handlers.Directory.HandleListUsers)
	api.POST("/users", handlers.Directory.HandleCreateUser)
	api.GET("/assets", handlers.Directory.HandleListAssets)
	api.POST("/assets", handlers.Directory.HandleCreateAsset)
	api.POST("/crm/import", handlers.Directory.HandleCRMImport)

	// Associations
	api.POST("/associate", handlers.Associations.HandleAssociate)
	api.GET("/associations", handlers.Associations.HandleListAssociations)
	api.DELETE("/associations/:tagId", handlers.Associations.HandleDeleteAssociation)

	// Floor plans
	api.POST("/map/upload", handlers.Map.HandleUploadMap)
	api.GET("/map/sessions/:sessionId", handlers.Map.HandleSessionStatus)
	api.GET("/map/sessions/:sessionId/progress", handlers.Map.HandleSessionProgressStream)
	api.GET("/map/:siteId", handlers.Map.HandleGetMap)
	api.GET("/map/:siteId/frame.svg", handlers.Map.HandleFrame)
	api.POST("/map-file", handlers.Map.HandleUpdateMapFile)

	// Viewports
	api.GET("/view/:siteId", handlers.View.HandleGetView)
	api.POST("/view/:siteId", handlers.View.HandleViewAction)
	api.GET("/view/:siteId/to-drawing", handlers.View.HandleToDrawing)

	// Tags, history and dashboard
	api.GET("/tags", handlers.Tags.HandleListTags)
	api.GET("/tags/msgpack", handlers.Tags.HandleListTagsMsgpack)
	api.GET("/tags/:tagId/history", handlers.Tags.HandleTagHistory)
	api.GET("/alarms", handlers.Tags.HandleAlarms)
	api.GET("/dashboard", handlers.Tags.HandleDashboard)

	// Feed control
	api.GET("/feed/status", handlers.Feed.HandleFeedStatus)
	api.POST("/feed/connect", handlers.Feed.HandleFeedConnect)
	api.POST("/feed/disconnect", handlers.Feed.HandleFeedDisconnect)

	RegisterWebSocketRoutes(e, handlers)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	if handlers.Hub != nil {
		e.GET("/api/ws/positions", handlers.Hub.HandleWebSocket)
	}
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}

// IsStreamingPath reports whether a request must not be cut by the
// request timeout middleware.
func IsStreamingPath(path, accept string) bool {
	return accept == "text/event-stream" ||
		strings.HasSuffix(path, "/progress") ||
		strings.HasSuffix(path, "/map/upload") ||
		path == "/api/ws/positions"
}
