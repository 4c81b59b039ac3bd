package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/site-tracker/backend/internal/api"
	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/config"
	"github.com/site-tracker/backend/internal/crm"
	"github.com/site-tracker/backend/internal/database"
	"github.com/site-tracker/backend/internal/fanout"
	"github.com/site-tracker/backend/internal/feed"
	"github.com/site-tracker/backend/internal/logger"
	"github.com/site-tracker/backend/internal/metrics"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/render"
	"github.com/site-tracker/backend/internal/session"
	"github.com/site-tracker/backend/internal/storage"
	"github.com/site-tracker/backend/internal/tracker"
	"github.com/site-tracker/backend/internal/web"
	"go.uber.org/zap"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	exeDir := filepath.Dir(exePath)

	// Load XML configuration
	configPath := filepath.Join(exeDir, config.DefaultConfigFile)
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Advanced.LogLevel, cfg.Advanced.LogFormat, "site-tracker")
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, configPath, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.AppConfig, configPath string, log *zap.Logger) error {
	embeddedMode := web.HasEmbeddedFiles()

	profile, err := config.LoadSiteProfile(cfg.Storage.SiteProfile)
	if err != nil {
		return fmt.Errorf("loading site profile: %w", err)
	}

	db, err := database.Open(cfg.Storage.DatabaseFile, database.Options{
		MemoryLimit: cfg.Advanced.DuckDBMemoryLimit,
		Threads:     cfg.Advanced.DuckDBThreads,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	site, err := trackedSite(ctx, db, cfg, profile)
	if err != nil {
		return err
	}
	companyID := cfg.CRM.CompanyID
	if companyID == "" {
		companyID = site.CompanyID
	}
	log = log.With(zap.Int64("site", site.ID))

	// Directory: import from the CRM once at startup, keep serving the
	// stored copy when the CRM is unreachable.
	crmClient := crm.NewClient(cfg.CRMClientConfig(), log)
	importDirectory(ctx, db, crmClient, site.ID, log)
	dirCache := api.NewDirectoryCache(db)
	if err := dirCache.Refresh(ctx); err != nil {
		return fmt.Errorf("loading directory: %w", err)
	}

	links := association.NewStore()
	stored, err := db.ListAssociations(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("loading associations: %w", err)
	}
	links.Load(stored)

	areas, err := db.ListAreas(ctx, site.ID)
	if err != nil {
		return fmt.Errorf("loading areas: %w", err)
	}
	if len(areas) == 0 && len(profile.Areas) > 0 {
		for _, a := range profile.Areas {
			a.SiteID = site.ID
			if err := db.SaveArea(ctx, a); err != nil {
				return fmt.Errorf("seeding areas: %w", err)
			}
		}
		if areas, err = db.ListAreas(ctx, site.ID); err != nil {
			return fmt.Errorf("loading areas: %w", err)
		}
	}

	// Position feed and tracker
	feedCfg := cfg.FeedClientConfig()
	if len(feedCfg.Simulated.TagIDs) == 0 {
		feedCfg.Simulated.TagIDs = profile.TagIDs
	}
	feedCfg.Simulated.Bounds = models.BoundingBox{MaxX: site.MapWidth, MaxY: site.MapHeight}
	client, err := feed.New(feedCfg, log)
	if err != nil {
		return fmt.Errorf("creating feed client: %w", err)
	}
	trackerCfg := cfg.TrackerConfig(site.ID)
	trackerCfg.Areas = areas
	live := tracker.New(client, trackerCfg, log)
	defer live.Close()

	m := metrics.NewMetrics(nil)

	// Floor plans
	fileStore, err := storage.NewLocalStore(cfg.Storage.UploadsDirectory)
	if err != nil {
		return fmt.Errorf("initializing storage: %w", err)
	}
	parsed, err := session.NewPersistentParsedStore(filepath.Join(cfg.Storage.DataDirectory, "parsed"))
	if err != nil {
		return fmt.Errorf("initializing parsed store: %w", err)
	}

	var views *api.SiteViews
	sessionMgr := session.NewManager(
		session.WithLogger(log),
		session.WithParsedStore(parsed),
		session.WithParseObserver(m.RecordParse),
		session.WithOnLoaded(func(siteID int64, d *models.Drawing, s models.ParseSession) {
			views.OnDrawingLoaded(siteID, d, s)
		}),
	)
	views = api.NewSiteViews(ctx, viewConfig(cfg), sessionMgr, live, site.ID, links, dirCache, log, m.RecordRender)
	views.SetAreas(site.ID, areas)

	if site.MapFile != "" {
		if path, err := fileStore.GetFilePath(site.MapFile); err != nil {
			log.Warn("site map file not stored", zap.String("file", site.MapFile), zap.Error(err))
		} else if _, err := sessionMgr.LoadSite(site.ID, site.MapFile, path); err != nil {
			log.Warn("loading site map failed", zap.String("file", site.MapFile), zap.Error(err))
		}
	}
	if removed := parsed.CleanupOrphaned(storedIDs(fileStore)); removed > 0 {
		log.Info("removed orphaned parsed drawings", zap.Int("count", removed))
	}
	go sessionMgr.RunCleanup(ctx, cfg.CleanupInterval(), cfg.SessionTimeout())

	// Update sinks
	hub := api.NewPositionHub(live, links, dirCache,
		api.WithHubLogger(log),
		api.WithReadLimit(int64(cfg.Advanced.WebSocketMaxMessageSize)*1024),
		api.WithClientObserver(m.SetWSClients))
	defer hub.Close()

	recorder := database.NewHistoryRecorder(db, cfg.Tracking.HistoryBatchSize, cfg.HistoryFlush())
	go recorder.Run(ctx)

	live.AddSink(hub)
	live.AddSink(recorder)
	live.AddSink(views)
	live.AddSink(m.Sink())
	live.AddSink(tracker.SinkFunc(func(u tracker.Update) {
		if u.Kind == tracker.UpdatePosition || u.Kind == tracker.UpdateExpired {
			m.SetTrackedTags(live.Status().Tags)
		}
	}))

	if cfg.Redis.Enabled {
		rdb := fanout.NewClient(cfg.FanoutConfig())
		publisher := fanout.NewStreamPublisher(rdb, cfg.FanoutConfig(), log)
		if err := publisher.Ping(ctx); err != nil {
			log.Warn("redis not reachable, fan-out disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rdb.Close()
		} else {
			live.AddSink(publisher)
			go publisher.Run(ctx)
			defer publisher.Close()
		}
	}

	go live.Run(ctx)
	if cfg.Tracking.AutoConnect {
		if err := live.Connect(ctx); err != nil {
			log.Warn("feed connect failed", zap.Error(err))
		}
	}

	e := echo.New()
	e.HideBanner = true
	setupMiddleware(e, cfg, embeddedMode, log)

	handlers := api.NewHandlers(&api.Dependencies{
		Ctx:       ctx,
		DB:        db,
		CRM:       crmClient,
		Store:     fileStore,
		Sessions:  sessionMgr,
		Tracker:   live,
		Links:     links,
		DirCache:  dirCache,
		Views:     views,
		Hub:       hub,
		SiteID:    site.ID,
		CompanyID: companyID,
		Version:   Version,
		Logger:    log,
	})
	api.RegisterRoutes(e, handlers)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Register embedded frontend if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn("failed to register static routes", zap.Error(err))
		} else {
			log.Info("serving embedded dashboard from binary")
		}
	}

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	printBanner(cfg, configPath, site, embeddedMode)

	errCh := make(chan error, 1)
	go func() {
		if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := live.Disconnect(); err != nil {
		log.Warn("feed disconnect failed", zap.Error(err))
	}
	if err := recorder.Flush(shutdownCtx); err != nil {
		log.Warn("final history flush failed", zap.Error(err))
	}
	return e.Shutdown(shutdownCtx)
}

// trackedSite returns the configured site, creating the demo site from the
// profile when the database is empty.
func trackedSite(ctx context.Context, db *database.SiteDB, cfg *config.AppConfig, profile *config.SiteProfile) (models.Site, error) {
	first, err := db.EnsureDemoSite(ctx, profile.DemoSite())
	if err != nil {
		return models.Site{}, fmt.Errorf("creating demo site: %w", err)
	}
	if cfg.Tracking.SiteID == 0 {
		return first, nil
	}
	site, err := db.GetSite(ctx, cfg.Tracking.SiteID)
	if err != nil {
		return models.Site{}, fmt.Errorf("loading tracked site %d: %w", cfg.Tracking.SiteID, err)
	}
	return site, nil
}

func importDirectory(ctx context.Context, db *database.SiteDB, client *crm.Client, siteID int64, log *zap.Logger) {
	users, err := client.FetchUsers(ctx)
	if err != nil {
		log.Warn("CRM user import failed", zap.Error(err))
		return
	}
	assets, err := client.FetchAssets(ctx)
	if err != nil {
		log.Warn("CRM asset import failed", zap.Error(err))
		return
	}
	if err := db.ImportDirectory(ctx, users, assets); err != nil {
		log.Warn("storing CRM directory failed", zap.Error(err))
		return
	}
	msg := fmt.Sprintf("imported %d users and %d assets from CRM", len(users), len(assets))
	if err := db.AppendLog(ctx, "crm", msg, siteID); err != nil {
		log.Warn("writing import log failed", zap.Error(err))
	}
	log.Info("directory imported", zap.Int("users", len(users)), zap.Int("assets", len(assets)), zap.Bool("mock", client.Mock()))
}

func storedIDs(store storage.Store) []string {
	files, err := store.List(0)
	if err != nil {
		return nil
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	return ids
}

func viewConfig(cfg *config.AppConfig) api.ViewConfig {
	style := render.DefaultStyle()
	style.ShowGrid = cfg.Render.ShowGrid
	if cfg.Render.GridSize > 0 {
		style.GridSize = float64(cfg.Render.GridSize)
	}
	return api.ViewConfig{
		Width:    float64(cfg.Render.ViewportWidth),
		Height:   float64(cfg.Render.ViewportHeight),
		Padding:  float64(cfg.Render.Padding),
		Interval: cfg.FrameInterval(),
		Style:    style,
	}
}

func setupMiddleware(e *echo.Echo, cfg *config.AppConfig, embeddedMode bool, log *zap.Logger) {
	api.SetupMiddleware(e)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/progress") ||
				strings.HasSuffix(path, "/frame.svg") ||
				path == "/api/health" ||
				path == "/metrics"
		},
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return api.IsStreamingPath(c.Request().URL.Path, c.Request().Header.Get("Accept"))
		},
		ErrorMessage: "Request timeout",
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if !cfg.Server.EnableCORS {
		return
	}
	origins := []string{
		"http://localhost:5173", "http://127.0.0.1:5173",
		"http://localhost:3000", "http://127.0.0.1:3000",
	}
	if embeddedMode {
		origins = nil
		for _, o := range strings.Split(cfg.Server.AllowOrigins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		if len(origins) == 0 {
			origins = []string{"*"}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
}

func printBanner(cfg *config.AppConfig, configPath string, site models.Site, embeddedMode bool) {
	mode := "API only"
	if embeddedMode {
		mode = "Embedded dashboard"
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Site Tracker Server                             ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Mode:       %-45s║\n", mode)
	fmt.Printf("║  Site:       %-45s║\n", site.Name)
	fmt.Printf("║  Feed:       %-45s║\n", cfg.Feed.Mode)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.Storage.DataDirectory)
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}
}
