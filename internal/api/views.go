// views.go - Per-site viewports, render loops and the directory cache
package api

import (
	"context"
	"sync"
	"time"

	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/parser"
	"github.com/site-tracker/backend/internal/render"
	"github.com/site-tracker/backend/internal/tracker"
	"github.com/site-tracker/backend/internal/viewport"
	"go.uber.org/zap"
)

// DirectoryCache serves directory lookups from memory. It is refreshed
// after every directory write.
type DirectoryCache struct {
	repo DirectoryRepository
	mu   sync.RWMutex
	dir  *association.MapDirectory
}

// NewDirectoryCache creates an empty cache over repo.
func NewDirectoryCache(repo DirectoryRepository) *DirectoryCache {
	return &DirectoryCache{repo: repo}
}

// Refresh reloads the directory from the repository.
func (d *DirectoryCache) Refresh(ctx context.Context) error {
	dir, err := d.repo.Directory(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.dir = dir
	d.mu.Unlock()
	return nil
}

// Lookup implements association.Directory.
func (d *DirectoryCache) Lookup(targetType models.TargetType, id int64) (string, bool) {
	d.mu.RLock()
	dir := d.dir
	d.mu.RUnlock()
	if dir == nil {
		return "", false
	}
	return dir.Lookup(targetType, id)
}

// ViewConfig sizes new viewports.
type ViewConfig struct {
	Width    float64
	Height   float64
	Padding  float64
	Interval time.Duration
	Style    render.Style
}

// SiteViews owns one viewport and render loop per site. Loops are created
// on first use and run until the context passed to NewSiteViews is done.
type SiteViews struct {
	ctx         context.Context
	cfg         ViewConfig
	sessions    SessionManager
	tracker     LiveTracker
	trackerSite int64
	links       association.Resolver
	dir         association.Directory
	log         *zap.Logger
	observe     func(time.Duration)

	mu    sync.Mutex
	loops map[int64]*render.Loop
	areas map[int64][]models.Area
}

// NewSiteViews creates the view registry. The tracker's tags are drawn on
// trackerSite only.
func NewSiteViews(ctx context.Context, cfg ViewConfig, sessions SessionManager, live LiveTracker, trackerSite int64,
	links association.Resolver, dir association.Directory, logger *zap.Logger, observe func(time.Duration)) *SiteViews {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = 1024, 768
	}
	if cfg.Style.TagRadius == 0 {
		cfg.Style = render.DefaultStyle()
	}
	return &SiteViews{
		ctx:         ctx,
		cfg:         cfg,
		sessions:    sessions,
		tracker:     live,
		trackerSite: trackerSite,
		links:       links,
		dir:         dir,
		log:         logger,
		observe:     observe,
		loops:       make(map[int64]*render.Loop),
		areas:       make(map[int64][]models.Area),
	}
}

// Loop returns the render loop of a site, starting it on first use.
func (s *SiteViews) Loop(siteID int64) *render.Loop {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loops[siteID]; ok {
		return l
	}

	bounds := parser.ComputeBounds(nil, parser.DefaultMargin)
	if d, ok := s.sessions.Current(siteID); ok && d != nil {
		bounds = d.Bounds
	}
	view := viewport.NewView(bounds, s.cfg.Width, s.cfg.Height, s.cfg.Padding)
	l := render.NewLoop(view, func() render.Scene { return s.scene(siteID) },
		render.WithInterval(s.cfg.Interval),
		render.WithLogger(s.log.With(zap.Int64("site", siteID))),
		render.WithObserver(s.observe))
	s.loops[siteID] = l
	go l.Run(s.ctx)
	return l
}

// View returns the viewport of a site.
func (s *SiteViews) View(siteID int64) *viewport.View {
	return s.Loop(siteID).View()
}

func (s *SiteViews) scene(siteID int64) render.Scene {
	scene := render.Scene{Style: s.cfg.Style, Areas: s.Areas(siteID)}
	if d, ok := s.sessions.Current(siteID); ok {
		scene.Drawing = d
	}
	if s.tracker != nil && siteID == s.trackerSite {
		scene.Tags = s.tracker.Snapshot(s.links, s.dir)
	}
	return scene
}

// SetAreas replaces the geofences of a site. The tracker is updated too
// when the site is the tracked one.
func (s *SiteViews) SetAreas(siteID int64, areas []models.Area) {
	s.mu.Lock()
	s.areas[siteID] = append([]models.Area(nil), areas...)
	l := s.loops[siteID]
	s.mu.Unlock()

	if s.tracker != nil && siteID == s.trackerSite {
		s.tracker.SetAreas(areas)
	}
	if l != nil {
		l.Invalidate()
	}
}

// Areas returns the geofences of a site.
func (s *SiteViews) Areas(siteID int64) []models.Area {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Area(nil), s.areas[siteID]...)
}

// OnDrawingLoaded resets the view of a site to a freshly loaded drawing.
// It matches session.LoadedFunc.
func (s *SiteViews) OnDrawingLoaded(siteID int64, d *models.Drawing, _ models.ParseSession) {
	s.mu.Lock()
	l := s.loops[siteID]
	s.mu.Unlock()
	if l == nil || d == nil {
		return
	}
	l.View().SetDrawing(d.Bounds)
	l.Invalidate()
}

// Invalidate marks the frame of a site out of date.
func (s *SiteViews) Invalidate(siteID int64) {
	s.mu.Lock()
	l := s.loops[siteID]
	s.mu.Unlock()
	if l != nil {
		l.Invalidate()
	}
}

// Handle implements tracker.Sink: every update redraws the tracked site.
func (s *SiteViews) Handle(u tracker.Update) {
	s.Invalidate(s.trackerSite)
}
