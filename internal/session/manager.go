// Package session runs floor-plan parse sessions and keeps the active
// drawing of each site.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/parser"
	"go.uber.org/zap"
)

// MaxSessions limits how many sessions are kept before finished ones are evicted.
const MaxSessions = 10

// SessionMaxAge is how long to keep finished sessions before cleanup
const SessionMaxAge = 30 * time.Minute

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// ParseFunc parses the drawing stored at a path.
type ParseFunc func(path string) (*models.Drawing, error)

// LoadedFunc is called after a drawing replaced the current one of a site.
type LoadedFunc func(siteID int64, drawing *models.Drawing, sess models.ParseSession)

// sessionState holds the session metadata and its result.
type sessionState struct {
	session  models.ParseSession
	err      error
	done     chan struct{}
	finished time.Time
}

// Manager handles floor-plan parse sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*sessionState
	current  map[int64]*models.Drawing

	log      *zap.Logger
	parse    ParseFunc
	parsed   *PersistentParsedStore
	onLoaded []LoadedFunc
	observe  func(d time.Duration, failed bool)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithParser replaces the DXF file parser.
func WithParser(fn ParseFunc) Option {
	return func(m *Manager) { m.parse = fn }
}

// WithParsedStore caches parsed drawings on disk by file ID.
func WithParsedStore(pps *PersistentParsedStore) Option {
	return func(m *Manager) { m.parsed = pps }
}

// WithParseObserver is told the duration and outcome of every parse.
func WithParseObserver(fn func(d time.Duration, failed bool)) Option {
	return func(m *Manager) { m.observe = fn }
}

// WithOnLoaded registers a callback run after a successful load.
func WithOnLoaded(fn LoadedFunc) Option {
	return func(m *Manager) { m.onLoaded = append(m.onLoaded, fn) }
}

// NewManager creates a new session manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*sessionState),
		current:  make(map[int64]*models.Drawing),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.parse == nil {
		log := m.log
		m.parse = func(path string) (*models.Drawing, error) {
			return parser.ParseDXFFile(path, parser.WithLogger(log.Named("parser")))
		}
	}
	m.log = m.log.Named("session")
	return m
}

// StartSession begins parsing the drawing at filePath for siteID.
func (m *Manager) StartSession(siteID int64, fileID, filePath string) (*models.ParseSession, error) {
	m.evictIfNeeded()

	sess := models.NewParseSession(uuid.New().String(), siteID, fileID)
	state := &sessionState{session: *sess, done: make(chan struct{})}

	m.mu.Lock()
	m.sessions[sess.ID] = state
	m.mu.Unlock()

	go m.runParse(sess.ID, fileID, filePath)

	return sess, nil
}

func (m *Manager) runParse(sessionID, fileID, filePath string) {
	log := m.log.With(zap.String("session", sessionID), zap.String("path", filePath))

	defer func() {
		if r := recover(); r != nil {
			log.Error("parse panicked", zap.Any("panic", r))
			m.finish(sessionID, nil, fmt.Errorf("parse panicked: %v", r), 0)
		}
	}()

	m.mu.Lock()
	if state, ok := m.sessions[sessionID]; ok {
		state.session.Status = models.SessionStatusParsing
		state.session.Progress = 10
	}
	m.mu.Unlock()

	start := time.Now()
	drawing, err := m.load(fileID, filePath)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("drawing parse failed", zap.Error(err))
	} else {
		log.Info("drawing loaded",
			zap.Int("primitives", len(drawing.Primitives)),
			zap.Int("skipped", len(drawing.Skipped)),
			zap.Duration("elapsed", elapsed))
	}
	m.finish(sessionID, drawing, err, elapsed)
}

// load returns the cached drawing of fileID or parses filePath.
func (m *Manager) load(fileID, filePath string) (*models.Drawing, error) {
	if m.parsed != nil && fileID != "" && m.parsed.IsParsed(fileID) {
		d, err := m.parsed.Load(fileID)
		if err == nil {
			return d, nil
		}
		m.log.Warn("cached drawing unreadable, parsing again", zap.String("file", shortID(fileID)), zap.Error(err))
	}

	start := time.Now()
	d, err := m.parse(filePath)
	if m.observe != nil {
		m.observe(time.Since(start), err != nil)
	}
	if err != nil {
		return d, err
	}

	if m.parsed != nil && fileID != "" {
		if err := m.parsed.Save(fileID, d); err != nil {
			m.log.Warn("caching parsed drawing failed", zap.String("file", shortID(fileID)), zap.Error(err))
		}
	}
	return d, nil
}

// LoadSite synchronously installs the drawing of fileID as the current
// drawing of siteID. It is used to restore site maps at startup.
func (m *Manager) LoadSite(siteID int64, fileID, filePath string) (*models.Drawing, error) {
	d, err := m.load(fileID, filePath)
	if err != nil {
		return nil, err
	}
	m.SetCurrent(siteID, d)
	return d, nil
}

func (m *Manager) finish(sessionID string, drawing *models.Drawing, err error, elapsed time.Duration) {
	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	select {
	case <-state.done:
		m.mu.Unlock()
		return
	default:
	}

	s := &state.session
	s.ProcessingTimeMs = elapsed.Milliseconds()
	s.Progress = 100
	if drawing != nil {
		s.PrimitiveCount = len(drawing.Primitives)
		s.SkippedCount = len(drawing.Skipped)
		bounds := drawing.Bounds
		s.Bounds = &bounds
		s.Errors = append(s.Errors, drawing.Skipped...)
	}

	loaded := false
	if err != nil {
		s.Status = models.SessionStatusError
		s.Message = err.Error()
	} else {
		s.Status = models.SessionStatusComplete
		m.current[s.SiteID] = drawing
		loaded = true
	}
	state.err = err
	state.finished = time.Now()
	snapshot := *s
	callbacks := append([]LoadedFunc(nil), m.onLoaded...)
	close(state.done)
	m.mu.Unlock()

	if loaded {
		for _, fn := range callbacks {
			fn(snapshot.SiteID, drawing, snapshot)
		}
	}
}

// Wait blocks until the session finished or ctx is done and returns the
// final session together with the parse error, if any.
func (m *Manager) Wait(ctx context.Context, id string) (*models.ParseSession, error) {
	m.mu.RLock()
	state, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-state.done:
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	s := state.session
	return &s, state.err
}

// GetSession returns a copy of a session by ID.
func (m *Manager) GetSession(id string) (*models.ParseSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s := state.session
	return &s, true
}

// Current returns the active drawing of a site.
func (m *Manager) Current(siteID int64) (*models.Drawing, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.current[siteID]
	return d, ok
}

// SetCurrent installs a drawing for a site without a session, e.g. one
// reloaded from disk at startup.
func (m *Manager) SetCurrent(siteID int64, drawing *models.Drawing) {
	m.mu.Lock()
	m.current[siteID] = drawing
	m.mu.Unlock()
}

// Len returns the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// evictIfNeeded removes the oldest finished sessions when at capacity.
func (m *Manager) evictIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.sessions) >= MaxSessions {
		var oldestID string
		var oldest time.Time
		for id, state := range m.sessions {
			if state.finished.IsZero() {
				continue
			}
			if oldestID == "" || state.finished.Before(oldest) {
				oldestID, oldest = id, state.finished
			}
		}
		if oldestID == "" {
			return
		}
		delete(m.sessions, oldestID)
		m.log.Debug("evicted finished session", zap.String("session", oldestID))
	}
}

// CleanupOldSessions removes finished sessions older than maxAge. Active
// drawings are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, state := range m.sessions {
		if state.finished.IsZero() || state.finished.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	if removed > 0 {
		m.log.Info("cleaned up parse sessions", zap.Int("removed", removed))
	}
	return removed
}

// RunCleanup calls CleanupOldSessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		}
	}
}
