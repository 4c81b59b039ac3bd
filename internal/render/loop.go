package render

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/site-tracker/backend/internal/tracker"
	"github.com/site-tracker/backend/internal/viewport"
	"go.uber.org/zap"
)

// DefaultInterval is the minimum time between two renders of a loop.
const DefaultInterval = 100 * time.Millisecond

var errNoFrame = errors.New("render: no frame rendered")

// SceneFunc builds the scene to draw. It is called on the loop goroutine.
type SceneFunc func() Scene

// Loop re-renders a view when invalidated, at most once per tick, and
// keeps the latest frame.
type Loop struct {
	view     *viewport.View
	scene    SceneFunc
	interval time.Duration
	log      *zap.Logger
	observe  func(time.Duration)

	dirty atomic.Bool

	mu       sync.RWMutex
	frame    []byte
	rendered time.Time
	frames   uint64
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) LoopOption {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		if logger != nil {
			l.log = logger.Named("render")
		}
	}
}

// WithObserver is called with the duration of every render.
func WithObserver(fn func(time.Duration)) LoopOption {
	return func(l *Loop) { l.observe = fn }
}

// NewLoop creates a loop. The first tick always renders.
func NewLoop(view *viewport.View, scene SceneFunc, opts ...LoopOption) *Loop {
	l := &Loop{
		view:     view,
		scene:    scene,
		interval: DefaultInterval,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.dirty.Store(true)
	return l
}

// View returns the view the loop draws.
func (l *Loop) View() *viewport.View { return l.view }

// Invalidate requests a render on the next tick.
func (l *Loop) Invalidate() { l.dirty.Store(true) }

// Handle implements tracker.Sink; every tag change invalidates the frame.
func (l *Loop) Handle(tracker.Update) { l.Invalidate() }

// Run renders on each tick where the frame was invalidated, until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if l.dirty.Swap(false) {
				if _, err := l.Render(); err != nil {
					l.log.Warn("frame render failed", zap.Error(err))
				}
			}
		}
	}
}

// Render draws a frame immediately and stores it as the latest.
func (l *Loop) Render() ([]byte, error) {
	start := time.Now()
	frame, err := Frame(l.scene(), l.view)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	l.mu.Lock()
	l.frame = frame
	l.rendered = start
	l.frames++
	l.mu.Unlock()

	if l.observe != nil {
		l.observe(elapsed)
	}
	return frame, nil
}

// Latest returns the last rendered frame, rendering one if the loop has
// not produced any yet or the frame is out of date.
func (l *Loop) Latest() ([]byte, time.Time, error) {
	if l.dirty.Swap(false) {
		if _, err := l.Render(); err != nil {
			l.dirty.Store(true)
			return nil, time.Time{}, err
		}
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.frame == nil {
		return nil, time.Time{}, errNoFrame
	}
	return l.frame, l.rendered, nil
}

// Frames returns how many frames were rendered.
func (l *Loop) Frames() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frames
}
