package feed

import (
	"context"
	"math/rand"
	"time"

	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// Defaults of the simulated feed.
const (
	DefaultSimInterval       = 3 * time.Second
	DefaultSimHandshakeDelay = 500 * time.Millisecond
)

// DefaultSimTags are the tag ids the simulator reports when none are configured.
var DefaultSimTags = []string{"TAG001", "TAG002"}

// DefaultSimBounds is the area the simulated tags move in.
var DefaultSimBounds = models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 80}

// SimulatedConfig configures the simulated feed.
type SimulatedConfig struct {
	Interval       time.Duration
	HandshakeDelay time.Duration
	TagIDs         []string
	Bounds         models.BoundingBox
	Seed           int64
}

func (c SimulatedConfig) withDefaults() SimulatedConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultSimInterval
	}
	if c.HandshakeDelay <= 0 {
		c.HandshakeDelay = DefaultSimHandshakeDelay
	}
	if len(c.TagIDs) == 0 {
		c.TagIDs = DefaultSimTags
	}
	if c.Bounds.Width() <= 0 || c.Bounds.Height() <= 0 {
		c.Bounds = DefaultSimBounds
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
	return c
}

// Simulated emits random positions for a fixed set of tags on a timer.
type Simulated struct {
	base
	cfg SimulatedConfig
}

// NewSimulated creates a simulated feed.
func NewSimulated(cfg SimulatedConfig, logger *zap.Logger) *Simulated {
	s := &Simulated{cfg: cfg.withDefaults()}
	s.init(logger, "feed.simulated")
	return s
}

// Mode returns ModeSimulated.
func (s *Simulated) Mode() string { return ModeSimulated }

// Connect starts the tick timer. "connected" follows after the handshake delay.
func (s *Simulated) Connect(ctx context.Context) error {
	if err := s.start(ctx, s.run); err != nil {
		return err
	}
	s.log.Info("simulated feed started",
		zap.Strings("tags", s.cfg.TagIDs),
		zap.Duration("interval", s.cfg.Interval))
	return nil
}

// Disconnect stops the timer and waits for the closed event to be delivered.
func (s *Simulated) Disconnect() error {
	s.stop()
	return nil
}

func (s *Simulated) run(ctx context.Context) {
	defer s.finish("disconnected")

	rng := rand.New(rand.NewSource(s.cfg.Seed))
	handshake := time.NewTimer(s.cfg.HandshakeDelay)
	defer handshake.Stop()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	connected := false

	for {
		select {
		case <-ctx.Done():
			s.log.Info("simulated feed stopped")
			return
		case <-handshake.C:
			connected = true
			s.setStatus(StatusConnected)
			s.Emit(ConnectedEvent{At: time.Now()})
		case now := <-ticker.C:
			if !connected {
				continue
			}
			for _, id := range s.cfg.TagIDs {
				if ctx.Err() != nil {
					return
				}
				s.Emit(TagPositionEvent{Position: s.randomPosition(rng, id, now)})
			}
		}
	}
}

func (s *Simulated) randomPosition(rng *rand.Rand, tagID string, now time.Time) models.TagPosition {
	b := s.cfg.Bounds
	return models.TagPosition{
		TagID:     tagID,
		X:         b.MinX + rng.Float64()*b.Width(),
		Y:         b.MinY + rng.Float64()*b.Height(),
		Z:         0,
		Timestamp: now,
	}
}
