// Package fanout republishes tracker updates on a Redis stream for other
// services.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/site-tracker/backend/internal/tracker"
	"go.uber.org/zap"
)

// DefaultStream is the stream key used when none is configured.
const DefaultStream = "site-tracker:updates"

// Config configures the stream publisher.
type Config struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64 // approximate stream cap, 0 for unbounded
	Timeout  time.Duration
}

// StreamPublisher XADDs every update to one stream. Updates are queued and
// written on the Run goroutine so the feed is never blocked by Redis.
type StreamPublisher struct {
	client  *redis.Client
	cfg     Config
	log     *zap.Logger
	queue   chan tracker.Update
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewClient creates the Redis client for cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewStreamPublisher creates a publisher on client.
func NewStreamPublisher(client *redis.Client, cfg Config, logger *zap.Logger) *StreamPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &StreamPublisher{
		client: client,
		cfg:    cfg,
		log:    logger.Named("fanout"),
		queue:  make(chan tracker.Update, 1024),
	}
}

// Ping checks that Redis is reachable.
func (p *StreamPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Handle implements tracker.Sink.
func (p *StreamPublisher) Handle(u tracker.Update) {
	select {
	case p.queue <- u:
	default:
		p.dropped.Add(1)
	}
}

// Sent returns how many updates were written.
func (p *StreamPublisher) Sent() uint64 { return p.sent.Load() }

// Dropped returns how many updates were discarded.
func (p *StreamPublisher) Dropped() uint64 { return p.dropped.Load() }

// Run publishes queued updates until ctx is done.
func (p *StreamPublisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-p.queue:
			pctx, cancel := context.WithTimeout(context.Background(), p.cfg.Timeout)
			if _, err := p.Publish(pctx, u); err != nil {
				p.log.Warn("stream publish failed", zap.String("kind", string(u.Kind)), zap.Error(err))
			}
			cancel()
		}
	}
}

// Publish writes one update as {kind, data, timestamp} and returns the entry id.
func (p *StreamPublisher) Publish(ctx context.Context, u tracker.Update) (string, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encoding update: %w", err)
	}
	ts := u.At
	if ts.IsZero() {
		ts = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: p.cfg.Stream,
		Values: map[string]interface{}{
			"kind":      string(u.Kind),
			"tagId":     u.TagID,
			"data":      string(data),
			"timestamp": ts.UnixMilli(),
		},
	}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("XADD %s: %w", p.cfg.Stream, err)
	}
	p.sent.Add(1)
	return id, nil
}

// Close closes the Redis client.
func (p *StreamPublisher) Close() error {
	return p.client.Close()
}
