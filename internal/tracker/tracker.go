package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/site-tracker/backend/internal/association"
	"github.com/site-tracker/backend/internal/feed"
	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// Defaults for the stale sweeper.
const (
	DefaultStaleAfter    = 60 * time.Second
	DefaultSweepInterval = 5 * time.Second
	maxRecentAlarms      = 200
)

// Config controls the tracker.
type Config struct {
	SiteID        int64
	StaleAfter    time.Duration
	ExpireAfter   time.Duration // 0 keeps stale tags forever
	SweepInterval time.Duration
	Areas         []models.Area
}

// StatusInfo is the connection summary shown on the dashboard.
type StatusInfo struct {
	Mode      string      `json:"mode"`
	Status    feed.Status `json:"status"`
	LastError string      `json:"lastError,omitempty"`
	Tags      int         `json:"tags"`
	Since     time.Time   `json:"since"`
}

// Tracker consumes one feed client and keeps the latest state per tag.
type Tracker struct {
	client feed.Client
	cfg    Config
	log    *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	positions map[string]models.TagPosition
	// received is the local receive time of each position; liveness is
	// measured against it, not the feed's clock.
	received  map[string]time.Time
	power     map[string]models.TagPower
	areas     []models.Area
	inArea    map[string]string
	alarms    []models.Alarm

	statusMu  sync.RWMutex
	lastError string
	since     time.Time

	sinkMu sync.RWMutex
	sinks  []Sink

	subs []*feed.Subscription
}

// New creates a tracker subscribed to client. The client is not connected.
func New(client feed.Client, cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	t := &Tracker{
		client:    client,
		cfg:       cfg,
		log:       logger.Named("tracker"),
		now:       time.Now,
		positions: make(map[string]models.TagPosition),
		received:  make(map[string]time.Time),
		power:     make(map[string]models.TagPower),
		areas:     cfg.Areas,
		inArea:    make(map[string]string),
		since:     time.Now(),
	}

	t.subs = []*feed.Subscription{
		feed.OnTagPosition(client, t.onPosition),
		feed.OnBattery(client, t.onBattery),
		feed.OnAlarm(client, t.onAlarm),
		feed.OnError(client, t.onError),
		client.On(feed.EventConnected, func(feed.Event) { t.onStatus(feed.StatusConnected) }),
		client.On(feed.EventClosed, t.onClosed),
	}
	return t
}

// AddSink registers s. Sinks receive updates in registration order.
func (t *Tracker) AddSink(s Sink) {
	t.sinkMu.Lock()
	t.sinks = append(t.sinks, s)
	t.sinkMu.Unlock()
}

func (t *Tracker) publish(u Update) {
	if u.At.IsZero() {
		u.At = t.now()
	}
	u.SiteID = t.cfg.SiteID

	t.sinkMu.RLock()
	sinks := make([]Sink, len(t.sinks))
	copy(sinks, t.sinks)
	t.sinkMu.RUnlock()

	for _, s := range sinks {
		s.Handle(u)
	}
}

// SetAreas replaces the geofences. Area membership is recomputed on the
// next position of each tag.
func (t *Tracker) SetAreas(areas []models.Area) {
	t.mu.Lock()
	t.areas = append([]models.Area(nil), areas...)
	t.mu.Unlock()
}

// Areas returns the current geofences.
func (t *Tracker) Areas() []models.Area {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Area(nil), t.areas...)
}

// Connect starts the feed. The outcome is reported through Status.
func (t *Tracker) Connect(ctx context.Context) error {
	t.statusMu.Lock()
	t.lastError = ""
	t.statusMu.Unlock()
	return t.client.Connect(ctx)
}

// Disconnect stops the feed and waits for it to close.
func (t *Tracker) Disconnect() error {
	return t.client.Disconnect()
}

// Close disconnects and detaches the tracker from the client.
func (t *Tracker) Close() error {
	err := t.client.Disconnect()
	for _, s := range t.subs {
		s.Dispose()
	}
	return err
}

// Status returns the connection summary.
func (t *Tracker) Status() StatusInfo {
	t.mu.RLock()
	n := len(t.positions)
	t.mu.RUnlock()

	t.statusMu.RLock()
	defer t.statusMu.RUnlock()
	return StatusInfo{
		Mode:      t.client.Mode(),
		Status:    t.client.Status(),
		LastError: t.lastError,
		Tags:      n,
		Since:     t.since,
	}
}

// Positions returns the latest position of every tag, ordered by tag id.
func (t *Tracker) Positions() []models.TagPosition {
	t.mu.RLock()
	out := make([]models.TagPosition, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Position returns the latest position of one tag.
func (t *Tracker) Position(tagID string) (models.TagPosition, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[tagID]
	return p, ok
}

// Power returns the last battery report of a tag.
func (t *Tracker) Power(tagID string) (models.TagPower, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.power[tagID]
	return p, ok
}

// RecentAlarms returns the newest alarms first, at most limit of them.
func (t *Tracker) RecentAlarms(limit int) []models.Alarm {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := len(t.alarms)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.Alarm, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.alarms[i])
	}
	return out
}

// Snapshot joins the current positions with associations, battery levels
// and area membership.
func (t *Tracker) Snapshot(links association.Resolver, dir association.Directory) []models.TagDisplayInfo {
	infos := association.Join(t.Positions(), links, dir)

	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range infos {
		if p, ok := t.power[infos[i].TagID]; ok {
			level := p.Battery
			infos[i].Battery = &level
		}
		infos[i].Area = t.inArea[infos[i].TagID]
	}
	return infos
}

func (t *Tracker) onPosition(p models.TagPosition) {
	now := t.now()
	if p.Timestamp.IsZero() {
		p.Timestamp = now
	}
	p.Stale = false

	t.mu.Lock()
	// latest report wins, even when its timestamp is older
	t.positions[p.TagID] = p
	t.received[p.TagID] = now

	from := t.inArea[p.TagID]
	to := containingArea(t.areas, p.Point())
	if to == "" {
		delete(t.inArea, p.TagID)
	} else {
		t.inArea[p.TagID] = to
	}
	var transitions []models.Alarm
	if from != to {
		if from != "" {
			transitions = append(transitions, t.areaAlarm(p, string(UpdateAreaExit), from))
		}
		if to != "" {
			transitions = append(transitions, t.areaAlarm(p, string(UpdateAreaEnter), to))
		}
		t.alarms = appendAlarms(t.alarms, transitions...)
	}
	t.mu.Unlock()

	pos := p
	t.publish(Update{Kind: UpdatePosition, TagID: p.TagID, Position: &pos, Area: to, At: p.Timestamp})
	for i := range transitions {
		a := transitions[i]
		t.publish(Update{Kind: UpdateKind(a.Type), TagID: p.TagID, Alarm: &a, Area: areaOf(a, from, to), At: a.Timestamp})
	}
}

func areaOf(a models.Alarm, from, to string) string {
	if a.Type == string(UpdateAreaExit) {
		return from
	}
	return to
}

func (t *Tracker) areaAlarm(p models.TagPosition, kind, area string) models.Alarm {
	verb := "entered"
	if kind == string(UpdateAreaExit) {
		verb = "left"
	}
	return models.Alarm{
		TagID:     p.TagID,
		Type:      kind,
		Level:     "info",
		Message:   fmt.Sprintf("%s %s %s", p.TagID, verb, area),
		SiteID:    t.cfg.SiteID,
		Timestamp: p.Timestamp,
	}
}

func containingArea(areas []models.Area, pt models.Point) string {
	for _, a := range areas {
		if a.Contains(pt) {
			return a.Name
		}
	}
	return ""
}

func appendAlarms(list []models.Alarm, more ...models.Alarm) []models.Alarm {
	list = append(list, more...)
	if over := len(list) - maxRecentAlarms; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	return list
}

func (t *Tracker) onBattery(p models.TagPower) {
	if p.Timestamp.IsZero() {
		p.Timestamp = t.now()
	}
	t.mu.Lock()
	t.power[p.TagID] = p
	t.mu.Unlock()

	t.publish(Update{Kind: UpdateBattery, TagID: p.TagID, Power: &p, At: p.Timestamp})
}

func (t *Tracker) onAlarm(a models.Alarm) {
	if a.Timestamp.IsZero() {
		a.Timestamp = t.now()
	}
	a.SiteID = t.cfg.SiteID

	t.mu.Lock()
	t.alarms = appendAlarms(t.alarms, a)
	t.mu.Unlock()

	t.log.Info("alarm received",
		zap.String("tag", a.TagID),
		zap.String("type", a.Type),
		zap.String("level", a.Level))
	t.publish(Update{Kind: UpdateAlarm, TagID: a.TagID, Alarm: &a, At: a.Timestamp})
}

func (t *Tracker) onError(err error) {
	t.statusMu.Lock()
	t.lastError = err.Error()
	t.statusMu.Unlock()
	t.log.Warn("feed error", zap.Error(err))
	t.onStatus(feed.StatusError)
}

func (t *Tracker) onStatus(s feed.Status) {
	t.statusMu.Lock()
	t.since = t.now()
	t.statusMu.Unlock()
	t.publish(Update{Kind: UpdateStatus, Status: s})
}

func (t *Tracker) onClosed(ev feed.Event) {
	if c, ok := ev.(feed.ClosedEvent); ok {
		t.log.Info("feed closed", zap.String("reason", c.Reason))
	}

	// nothing will refresh these positions until the next connect
	t.mu.Lock()
	var marked []models.TagPosition
	for id, p := range t.positions {
		if !p.Stale {
			p.Stale = true
			t.positions[id] = p
			marked = append(marked, p)
		}
	}
	t.mu.Unlock()

	for i := range marked {
		p := marked[i]
		t.publish(Update{Kind: UpdateStale, TagID: p.TagID, Position: &p})
	}
	status := feed.StatusDisconnected
	if t.client.Status() == feed.StatusError {
		status = feed.StatusError
	}
	t.onStatus(status)
}

// Sweep marks positions received more than StaleAfter ago as stale and,
// when ExpireAfter is set, removes those received more than ExpireAfter ago.
func (t *Tracker) Sweep(now time.Time) {
	var stale, expired []models.TagPosition

	t.mu.Lock()
	for id, p := range t.positions {
		seen, ok := t.received[id]
		if !ok {
			seen = p.Timestamp
		}
		age := now.Sub(seen)
		if t.cfg.ExpireAfter > 0 && age > t.cfg.ExpireAfter {
			delete(t.positions, id)
			delete(t.received, id)
			delete(t.power, id)
			delete(t.inArea, id)
			expired = append(expired, p)
			continue
		}
		if !p.Stale && age > t.cfg.StaleAfter {
			p.Stale = true
			t.positions[id] = p
			stale = append(stale, p)
		}
	}
	t.mu.Unlock()

	for i := range stale {
		p := stale[i]
		t.publish(Update{Kind: UpdateStale, TagID: p.TagID, Position: &p, At: now})
	}
	for i := range expired {
		p := expired[i]
		t.log.Debug("tag expired", zap.String("tag", p.TagID))
		t.publish(Update{Kind: UpdateExpired, TagID: p.TagID, Position: &p, At: now})
	}
}

// Run sweeps stale positions until ctx is done.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(t.now())
		}
	}
}
