package database

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/tracker"
	"go.uber.org/zap"
)

// Defaults of the history recorder.
const (
	DefaultHistoryBatch = 500
	DefaultFlushEvery   = 2 * time.Second
	historyQueue        = 4096
)

// HistoryRecorder appends tracker updates to the history tables. Updates
// are queued by Handle and written in batches on the Run goroutine.
type HistoryRecorder struct {
	db         *SiteDB
	batchSize  int
	flushEvery time.Duration
	queue      chan tracker.Update
	dropped    atomic.Uint64

	mu        sync.Mutex
	positions []models.TagPosition
	sites     []int64
	power     []models.TagPower
	alarms    []models.Alarm
	logs      []models.LogEntry
	lastError error
}

// NewHistoryRecorder creates a recorder. Zero values select the defaults.
func NewHistoryRecorder(db *SiteDB, batchSize int, flushEvery time.Duration) *HistoryRecorder {
	if batchSize <= 0 {
		batchSize = DefaultHistoryBatch
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &HistoryRecorder{
		db:         db,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		queue:      make(chan tracker.Update, historyQueue),
	}
}

// Handle implements tracker.Sink. It never blocks; updates are dropped
// when the queue is full.
func (r *HistoryRecorder) Handle(u tracker.Update) {
	select {
	case r.queue <- u:
	default:
		r.dropped.Add(1)
	}
}

// Dropped returns how many updates were discarded because the queue was full.
func (r *HistoryRecorder) Dropped() uint64 { return r.dropped.Load() }

// LastError returns the last flush error.
func (r *HistoryRecorder) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastError
}

// Run consumes the queue until ctx is done, then drains and flushes.
func (r *HistoryRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case u := <-r.queue:
					r.add(u)
				default:
					r.flushLogged()
					return
				}
			}
		case u := <-r.queue:
			if r.add(u) >= r.batchSize {
				r.flushLogged()
			}
		case <-ticker.C:
			r.flushLogged()
		}
	}
}

func (r *HistoryRecorder) add(u tracker.Update) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch u.Kind {
	case tracker.UpdatePosition:
		if u.Position != nil {
			r.positions = append(r.positions, *u.Position)
			r.sites = append(r.sites, u.SiteID)
		}
	case tracker.UpdateBattery:
		if u.Power != nil {
			r.power = append(r.power, *u.Power)
		}
	case tracker.UpdateAlarm, tracker.UpdateAreaEnter, tracker.UpdateAreaExit:
		if u.Alarm != nil {
			a := *u.Alarm
			if a.SiteID == 0 {
				a.SiteID = u.SiteID
			}
			r.alarms = append(r.alarms, a)
		}
	case tracker.UpdateStatus:
		r.logs = append(r.logs, models.LogEntry{
			Timestamp: u.At,
			Type:      "feed",
			Message:   fmt.Sprintf("feed %s", u.Status),
			SiteID:    u.SiteID,
		})
	}
	return len(r.positions) + len(r.power) + len(r.alarms) + len(r.logs)
}

func (r *HistoryRecorder) flushLogged() {
	if err := r.Flush(context.Background()); err != nil {
		r.db.log.Warn("history flush failed", zap.Error(err))
	}
}

// Flush writes the pending batch.
func (r *HistoryRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	positions, sites, power := r.positions, r.sites, r.power
	alarms, logs := r.alarms, r.logs
	r.positions, r.sites, r.power, r.alarms, r.logs = nil, nil, nil, nil, nil
	r.mu.Unlock()

	if len(positions)+len(power)+len(alarms)+len(logs) == 0 {
		return nil
	}

	start := time.Now()
	err := r.db.appendSamples(ctx, positions, sites, power)
	if err == nil {
		err = r.db.insertEvents(ctx, alarms, logs)
	}

	r.mu.Lock()
	r.lastError = err
	r.mu.Unlock()
	if err != nil {
		return err
	}

	r.db.log.Debug("history flushed",
		zap.Int("positions", len(positions)),
		zap.Int("power", len(power)),
		zap.Int("alarms", len(alarms)),
		zap.Duration("took", time.Since(start)))
	return nil
}

// appendSamples writes positions and battery reports with the Appender API.
func (s *SiteDB) appendSamples(ctx context.Context, positions []models.TagPosition, sites []int64, power []models.TagPower) error {
	if len(positions) == 0 && len(power) == 0 {
		return nil
	}
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, "getting connection")
	}
	defer conn.Close()

	return conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return errors.New("unexpected driver connection type")
		}

		if len(positions) > 0 {
			app, err := duckdb.NewAppenderFromConn(dConn, "", "tag_positions")
			if err != nil {
				return errors.Wrap(err, "creating position appender")
			}
			for i, p := range positions {
				if err := app.AppendRow(p.TagID, p.X, p.Y, p.Z, sites[i], p.Timestamp.UnixMilli()); err != nil {
					app.Close()
					return errors.Wrapf(err, "appending position %d", i)
				}
			}
			if err := app.Close(); err != nil {
				return errors.Wrap(err, "flushing positions")
			}
		}

		if len(power) > 0 {
			app, err := duckdb.NewAppenderFromConn(dConn, "", "tag_power")
			if err != nil {
				return errors.Wrap(err, "creating power appender")
			}
			for i, p := range power {
				if err := app.AppendRow(p.TagID, int32(p.Battery), p.Timestamp.UnixMilli()); err != nil {
					app.Close()
					return errors.Wrapf(err, "appending power %d", i)
				}
			}
			if err := app.Close(); err != nil {
				return errors.Wrap(err, "flushing power")
			}
		}
		return nil
	})
}

func (s *SiteDB) insertEvents(ctx context.Context, alarms []models.Alarm, logs []models.LogEntry) error {
	if len(alarms) == 0 && len(logs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "starting history transaction")
	}
	defer tx.Rollback()

	for _, a := range alarms {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO alarms (tag_id, type, level, message, site_id, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			a.TagID, a.Type, a.Level, a.Message, a.SiteID, a.Timestamp.UnixMilli()); err != nil {
			return errors.Wrap(err, "inserting alarm")
		}
	}
	for _, l := range logs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO logs (timestamp, type, message, site_id) VALUES (?, ?, ?, ?)`,
			l.Timestamp.UnixMilli(), l.Type, l.Message, l.SiteID); err != nil {
			return errors.Wrap(err, "inserting log")
		}
	}
	return errors.Wrap(tx.Commit(), "committing history")
}

// AppendLog writes one operational log line.
func (s *SiteDB) AppendLog(ctx context.Context, logType, message string, siteID int64) error {
	return s.insertEvents(ctx, nil, []models.LogEntry{{
		Timestamp: time.Now(),
		Type:      logType,
		Message:   message,
		SiteID:    siteID,
	}})
}

// ListLogs returns the newest log lines of a site first.
func (s *SiteDB) ListLogs(ctx context.Context, siteID int64, limit int) ([]models.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, COALESCE(type, ''), COALESCE(message, ''), COALESCE(site_id, 0)
		FROM logs WHERE site_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`, siteID, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "listing logs")
	}
	defer rows.Close()

	out := make([]models.LogEntry, 0)
	for rows.Next() {
		var l models.LogEntry
		var ts int64
		if err := rows.Scan(&l.ID, &ts, &l.Type, &l.Message, &l.SiteID); err != nil {
			return nil, errors.Wrap(err, "scanning log")
		}
		l.Timestamp = time.UnixMilli(ts)
		out = append(out, l)
	}
	return out, errors.Wrap(rows.Err(), "listing logs")
}

// PositionHistory returns the positions of a tag since the given time,
// newest first.
func (s *SiteDB) PositionHistory(ctx context.Context, tagID string, since time.Time, limit int) ([]models.TagPosition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tag_id, x, y, z, timestamp FROM tag_positions
		WHERE tag_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC LIMIT ?`, tagID, since.UnixMilli(), clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "querying position history")
	}
	defer rows.Close()

	out := make([]models.TagPosition, 0)
	for rows.Next() {
		var p models.TagPosition
		var ts int64
		if err := rows.Scan(&p.TagID, &p.X, &p.Y, &p.Z, &ts); err != nil {
			return nil, errors.Wrap(err, "scanning position")
		}
		p.Timestamp = time.UnixMilli(ts)
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "querying position history")
}

// RecentAlarms returns the newest alarms first.
func (s *SiteDB) RecentAlarms(ctx context.Context, limit int) ([]models.Alarm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(tag_id, ''), COALESCE(type, ''), COALESCE(level, ''),
			COALESCE(message, ''), COALESCE(site_id, 0), timestamp
		FROM alarms ORDER BY timestamp DESC, id DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "querying alarms")
	}
	defer rows.Close()

	out := make([]models.Alarm, 0)
	for rows.Next() {
		var a models.Alarm
		var ts int64
		if err := rows.Scan(&a.ID, &a.TagID, &a.Type, &a.Level, &a.Message, &a.SiteID, &ts); err != nil {
			return nil, errors.Wrap(err, "scanning alarm")
		}
		a.Timestamp = time.UnixMilli(ts)
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "querying alarms")
}

// CountAlarms returns the number of stored alarms.
func (s *SiteDB) CountAlarms(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alarms`).Scan(&n)
	return n, errors.Wrap(err, "counting alarms")
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 10000:
		return 10000
	}
	return limit
}
