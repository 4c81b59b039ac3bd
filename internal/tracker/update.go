// Package tracker owns the feed connection and the live state of every tag.
package tracker

import (
	"time"

	"github.com/site-tracker/backend/internal/feed"
	"github.com/site-tracker/backend/internal/models"
)

// UpdateKind classifies what changed.
type UpdateKind string

const (
	UpdatePosition  UpdateKind = "position"
	UpdateBattery   UpdateKind = "battery"
	UpdateAlarm     UpdateKind = "alarm"
	UpdateStatus    UpdateKind = "status"
	UpdateAreaEnter UpdateKind = "areaEnter"
	UpdateAreaExit  UpdateKind = "areaExit"
	UpdateStale     UpdateKind = "stale"
	UpdateExpired   UpdateKind = "expired"
)

// Update is one change of tracked state, fanned out to every Sink.
type Update struct {
	Kind     UpdateKind          `json:"kind" msgpack:"kind"`
	TagID    string              `json:"tagId,omitempty" msgpack:"tagId,omitempty"`
	Position *models.TagPosition `json:"position,omitempty" msgpack:"position,omitempty"`
	Power    *models.TagPower    `json:"power,omitempty" msgpack:"power,omitempty"`
	Alarm    *models.Alarm       `json:"alarm,omitempty" msgpack:"alarm,omitempty"`
	Status   feed.Status         `json:"status,omitempty" msgpack:"status,omitempty"`
	Area     string              `json:"area,omitempty" msgpack:"area,omitempty"`
	SiteID   int64               `json:"siteId,omitempty" msgpack:"siteId,omitempty"`
	At       time.Time           `json:"at" msgpack:"at"`
}

// Sink consumes tracker updates. Handle runs on the feed goroutine and
// should not block.
type Sink interface {
	Handle(u Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update)

// Handle implements Sink.
func (f SinkFunc) Handle(u Update) { f(u) }
