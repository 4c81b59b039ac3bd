// Package feed provides RTLS position feed clients and their event bus.
package feed

import (
	"time"

	"github.com/site-tracker/backend/internal/models"
)

// EventName is the logical name handlers subscribe to.
type EventName string

const (
	EventConnected   EventName = "connected"
	EventClosed      EventName = "closed"
	EventError       EventName = "error"
	EventTagPosition EventName = "tagPosition"
	EventBatteryInfo EventName = "batteryInfo"
	EventAlarm       EventName = "alarm"
)

// Event is one typed message delivered by a feed client.
type Event interface {
	Name() EventName
}

// ConnectedEvent is fired once the connection is established.
type ConnectedEvent struct {
	At time.Time
}

// ClosedEvent is fired exactly once when a connection ends, whatever the cause.
type ClosedEvent struct {
	At     time.Time
	Reason string
}

// ErrorEvent carries a connection or transport failure.
type ErrorEvent struct {
	Err error
}

// TagPositionEvent carries one tag update.
type TagPositionEvent struct {
	Position models.TagPosition
}

// BatteryEvent carries one battery report.
type BatteryEvent struct {
	Power models.TagPower
}

// AlarmEvent carries one vendor alarm.
type AlarmEvent struct {
	Alarm models.Alarm
}

func (ConnectedEvent) Name() EventName   { return EventConnected }
func (ClosedEvent) Name() EventName      { return EventClosed }
func (ErrorEvent) Name() EventName       { return EventError }
func (TagPositionEvent) Name() EventName { return EventTagPosition }
func (BatteryEvent) Name() EventName     { return EventBatteryInfo }
func (AlarmEvent) Name() EventName       { return EventAlarm }

// Subscriber is anything events can be subscribed on.
type Subscriber interface {
	On(name EventName, h Handler) *Subscription
}

// OnTagPosition subscribes a typed handler to tag position updates.
func OnTagPosition(s Subscriber, fn func(models.TagPosition)) *Subscription {
	return s.On(EventTagPosition, func(ev Event) {
		if e, ok := ev.(TagPositionEvent); ok {
			fn(e.Position)
		}
	})
}

// OnBattery subscribes a typed handler to battery reports.
func OnBattery(s Subscriber, fn func(models.TagPower)) *Subscription {
	return s.On(EventBatteryInfo, func(ev Event) {
		if e, ok := ev.(BatteryEvent); ok {
			fn(e.Power)
		}
	})
}

// OnAlarm subscribes a typed handler to alarms.
func OnAlarm(s Subscriber, fn func(models.Alarm)) *Subscription {
	return s.On(EventAlarm, func(ev Event) {
		if e, ok := ev.(AlarmEvent); ok {
			fn(e.Alarm)
		}
	})
}

// OnError subscribes a typed handler to transport errors.
func OnError(s Subscriber, fn func(error)) *Subscription {
	return s.On(EventError, func(ev Event) {
		if e, ok := ev.(ErrorEvent); ok {
			fn(e.Err)
		}
	})
}
