package feed

import (
	"testing"

	"github.com/site-tracker/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus()
	var calls []string

	bus.On(EventTagPosition, func(Event) { calls = append(calls, "first") })
	bus.On(EventTagPosition, func(Event) { calls = append(calls, "second") })
	bus.On(EventTagPosition, func(Event) { calls = append(calls, "third") })

	bus.Emit(TagPositionEvent{})
	assert.Equal(t, []string{"first", "second", "third"}, calls)
}

func TestBus_OffRemovesExactlyOne(t *testing.T) {
	bus := NewBus()
	count := 0
	handler := func(Event) { count++ }

	// the same function registered twice yields two independent subscriptions
	first := bus.On(EventAlarm, handler)
	bus.On(EventAlarm, handler)

	bus.Off(first)
	assert.Equal(t, 1, bus.Count(EventAlarm))

	bus.Emit(AlarmEvent{})
	assert.Equal(t, 1, count)

	// disposing again must not remove the remaining handler
	first.Dispose()
	bus.Off(first)
	assert.Equal(t, 1, bus.Count(EventAlarm))
}

func TestBus_OffFromAnotherBusIsIgnored(t *testing.T) {
	a, b := NewBus(), NewBus()
	sub := a.On(EventClosed, func(Event) {})
	b.Off(sub)
	assert.Equal(t, 1, a.Count(EventClosed))
}

func TestBus_ClearAll(t *testing.T) {
	bus := NewBus()
	bus.On(EventTagPosition, func(Event) {})
	bus.On(EventClosed, func(Event) {})

	bus.ClearAll()
	assert.Zero(t, bus.Count(EventTagPosition))
	assert.Zero(t, bus.Count(EventClosed))
}

func TestBus_DisposeDuringEmit(t *testing.T) {
	bus := NewBus()
	var second int
	var sub *Subscription
	sub = bus.On(EventTagPosition, func(Event) { sub.Dispose() })
	bus.On(EventTagPosition, func(Event) { second++ })

	bus.Emit(TagPositionEvent{})
	bus.Emit(TagPositionEvent{})
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, bus.Count(EventTagPosition))
}

func TestTypedHandlers(t *testing.T) {
	bus := NewBus()
	var pos models.TagPosition
	var power models.TagPower
	var alarm models.Alarm
	var gotErr error

	OnTagPosition(bus, func(p models.TagPosition) { pos = p })
	OnBattery(bus, func(p models.TagPower) { power = p })
	OnAlarm(bus, func(a models.Alarm) { alarm = a })
	OnError(bus, func(err error) { gotErr = err })

	bus.Emit(TagPositionEvent{Position: models.TagPosition{TagID: "T1", X: 1}})
	bus.Emit(BatteryEvent{Power: models.TagPower{TagID: "T1", Battery: 80}})
	bus.Emit(AlarmEvent{Alarm: models.Alarm{TagID: "T1", Type: "sos"}})
	bus.Emit(ErrorEvent{Err: ErrNoEndpoint})

	assert.Equal(t, "T1", pos.TagID)
	assert.Equal(t, 80, power.Battery)
	assert.Equal(t, "sos", alarm.Type)
	assert.ErrorIs(t, gotErr, ErrNoEndpoint)
}
