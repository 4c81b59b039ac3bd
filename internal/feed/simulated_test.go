package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/site-tracker/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects events delivered by a client.
type recorder struct {
	mu        sync.Mutex
	positions map[string]int
	connected int
	closed    int
	errors    int
	total     int
}

func newRecorder(c Client) *recorder {
	r := &recorder{positions: make(map[string]int)}
	OnTagPosition(c, func(p models.TagPosition) {
		r.mu.Lock()
		r.positions[p.TagID]++
		r.total++
		r.mu.Unlock()
	})
	c.On(EventConnected, func(Event) { r.mu.Lock(); r.connected++; r.mu.Unlock() })
	c.On(EventClosed, func(Event) { r.mu.Lock(); r.closed++; r.mu.Unlock() })
	c.On(EventError, func(Event) { r.mu.Lock(); r.errors++; r.mu.Unlock() })
	return r
}

func (r *recorder) snapshot() (positions map[string]int, connected, closed, errors, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]int, len(r.positions))
	for k, v := range r.positions {
		cp[k] = v
	}
	return cp, r.connected, r.closed, r.errors, r.total
}

func TestSimulated_DefaultTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a full default tick")
	}

	sim := NewSimulated(SimulatedConfig{}, nil)
	rec := newRecorder(sim)

	require.NoError(t, sim.Connect(context.Background()))
	time.Sleep(3500 * time.Millisecond)
	require.NoError(t, sim.Disconnect())

	positions, connected, closed, _, _ := rec.snapshot()
	for _, id := range DefaultSimTags {
		assert.GreaterOrEqual(t, positions[id], 1, "tag %s", id)
	}
	assert.Equal(t, 1, connected)
	assert.Equal(t, 1, closed)
}

func TestSimulated_PositionsInsideBounds(t *testing.T) {
	bounds := models.BoundingBox{MinX: 10, MinY: 20, MaxX: 30, MaxY: 25}
	sim := NewSimulated(SimulatedConfig{
		Interval:       5 * time.Millisecond,
		HandshakeDelay: time.Millisecond,
		TagIDs:         []string{"A", "B", "C"},
		Bounds:         bounds,
		Seed:           7,
	}, nil)

	var mu sync.Mutex
	var seen []models.TagPosition
	OnTagPosition(sim, func(p models.TagPosition) {
		mu.Lock()
		seen = append(seen, p)
		mu.Unlock()
	})

	require.NoError(t, sim.Connect(context.Background()))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 30
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sim.Disconnect())

	mu.Lock()
	defer mu.Unlock()
	for _, p := range seen {
		assert.True(t, p.X >= bounds.MinX && p.X < bounds.MaxX, "x %v", p.X)
		assert.True(t, p.Y >= bounds.MinY && p.Y < bounds.MaxY, "y %v", p.Y)
	}
}

func TestSimulated_DisconnectStopsDelivery(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Interval: 2 * time.Millisecond, HandshakeDelay: time.Millisecond}, nil)
	rec := newRecorder(sim)

	require.NoError(t, sim.Connect(context.Background()))
	assert.ErrorIs(t, sim.Connect(context.Background()), ErrAlreadyConnected)

	assert.Eventually(t, func() bool {
		_, _, _, _, total := rec.snapshot()
		return total > 0
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, StatusConnected, sim.Status())

	require.NoError(t, sim.Disconnect())
	_, _, closedAfter, _, totalAfter := rec.snapshot()
	assert.Equal(t, 1, closedAfter)
	assert.Equal(t, StatusDisconnected, sim.Status())

	time.Sleep(30 * time.Millisecond)
	_, _, closed, _, total := rec.snapshot()
	assert.Equal(t, totalAfter, total, "no ticks after disconnect")
	assert.Equal(t, 1, closed)

	// idempotent
	require.NoError(t, sim.Disconnect())
	_, _, closed, _, _ = rec.snapshot()
	assert.Equal(t, 1, closed)
}

func TestSimulated_Reconnect(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Interval: time.Hour, HandshakeDelay: time.Millisecond}, nil)
	rec := newRecorder(sim)

	for i := 0; i < 2; i++ {
		require.NoError(t, sim.Connect(context.Background()))
		assert.Eventually(t, func() bool { return sim.Status() == StatusConnected }, time.Second, time.Millisecond)
		require.NoError(t, sim.Disconnect())
	}

	_, connected, closed, _, _ := rec.snapshot()
	assert.Equal(t, 2, connected)
	assert.Equal(t, 2, closed)
}

func TestSimulated_ContextCancel(t *testing.T) {
	sim := NewSimulated(SimulatedConfig{Interval: time.Hour, HandshakeDelay: time.Hour}, nil)
	rec := newRecorder(sim)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sim.Connect(ctx))
	cancel()

	assert.Eventually(t, func() bool {
		_, _, closed, _, _ := rec.snapshot()
		return closed == 1
	}, time.Second, time.Millisecond)

	// the finished run is released so the feed can be connected again
	assert.Eventually(t, func() bool {
		err := sim.Connect(context.Background())
		return err == nil
	}, time.Second, time.Millisecond)
	require.NoError(t, sim.Disconnect())
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		mode    string
		wantErr bool
	}{
		{"default is simulated", Config{}, ModeSimulated, false},
		{"live", Config{Mode: ModeLive, Live: LiveConfig{URL: "ws://localhost:1"}}, ModeLive, false},
		{"live without url", Config{Mode: ModeLive}, "", true},
		{"mqtt", Config{Mode: ModeMQTT, MQTT: MQTTConfig{Broker: "tcp://localhost:1883"}}, ModeMQTT, false},
		{"mqtt without broker", Config{Mode: ModeMQTT}, "", true},
		{"unknown", Config{Mode: "carrier-pigeon"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mode, c.Mode())
			assert.Equal(t, StatusDisconnected, c.Status())
		})
	}
}
