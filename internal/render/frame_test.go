package render

import (
	"context"
	"encoding/xml"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/tracker"
	"github.com/site-tracker/backend/internal/viewport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScene() Scene {
	return Scene{
		Drawing: &models.Drawing{
			Primitives: []models.Primitive{
				models.NewLine(models.Point{X: 0, Y: 0}, models.Point{X: 100, Y: 0}),
				models.NewCircle(models.Point{X: 50, Y: 40}, 10),
				models.NewArc(models.Point{X: 20, Y: 20}, 5, 0, 3.14),
				models.NewPolyline([]models.Point{{X: 0, Y: 0}, {X: 0, Y: 80}, {X: 100, Y: 80}}, true),
			},
			Bounds: models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 90},
		},
		Areas: []models.Area{{Name: "Zona <A>", Points: []models.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}}},
		Tags: []models.TagDisplayInfo{
			{TagID: "T1", X: 10, Y: 10, Name: "Mario Rossi", Type: models.TargetEmployee, Associated: true},
			{TagID: "T2", X: 20, Y: 10, Name: "Escavatore A", Type: models.TargetAsset, Associated: true},
			{TagID: "T3", X: 30, Y: 10, Name: models.UnassociatedLabel},
		},
	}
}

func TestFrame(t *testing.T) {
	scene := testScene()
	view := viewport.NewView(scene.Drawing.Bounds, 800, 600, viewport.DefaultPadding)

	out, err := Frame(scene, view)
	require.NoError(t, err)
	doc := string(out)

	// must be well-formed XML even with markup in names
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}

	assert.Contains(t, doc, `width="800"`)
	assert.Contains(t, doc, "fill:#f8f8f8")
	assert.Contains(t, doc, "Scale 1:")
	assert.Contains(t, doc, "Mario Rossi")
	assert.Contains(t, doc, "Zona &lt;A&gt;")
	assert.Contains(t, doc, "fill:#3b82f6")
	assert.Contains(t, doc, "fill:#10b981")
	assert.Contains(t, doc, "fill:#9ca3af")
	assert.Equal(t, 3, strings.Count(doc, "<circle"), "circles are tessellated, only tags are circles")
	assert.Contains(t, doc, "<polyline")
}

func TestFrame_ScaleCaption(t *testing.T) {
	scene := Scene{Drawing: &models.Drawing{}}
	view := viewport.NewView(models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, 140, 140, 20)

	out, err := Frame(scene, view)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Scale 1:1.00")
}

func TestFrame_EmptyViewport(t *testing.T) {
	view := viewport.NewView(models.BoundingBox{MaxX: 1, MaxY: 1}, 0, 0, 0)
	_, err := Frame(Scene{}, view)
	assert.Error(t, err)

	_, err = Frame(Scene{}, nil)
	assert.Error(t, err)
}

func TestTagColor(t *testing.T) {
	style := DefaultStyle()
	tests := []struct {
		name string
		info models.TagDisplayInfo
		want string
	}{
		{"employee", models.TagDisplayInfo{Associated: true, Type: models.TargetEmployee}, style.EmployeeColor},
		{"asset", models.TagDisplayInfo{Associated: true, Type: models.TargetAsset}, style.AssetColor},
		{"unassociated", models.TagDisplayInfo{}, style.InactiveColor},
		{"stale employee", models.TagDisplayInfo{Associated: true, Type: models.TargetEmployee, Stale: true}, style.InactiveColor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TagColor(tt.info, style))
		})
	}
}

func TestLoop_RendersOnlyWhenInvalidated(t *testing.T) {
	var builds atomic.Int32
	scene := testScene()
	view := viewport.NewView(scene.Drawing.Bounds, 400, 300, viewport.DefaultPadding)
	var observed atomic.Int32
	loop := NewLoop(view, func() Scene {
		builds.Add(1)
		return scene
	}, WithInterval(5*time.Millisecond), WithObserver(func(time.Duration) { observed.Add(1) }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	assert.Eventually(t, func() bool { return loop.Frames() == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, uint64(1), loop.Frames())

	loop.Handle(tracker.Update{Kind: tracker.UpdatePosition})
	loop.Invalidate()
	assert.Eventually(t, func() bool { return loop.Frames() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), builds.Load())
	assert.Equal(t, int32(2), observed.Load())

	frame, at, err := loop.Latest()
	require.NoError(t, err)
	assert.NotEmpty(t, frame)
	assert.False(t, at.IsZero())
}

func TestLoop_LatestRendersOnDemand(t *testing.T) {
	scene := testScene()
	loop := NewLoop(viewport.NewView(scene.Drawing.Bounds, 200, 200, 10), func() Scene { return scene })

	frame, _, err := loop.Latest()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(string(frame)), "<?xml"))
	assert.Equal(t, uint64(1), loop.Frames())

	_, _, err = loop.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), loop.Frames())
}
