package viewport

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/site-tracker/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tolerance = 1e-6

func assertBoundsEqual(t *testing.T, want, got models.BoundingBox) {
	t.Helper()
	assert.InDelta(t, want.MinX, got.MinX, tolerance, "minX")
	assert.InDelta(t, want.MinY, got.MinY, tolerance, "minY")
	assert.InDelta(t, want.MaxX, got.MaxX, tolerance, "maxX")
	assert.InDelta(t, want.MaxY, got.MaxY, tolerance, "maxY")
}

func TestComputeTransform(t *testing.T) {
	b := models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 10}
	tr := ComputeTransform(800, 600, b, 20)

	// width limits: 760 / 120
	require.InDelta(t, 760.0/120.0, tr.Scale, tolerance)

	// the drawing is centred vertically in the spare height
	top := ToScreen(models.Point{X: -10, Y: 10}, tr)
	bottom := ToScreen(models.Point{X: 110, Y: -10}, tr)
	assert.InDelta(t, 20, top.X, tolerance)
	assert.InDelta(t, 780, bottom.X, tolerance)
	assert.InDelta(t, 600-bottom.Y, top.Y, tolerance, "vertical margins must match")
	assert.Less(t, top.Y, bottom.Y, "drawing Y up must be screen Y down")
}

func TestComputeTransformDegenerate(t *testing.T) {
	tests := []struct {
		name   string
		bounds models.BoundingBox
		w, h   float64
	}{
		{"zero height", models.BoundingBox{MinX: 0, MinY: 5, MaxX: 10, MaxY: 5}, 400, 300},
		{"zero width", models.BoundingBox{MinX: 5, MinY: 0, MaxX: 5, MaxY: 10}, 400, 300},
		{"point", models.BoundingBox{MinX: 1, MinY: 1, MaxX: 1, MaxY: 1}, 400, 300},
		{"viewport smaller than padding", models.BoundingBox{MaxX: 10, MaxY: 10}, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := ComputeTransform(tt.w, tt.h, tt.bounds, DefaultPadding)
			assert.Greater(t, tr.Scale, 0.0)
			assert.False(t, math.IsInf(tr.Scale, 0))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		minX := rng.Float64()*2000 - 1000
		minY := rng.Float64()*2000 - 1000
		b := models.BoundingBox{
			MinX: minX,
			MinY: minY,
			MaxX: minX + 0.1 + rng.Float64()*5000,
			MaxY: minY + 0.1 + rng.Float64()*5000,
		}
		w := 50 + rng.Float64()*3000
		h := 50 + rng.Float64()*3000
		tr := ComputeTransform(w, h, b, DefaultPadding)

		p := models.Point{
			X: b.MinX + rng.Float64()*b.Width(),
			Y: b.MinY + rng.Float64()*b.Height(),
		}
		back := ToDrawing(ToScreen(p, tr), tr)
		if math.Abs(back.X-p.X) > 1e-6 || math.Abs(back.Y-p.Y) > 1e-6 {
			t.Fatalf("round trip failed for %+v in %+v: got %+v", p, b, back)
		}
	}
}

func TestView_ButtonZoomRoundTrip(t *testing.T) {
	original := models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 90}
	v := NewView(original, 800, 600, DefaultPadding)

	v.ZoomIn()
	zoomed := v.Bounds()
	assert.InDelta(t, original.Width()*ButtonZoomIn, zoomed.Width(), tolerance)

	v.ZoomOut()
	assertBoundsEqual(t, original, v.Bounds())
}

func TestView_ButtonZoomWithPanRoundTrip(t *testing.T) {
	original := models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 80}
	v := NewView(original, 1024, 768, DefaultPadding)
	v.PanBy(35, -12)

	v.ZoomIn()
	v.ZoomIn()
	v.ZoomOut()
	v.ZoomOut()
	assertBoundsEqual(t, original, v.Bounds())
}

func TestView_WheelKeepsAnchorUnderPointer(t *testing.T) {
	original := models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 80}
	v := NewView(original, 800, 600, DefaultPadding)

	before := v.ScreenToDrawing(200, 150)
	v.Wheel(200, 150, -3)
	after := v.ScreenToDrawing(200, 150)

	assert.InDelta(t, before.X, after.X, tolerance)
	assert.InDelta(t, before.Y, after.Y, tolerance)
	assert.Less(t, v.Bounds().Width(), original.Width())

	v.Wheel(200, 150, 3)
	assertBoundsEqual(t, original, v.Bounds())
}

func TestView_PanDoesNotTouchBounds(t *testing.T) {
	original := models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 80}
	v := NewView(original, 800, 600, DefaultPadding)

	p := models.Point{X: 50, Y: 40}
	s0 := ToScreen(p, v.Transform())

	v.PanBy(30, 40)
	assert.Equal(t, original, v.Bounds())

	s1 := ToScreen(p, v.Transform())
	assert.InDelta(t, s0.X+30, s1.X, tolerance)
	assert.InDelta(t, s0.Y+40, s1.Y, tolerance)

	// pointer mapping takes the pan into account
	back := v.ScreenToDrawing(s1.X, s1.Y)
	assert.InDelta(t, p.X, back.X, tolerance)
	assert.InDelta(t, p.Y, back.Y, tolerance)
}

func TestView_ResetAndSetDrawing(t *testing.T) {
	original := models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 80}
	v := NewView(original, 800, 600, DefaultPadding)
	v.ZoomIn()
	v.PanBy(10, 10)

	v.ZoomReset()
	st := v.State()
	assert.Equal(t, original, st.Bounds)
	assert.Zero(t, st.PanX)
	assert.Zero(t, st.PanY)

	next := models.BoundingBox{MinX: -5, MinY: -5, MaxX: 5, MaxY: 5}
	v.ZoomOut()
	v.SetDrawing(next)
	assert.Equal(t, next, v.Bounds())
	assert.Equal(t, next, v.State().DrawingBounds)
}

func TestView_ZoomStaysFinite(t *testing.T) {
	drawing := models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 90}
	tests := []struct {
		name string
		zoom func(v *View)
	}{
		{"wheel out", func(v *View) { v.Wheel(400, 300, 8000) }},
		{"wheel in", func(v *View) { v.Wheel(400, 300, -8000) }},
		{"many wheel calls out", func(v *View) {
			for i := 0; i < 500; i++ {
				v.Wheel(400, 300, MaxWheelTicks)
			}
		}},
		{"button out", func(v *View) {
			for i := 0; i < 5000; i++ {
				v.ZoomOut()
			}
		}},
		{"button in", func(v *View) {
			for i := 0; i < 5000; i++ {
				v.ZoomIn()
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewView(drawing, 800, 600, DefaultPadding)
			tt.zoom(v)

			st := v.State()
			_, err := json.Marshal(st)
			require.NoError(t, err)

			s := span(st.Bounds)
			assert.GreaterOrEqual(t, s, span(drawing)/MaxZoomIn)
			assert.LessOrEqual(t, s, span(drawing)*MaxZoomOut)

			p := models.Point{X: 50, Y: 40}
			back := ToDrawing(ToScreen(p, st.Transform), st.Transform)
			assert.InDelta(t, p.X, back.X, 1e-3)
			assert.InDelta(t, p.Y, back.Y, 1e-3)

			v.ZoomReset()
			assertBoundsEqual(t, drawing, v.Bounds())
		})
	}
}

func TestView_WheelTicksAreCapped(t *testing.T) {
	drawing := models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}
	capped := NewView(drawing, 800, 600, DefaultPadding)
	capped.Wheel(400, 300, 10*MaxWheelTicks)

	limit := NewView(drawing, 800, 600, DefaultPadding)
	limit.Wheel(400, 300, MaxWheelTicks)

	assertBoundsEqual(t, limit.Bounds(), capped.Bounds())
}

func TestView_PanStaysFinite(t *testing.T) {
	v := NewView(models.BoundingBox{MaxX: 100, MaxY: 100}, 800, 600, DefaultPadding)
	v.PanBy(math.MaxFloat64, -math.MaxFloat64)
	v.PanBy(math.MaxFloat64, -math.MaxFloat64)

	st := v.State()
	assert.Equal(t, math.MaxFloat64, st.PanX)
	assert.Equal(t, -math.MaxFloat64, st.PanY)
	_, err := json.Marshal(st)
	require.NoError(t, err)
}
