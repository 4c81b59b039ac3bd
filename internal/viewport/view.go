package viewport

import (
	"math"
	"sync"

	"github.com/site-tracker/backend/internal/models"
)

// Zoom factors applied to the visible bounds. Factors below one zoom in.
const (
	ButtonZoomIn  = 0.8
	ButtonZoomOut = 1.25
	WheelStep     = 1.1

	// MaxWheelTicks caps the ticks applied by one Wheel call.
	MaxWheelTicks = 50
	// MaxZoomIn and MaxZoomOut bound the visible span relative to the
	// drawing span. Zoom steps past either limit are ignored.
	MaxZoomIn  = 1e4
	MaxZoomOut = 1e3
)

// State is a serialisable snapshot of a View.
type State struct {
	Bounds        models.BoundingBox `json:"bounds"`
	DrawingBounds models.BoundingBox `json:"drawingBounds"`
	Width         float64            `json:"width"`
	Height        float64            `json:"height"`
	Padding       float64            `json:"padding"`
	PanX          float64            `json:"panX"`
	PanY          float64            `json:"panY"`
	Transform     Transform          `json:"transform"`
}

// View holds the zoom and pan state of one viewport. The visible bounds
// are the source of truth; a fresh Transform is derived on every call.
// Pan is a pixel offset applied on top and never changes the bounds.
type View struct {
	mu      sync.RWMutex
	drawing models.BoundingBox
	bounds  models.BoundingBox
	width   float64
	height  float64
	padding float64
	panX    float64
	panY    float64
}

// NewView creates a view showing the whole drawing.
func NewView(drawing models.BoundingBox, width, height, padding float64) *View {
	return &View{
		drawing: drawing,
		bounds:  drawing,
		width:   width,
		height:  height,
		padding: padding,
	}
}

// Transform returns the current drawing-to-screen transform including pan.
func (v *View) Transform() Transform {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.transformLocked()
}

func (v *View) transformLocked() Transform {
	return ComputeTransform(v.width, v.height, v.bounds, v.padding).Translate(v.panX, v.panY)
}

// Bounds returns the visible drawing-space bounds.
func (v *View) Bounds() models.BoundingBox {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.bounds
}

// State returns a snapshot of the view.
func (v *View) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return State{
		Bounds:        v.bounds,
		DrawingBounds: v.drawing,
		Width:         v.width,
		Height:        v.height,
		Padding:       v.padding,
		PanX:          v.panX,
		PanY:          v.panY,
		Transform:     v.transformLocked(),
	}
}

// SetDrawing replaces the drawing bounds after a new plan is loaded and
// resets zoom and pan.
func (v *View) SetDrawing(b models.BoundingBox) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.drawing = b
	v.bounds = b
	v.panX, v.panY = 0, 0
}

// Resize changes the viewport pixel size.
func (v *View) Resize(width, height float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.width = width
	v.height = height
}

// ZoomAt scales the visible bounds by factor around a drawing-space
// anchor. The anchor keeps its relative position inside the bounds, and
// so stays under the same screen pixel.
func (v *View) ZoomAt(anchor models.Point, factor float64) {
	if factor <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.zoomLocked(anchor, factor)
}

// ZoomIn zooms one button step around the viewport centre.
func (v *View) ZoomIn() { v.zoomCentre(ButtonZoomIn) }

// ZoomOut zooms one button step out around the viewport centre.
func (v *View) ZoomOut() { v.zoomCentre(ButtonZoomOut) }

func (v *View) zoomCentre(factor float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	centre := ToDrawing(models.Point{X: v.width / 2, Y: v.height / 2}, v.transformLocked())
	v.zoomLocked(centre, factor)
}

// Wheel applies wheel ticks at a screen position. Negative ticks (wheel
// up) zoom in, positive ticks zoom out. At most MaxWheelTicks are applied.
func (v *View) Wheel(screenX, screenY float64, ticks int) {
	if ticks == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	anchor := ToDrawing(models.Point{X: screenX, Y: screenY}, v.transformLocked())
	factor := WheelStep
	if ticks < 0 {
		factor = 1 / WheelStep
		ticks = -ticks
	}
	ticks = min(ticks, MaxWheelTicks)
	for i := 0; i < ticks; i++ {
		if !v.zoomLocked(anchor, factor) {
			return
		}
	}
}

// zoomLocked applies one zoom step and reports whether it was accepted.
// A step that leaves the zoom limits or produces non-finite bounds keeps
// the previous bounds.
func (v *View) zoomLocked(anchor models.Point, factor float64) bool {
	next := zoomBounds(v.bounds, anchor, factor)
	if !v.withinLimits(next) {
		return false
	}
	v.bounds = next
	return true
}

func (v *View) withinLimits(b models.BoundingBox) bool {
	for _, f := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	ref := span(v.drawing)
	if ref <= 0 || math.IsInf(ref, 0) {
		ref = 1
	}
	s := span(b)
	return s >= ref/MaxZoomIn && s <= ref*MaxZoomOut
}

func span(b models.BoundingBox) float64 {
	return math.Max(b.Width(), b.Height())
}

// ZoomReset shows the whole drawing again and clears the pan.
func (v *View) ZoomReset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bounds = v.drawing
	v.panX, v.panY = 0, 0
}

// PanBy adds a screen-pixel offset.
func (v *View) PanBy(dx, dy float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	x, y := v.panX+dx, v.panY+dy
	if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
		return
	}
	v.panX, v.panY = x, y
}

// ScreenToDrawing maps a pointer position to drawing space.
func (v *View) ScreenToDrawing(screenX, screenY float64) models.Point {
	return ToDrawing(models.Point{X: screenX, Y: screenY}, v.Transform())
}

func zoomBounds(b models.BoundingBox, anchor models.Point, factor float64) models.BoundingBox {
	return models.BoundingBox{
		MinX: anchor.X - (anchor.X-b.MinX)*factor,
		MinY: anchor.Y - (anchor.Y-b.MinY)*factor,
		MaxX: anchor.X + (b.MaxX-anchor.X)*factor,
		MaxY: anchor.Y + (b.MaxY-anchor.Y)*factor,
	}
}
