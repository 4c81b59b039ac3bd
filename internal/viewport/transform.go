// Package viewport maps drawing-space coordinates to a pixel viewport and back.
package viewport

import (
	"math"

	"github.com/site-tracker/backend/internal/models"
)

// DefaultPadding is the pixel margin kept around the drawing.
const DefaultPadding = 20.0

// Transform is the affine map from drawing space to screen space.
// Screen Y grows downwards while drawing Y grows upwards.
type Transform struct {
	Scale          float64 `json:"scale"`
	OffsetX        float64 `json:"offsetX"`
	OffsetY        float64 `json:"offsetY"`
	ViewportWidth  float64 `json:"viewportWidth"`
	ViewportHeight float64 `json:"viewportHeight"`
}

// ComputeTransform fits bounds into a w×h viewport minus padding on every
// side, preserving aspect ratio and centring the drawing on the axis that
// has room left. The result always has a positive scale.
func ComputeTransform(w, h float64, b models.BoundingBox, padding float64) Transform {
	availW := math.Max(w-2*padding, 1)
	availH := math.Max(h-2*padding, 1)

	drawW := b.Width()
	drawH := b.Height()

	var scale float64
	switch {
	case drawW > 0 && drawH > 0:
		scale = math.Min(availW/drawW, availH/drawH)
	case drawW > 0:
		scale = availW / drawW
	case drawH > 0:
		scale = availH / drawH
	default:
		scale = 1
	}
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}

	return Transform{
		Scale:          scale,
		OffsetX:        padding + (availW-drawW*scale)/2 - b.MinX*scale,
		OffsetY:        padding + (availH-drawH*scale)/2 - b.MinY*scale,
		ViewportWidth:  w,
		ViewportHeight: h,
	}
}

// ToScreen maps a drawing-space point to viewport pixels.
func ToScreen(p models.Point, t Transform) models.Point {
	return models.Point{
		X: p.X*t.Scale + t.OffsetX,
		Y: t.ViewportHeight - (p.Y*t.Scale + t.OffsetY),
	}
}

// ToDrawing is the exact inverse of ToScreen.
func ToDrawing(s models.Point, t Transform) models.Point {
	return models.Point{
		X: (s.X - t.OffsetX) / t.Scale,
		Y: (t.ViewportHeight - s.Y - t.OffsetY) / t.Scale,
	}
}

// ScaleLabel returns the drawing units represented by one pixel.
func (t Transform) ScaleLabel() float64 {
	return 1 / t.Scale
}

// Translate returns t shifted by a screen-pixel pan. Positive dy moves the
// drawing down the screen.
func (t Transform) Translate(dx, dy float64) Transform {
	t.OffsetX += dx
	t.OffsetY -= dy
	return t
}
