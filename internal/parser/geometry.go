package parser

import (
	"math"

	"github.com/site-tracker/backend/internal/models"
)

// DefaultBounds is used when a drawing has no primitives.
var DefaultBounds = models.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}

// ComputeBounds returns the box around all primitives grown by margin.
// Circles and arcs contribute their full center±radius extent.
func ComputeBounds(prims []models.Primitive, margin float64) models.BoundingBox {
	if len(prims) == 0 {
		return DefaultBounds.Expand(margin)
	}

	b := models.BoundingBox{
		MinX: math.Inf(1), MinY: math.Inf(1),
		MaxX: math.Inf(-1), MaxY: math.Inf(-1),
	}
	add := func(x, y float64) {
		b.MinX = math.Min(b.MinX, x)
		b.MinY = math.Min(b.MinY, y)
		b.MaxX = math.Max(b.MaxX, x)
		b.MaxY = math.Max(b.MaxY, y)
	}

	for _, p := range prims {
		switch p.Kind {
		case models.PrimitiveLine:
			add(p.P1.X, p.P1.Y)
			add(p.P2.X, p.P2.Y)
		case models.PrimitiveCircle, models.PrimitiveArc:
			add(p.Center.X-p.Radius, p.Center.Y-p.Radius)
			add(p.Center.X+p.Radius, p.Center.Y+p.Radius)
		case models.PrimitivePolyline:
			for _, v := range p.Vertices {
				add(v.X, v.Y)
			}
		}
	}

	if math.IsInf(b.MinX, 1) {
		return DefaultBounds.Expand(margin)
	}
	return b.Expand(margin)
}

const (
	// MinSegments is the segment floor for a full circle.
	MinSegments = 16
	// MaxSegments caps the cost of very large radii.
	MaxSegments = 360
	// MinArcSegments is the floor for any arc, however short.
	MinArcSegments = 4
	// DefaultTolerance is the allowed distance, in drawing units, between
	// a true circle and its polygon.
	DefaultTolerance = 0.1
)

// SegmentCount returns how many segments a full circle of radius r needs
// so that the chord sagitta stays within tol.
func SegmentCount(r, tol float64) int {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	if r <= tol {
		return MinSegments
	}
	n := int(math.Ceil(math.Pi / math.Acos(1-tol/r)))
	if n < MinSegments {
		return MinSegments
	}
	if n > MaxSegments {
		return MaxSegments
	}
	return n
}

// Tessellate converts circles and arcs into polylines. Lines and
// polylines are returned unchanged.
func Tessellate(p models.Primitive, tol float64) models.Primitive {
	switch p.Kind {
	case models.PrimitiveCircle:
		n := SegmentCount(p.Radius, tol)
		verts := make([]models.Point, n)
		for i := 0; i < n; i++ {
			verts[i] = pointOnCircle(p.Center, p.Radius, 2*math.Pi*float64(i)/float64(n))
		}
		out := models.NewPolyline(verts, true)
		out.Layer = p.Layer
		return out

	case models.PrimitiveArc:
		sweep := p.Sweep()
		n := int(math.Ceil(float64(SegmentCount(p.Radius, tol)) * sweep / (2 * math.Pi)))
		if n < MinArcSegments {
			n = MinArcSegments
		}
		verts := make([]models.Point, n+1)
		for i := 0; i <= n; i++ {
			verts[i] = pointOnCircle(p.Center, p.Radius, p.StartAngle+sweep*float64(i)/float64(n))
		}
		out := models.NewPolyline(verts, false)
		out.Layer = p.Layer
		return out

	default:
		return p
	}
}

// TessellateAll applies Tessellate to every primitive.
func TessellateAll(prims []models.Primitive, tol float64) []models.Primitive {
	out := make([]models.Primitive, len(prims))
	for i, p := range prims {
		out[i] = Tessellate(p, tol)
	}
	return out
}

func pointOnCircle(c models.Point, r, angle float64) models.Point {
	sin, cos := math.Sincos(angle)
	return models.Point{X: c.X + r*cos, Y: c.Y + r*sin, Z: c.Z}
}
