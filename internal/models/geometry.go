// Package models contains domain types for the site tracker.
package models

import "math"

// PrimitiveKind identifies the variant held by a Primitive.
type PrimitiveKind string

const (
	PrimitiveLine     PrimitiveKind = "line"
	PrimitiveCircle   PrimitiveKind = "circle"
	PrimitiveArc      PrimitiveKind = "arc"
	PrimitivePolyline PrimitiveKind = "polyline"
)

// Point is a drawing-space coordinate. Z is kept when the source carries it.
type Point struct {
	X float64 `json:"x" msgpack:"x" yaml:"x"`
	Y float64 `json:"y" msgpack:"y" yaml:"y"`
	Z float64 `json:"z,omitempty" msgpack:"z,omitempty" yaml:"z,omitempty"`
}

// Primitive is a tagged variant over line, circle, arc and polyline.
// Only the fields belonging to Kind are meaningful.
type Primitive struct {
	Kind  PrimitiveKind `json:"type"`
	Layer string        `json:"layer,omitempty"`

	// Line
	P1 Point `json:"p1,omitempty"`
	P2 Point `json:"p2,omitempty"`

	// Circle and Arc
	Center Point   `json:"center,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	// Arc, radians, sweep always goes from StartAngle towards increasing angle
	StartAngle float64 `json:"startAngle,omitempty"`
	EndAngle   float64 `json:"endAngle,omitempty"`

	// Polyline
	Vertices []Point `json:"vertices,omitempty"`
	Closed   bool    `json:"closed,omitempty"`
}

// NewLine creates a line primitive.
func NewLine(p1, p2 Point) Primitive {
	return Primitive{Kind: PrimitiveLine, P1: p1, P2: p2}
}

// NewCircle creates a circle primitive.
func NewCircle(center Point, radius float64) Primitive {
	return Primitive{Kind: PrimitiveCircle, Center: center, Radius: radius}
}

// NewArc creates an arc primitive. Angles are in radians.
func NewArc(center Point, radius, start, end float64) Primitive {
	return Primitive{Kind: PrimitiveArc, Center: center, Radius: radius, StartAngle: start, EndAngle: end}
}

// NewPolyline creates a polyline primitive.
func NewPolyline(vertices []Point, closed bool) Primitive {
	return Primitive{Kind: PrimitivePolyline, Vertices: vertices, Closed: closed}
}

// Sweep returns the arc sweep in radians, in (0, 2π].
// An end angle smaller than the start wraps through 2π.
func (p Primitive) Sweep() float64 {
	sweep := p.EndAngle - p.StartAngle
	for sweep <= 0 {
		sweep += 2 * math.Pi
	}
	for sweep > 2*math.Pi {
		sweep -= 2 * math.Pi
	}
	return sweep
}

// BoundingBox is an axis-aligned box in drawing-space units.
type BoundingBox struct {
	MinX float64 `json:"minX" msgpack:"minX"`
	MinY float64 `json:"minY" msgpack:"minY"`
	MaxX float64 `json:"maxX" msgpack:"maxX"`
	MaxY float64 `json:"maxY" msgpack:"maxY"`
}

// Width returns MaxX - MinX.
func (b BoundingBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns MaxY - MinY.
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

// Center returns the box midpoint.
func (b BoundingBox) Center() Point {
	return Point{X: (b.MinX + b.MaxX) / 2, Y: (b.MinY + b.MaxY) / 2}
}

// Expand returns the box grown by margin on every side.
func (b BoundingBox) Expand(margin float64) BoundingBox {
	return BoundingBox{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// Drawing is the parsed floor plan of a site.
type Drawing struct {
	Primitives []Primitive  `json:"primitives"`
	Bounds     BoundingBox  `json:"bounds"`
	Layers     []string     `json:"layers,omitempty"`
	Skipped    []ParseError `json:"skipped,omitempty"`
}
