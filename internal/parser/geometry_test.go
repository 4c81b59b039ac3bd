package parser

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/site-tracker/backend/internal/models"
)

func TestSegmentCount(t *testing.T) {
	tests := []struct {
		name   string
		radius float64
		check  func(n int) bool
	}{
		{"tiny radius uses the floor", 0.05, func(n int) bool { return n == MinSegments }},
		{"small radius uses the floor", 1, func(n int) bool { return n == MinSegments }},
		{"huge radius is capped", 1e9, func(n int) bool { return n == MaxSegments }},
		{"medium radius in range", 50, func(n int) bool { return n > MinSegments && n < MaxSegments }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := SegmentCount(tt.radius, DefaultTolerance)
			if !tt.check(n) {
				t.Errorf("unexpected segment count %d for radius %v", n, tt.radius)
			}
		})
	}

	if SegmentCount(10, DefaultTolerance) > SegmentCount(100, DefaultTolerance) {
		t.Error("segment count should grow with radius")
	}
}

func TestTessellateCircle(t *testing.T) {
	circle := models.NewCircle(models.Point{X: 5, Y: 5}, 20)
	circle.Layer = "COLUMNS"

	poly := Tessellate(circle, DefaultTolerance)
	if poly.Kind != models.PrimitivePolyline || !poly.Closed {
		t.Fatalf("expected closed polyline, got %+v", poly.Kind)
	}
	if poly.Layer != "COLUMNS" {
		t.Errorf("expected layer to be kept, got %q", poly.Layer)
	}
	if len(poly.Vertices) != SegmentCount(20, DefaultTolerance) {
		t.Errorf("expected %d vertices, got %d", SegmentCount(20, DefaultTolerance), len(poly.Vertices))
	}
	for i, v := range poly.Vertices {
		d := math.Hypot(v.X-5, v.Y-5)
		if math.Abs(d-20) > 1e-9 {
			t.Fatalf("vertex %d off the circle: distance %v", i, d)
		}
	}
}

func TestTessellateArcWraps(t *testing.T) {
	// 270° to 90° sweeps through 0°, so the middle vertex is on the +X axis
	arc := models.NewArc(models.Point{}, 10, 3*math.Pi/2, math.Pi/2)
	poly := Tessellate(arc, DefaultTolerance)

	if poly.Closed {
		t.Error("arc polyline must be open")
	}
	first := poly.Vertices[0]
	last := poly.Vertices[len(poly.Vertices)-1]
	if math.Abs(first.X) > 1e-9 || math.Abs(first.Y+10) > 1e-9 {
		t.Errorf("unexpected first vertex %+v", first)
	}
	if math.Abs(last.X) > 1e-9 || math.Abs(last.Y-10) > 1e-9 {
		t.Errorf("unexpected last vertex %+v", last)
	}
	for _, v := range poly.Vertices {
		if v.X < -1e-9 {
			t.Fatalf("vertex %+v lies on the wrong side of the sweep", v)
		}
	}
}

func TestTessellateLeavesLinesAlone(t *testing.T) {
	line := models.NewLine(models.Point{X: 1}, models.Point{X: 2})
	if got := Tessellate(line, DefaultTolerance); got.Kind != models.PrimitiveLine {
		t.Errorf("expected line to be unchanged, got %s", got.Kind)
	}
}

func TestComputeBoundsEmpty(t *testing.T) {
	b := ComputeBounds(nil, DefaultMargin)
	want := models.BoundingBox{MinX: -10, MinY: -10, MaxX: 110, MaxY: 110}
	if b != want {
		t.Errorf("expected %+v, got %+v", want, b)
	}
}

func TestTokenizer(t *testing.T) {
	tok := NewTokenizer(strings.NewReader("0\nLINE\n\n10\n1.5\nbad\nvalue\n8"))

	p, err := tok.Next()
	if err != nil || p.Code != 0 || p.Value != "LINE" || p.Line != 1 {
		t.Fatalf("unexpected first pair %+v, err %v", p, err)
	}

	p, err = tok.Next()
	if err != nil || p.Code != 10 || p.Value != "1.5" || p.Line != 4 {
		t.Fatalf("unexpected second pair %+v, err %v", p, err)
	}

	p, err = tok.Next()
	if err == nil || !p.Bad {
		t.Fatalf("expected malformed pair, got %+v", p)
	}

	if _, err = tok.Next(); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected unexpected EOF, got %v", err)
	}
}
