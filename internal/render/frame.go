// Package render draws site frames as SVG: floor plan, geofences and tags.
package render

import (
	"bytes"
	"fmt"
	"math"

	svg "github.com/ajstarks/svgo"
	"github.com/site-tracker/backend/internal/models"
	"github.com/site-tracker/backend/internal/parser"
	"github.com/site-tracker/backend/internal/viewport"
)

// Style holds colours and sizes of a frame.
type Style struct {
	Background    string
	GridColor     string
	LineColor     string
	AreaColor     string
	EmployeeColor string
	AssetColor    string
	InactiveColor string
	LabelColor    string
	GridSize      float64 // drawing units
	TagRadius     int     // pixels
	ShowGrid      bool
	Tolerance     float64 // pixels of chord error when tessellating curves
}

// DefaultStyle matches the dashboard palette.
func DefaultStyle() Style {
	return Style{
		Background:    "#f8f8f8",
		GridColor:     "#e0e0e0",
		LineColor:     "#3b82f6",
		AreaColor:     "#ef4444",
		EmployeeColor: "#3b82f6",
		AssetColor:    "#10b981",
		InactiveColor: "#9ca3af",
		LabelColor:    "#000000",
		GridSize:      10,
		TagRadius:     5,
		ShowGrid:      true,
		Tolerance:     0.5,
	}
}

// Scene is everything drawn in one frame.
type Scene struct {
	Drawing *models.Drawing
	Areas   []models.Area
	Tags    []models.TagDisplayInfo
	Style   Style
}

// maxGridLines caps each grid direction so a far zoom-out stays cheap.
const maxGridLines = 500

// Frame renders scene through the current transform of view.
func Frame(scene Scene, view *viewport.View) ([]byte, error) {
	if view == nil {
		return nil, fmt.Errorf("render: nil view")
	}
	st := view.State()
	style := scene.Style
	if style.TagRadius == 0 {
		style = DefaultStyle()
	}
	w, h := int(math.Round(st.Width)), int(math.Round(st.Height))
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("render: empty viewport %dx%d", w, h)
	}
	tr := st.Transform

	var buf bytes.Buffer
	canvas := svg.New(&buf)
	canvas.Start(w, h)
	canvas.Rect(0, 0, w, h, "fill:"+style.Background)

	if style.ShowGrid && style.GridSize > 0 {
		drawGrid(canvas, st.Bounds, tr, w, h, style)
	}
	if scene.Drawing != nil {
		drawGeometry(canvas, scene.Drawing.Primitives, tr, style)
	}
	drawAreas(canvas, scene.Areas, tr, style)
	drawTags(canvas, scene.Tags, tr, style)

	canvas.Text(10, 20, fmt.Sprintf("Scale 1:%.2f", tr.ScaleLabel()),
		"fill:rgba(0,0,0,0.5);font-family:Arial;font-size:12px")
	canvas.End()
	return buf.Bytes(), nil
}

func screen(tr viewport.Transform, p models.Point) (int, int) {
	s := viewport.ToScreen(p, tr)
	return int(math.Round(s.X)), int(math.Round(s.Y))
}

func drawGrid(canvas *svg.SVG, b models.BoundingBox, tr viewport.Transform, w, h int, style Style) {
	g := style.GridSize
	if b.Width()/g > maxGridLines || b.Height()/g > maxGridLines {
		return
	}
	canvas.Gstyle(fmt.Sprintf("stroke:%s;stroke-width:0.5", style.GridColor))
	for x := math.Floor(b.MinX/g) * g; x <= b.MaxX; x += g {
		sx, _ := screen(tr, models.Point{X: x})
		canvas.Line(sx, 0, sx, h)
	}
	for y := math.Floor(b.MinY/g) * g; y <= b.MaxY; y += g {
		_, sy := screen(tr, models.Point{Y: y})
		canvas.Line(0, sy, w, sy)
	}
	canvas.Gend()
}

func drawGeometry(canvas *svg.SVG, prims []models.Primitive, tr viewport.Transform, style Style) {
	tol := style.Tolerance / tr.Scale
	canvas.Gstyle(fmt.Sprintf("fill:none;stroke:%s;stroke-width:1", style.LineColor))
	for _, p := range prims {
		p = parser.Tessellate(p, tol)
		switch p.Kind {
		case models.PrimitiveLine:
			x1, y1 := screen(tr, p.P1)
			x2, y2 := screen(tr, p.P2)
			canvas.Line(x1, y1, x2, y2)
		case models.PrimitivePolyline:
			xs, ys := screenPath(tr, p.Vertices, p.Closed)
			if len(xs) > 1 {
				canvas.Polyline(xs, ys)
			}
		}
	}
	canvas.Gend()
}

func screenPath(tr viewport.Transform, pts []models.Point, closed bool) ([]int, []int) {
	n := len(pts)
	if closed && n > 0 {
		n++
	}
	xs := make([]int, 0, n)
	ys := make([]int, 0, n)
	for _, p := range pts {
		x, y := screen(tr, p)
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if closed && len(pts) > 0 {
		xs = append(xs, xs[0])
		ys = append(ys, ys[0])
	}
	return xs, ys
}

func drawAreas(canvas *svg.SVG, areas []models.Area, tr viewport.Transform, style Style) {
	for _, a := range areas {
		if len(a.Points) < 3 {
			continue
		}
		xs, ys := screenPath(tr, a.Points, false)
		canvas.Polygon(xs, ys, fmt.Sprintf("fill:%s;fill-opacity:0.2;stroke:%s;stroke-width:2", style.AreaColor, style.AreaColor))
		c := centroid(a.Points)
		cx, cy := screen(tr, c)
		canvas.Text(cx, cy, a.Name, "fill:"+style.AreaColor+";font-family:Arial;font-size:11px;text-anchor:middle")
	}
}

func centroid(pts []models.Point) models.Point {
	var c models.Point
	for _, p := range pts {
		c.X += p.X
		c.Y += p.Y
	}
	n := float64(len(pts))
	return models.Point{X: c.X / n, Y: c.Y / n}
}

// TagColor returns the fill colour of a tag marker.
func TagColor(info models.TagDisplayInfo, style Style) string {
	if info.Stale || !info.Associated {
		return style.InactiveColor
	}
	if info.Type == models.TargetAsset {
		return style.AssetColor
	}
	return style.EmployeeColor
}

func drawTags(canvas *svg.SVG, tags []models.TagDisplayInfo, tr viewport.Transform, style Style) {
	for _, tag := range tags {
		x, y := screen(tr, models.Point{X: tag.X, Y: tag.Y})
		canvas.Circle(x, y, style.TagRadius, "fill:"+TagColor(tag, style))

		label := tag.Name
		if label == "" {
			label = tag.TagID
		}
		canvas.Text(x, y-2*style.TagRadius, label,
			"fill:"+style.LabelColor+";font-family:Arial;font-size:10px;text-anchor:middle")
	}
}
