package parser

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/site-tracker/backend/internal/models"
	"go.uber.org/zap"
)

// DefaultMargin is added around the computed drawing bounds.
const DefaultMargin = 10.0

const maxInsertDepth = 8

// Option configures ParseDXF.
type Option func(*options)

type options struct {
	logger *zap.Logger
	margin float64
}

// WithLogger sets the logger used to report skipped entities.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMargin overrides DefaultMargin.
func WithMargin(m float64) Option {
	return func(o *options) { o.margin = m }
}

// entity is one "0 <TYPE>" record and the pairs that follow it.
type entity struct {
	kind     string
	line     int
	pairs    []Pair
	vertices []entity // VERTEX records of an old-style POLYLINE
}

func (e entity) malformed() bool {
	for _, p := range e.pairs {
		if p.Bad {
			return true
		}
	}
	return false
}

func (e entity) first(code int) (string, bool) {
	for _, p := range e.pairs {
		if p.Code == code {
			return p.Value, true
		}
	}
	return "", false
}

func (e entity) float(code int) (float64, error) {
	v, ok := e.first(code)
	if !ok {
		return 0, fmt.Errorf("missing group code %d", code)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("group code %d: invalid number %q", code, v)
	}
	return f, nil
}

func (e entity) floatOr(code int, def float64) (float64, error) {
	if _, ok := e.first(code); !ok {
		return def, nil
	}
	return e.float(code)
}

func (e entity) point(xCode int) (models.Point, error) {
	x, err := e.float(xCode)
	if err != nil {
		return models.Point{}, err
	}
	y, err := e.float(xCode + 10)
	if err != nil {
		return models.Point{}, err
	}
	z, err := e.floatOr(xCode+20, 0)
	if err != nil {
		return models.Point{}, err
	}
	return models.Point{X: x, Y: y, Z: z}, nil
}

func (e entity) flags() int {
	v, ok := e.first(70)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

type block struct {
	name     string
	base     models.Point
	entities []entity
}

// dxfParser walks the pair stream section by section.
type dxfParser struct {
	pairs   []Pair
	pos     int
	log     *zap.Logger
	blocks  map[string]*block
	skipped []models.ParseError
	layers  map[string]struct{}
}

// ParseDXFFile parses the drawing stored at filePath.
func ParseDXFFile(filePath string, opts ...Option) (*models.Drawing, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("opening drawing: %w", err)
	}
	defer f.Close()
	return ParseDXF(f, opts...)
}

// ParseDXF reads DXF text and returns the floor-plan primitives and bounds.
//
// A stream without an ENTITIES section fails with a *ParseError. A stream
// whose entities are all unknown or malformed returns the drawing with
// default bounds together with a *ParseError{NoRecognizedPrimitives}.
func ParseDXF(r io.Reader, opts ...Option) (*models.Drawing, error) {
	o := options{logger: zap.NewNop(), margin: DefaultMargin}
	for _, opt := range opts {
		opt(&o)
	}

	pairs, err := ReadPairs(r)
	if err != nil {
		return nil, err
	}

	p := &dxfParser{
		pairs:  pairs,
		log:    o.logger,
		blocks: make(map[string]*block),
		layers: make(map[string]struct{}),
	}

	entities, found := p.readSections()
	if !found {
		return nil, &ParseError{Reason: NoEntitiesSection}
	}

	var prims []models.Primitive
	for _, e := range entities {
		prims = append(prims, p.build(e, 0)...)
	}

	drawing := &models.Drawing{
		Primitives: prims,
		Bounds:     ComputeBounds(prims, o.margin),
		Layers:     p.layerNames(),
		Skipped:    p.skipped,
	}

	if len(prims) == 0 {
		return drawing, &ParseError{Reason: NoRecognizedPrimitives, Skipped: len(p.skipped)}
	}
	if len(p.skipped) > 0 {
		p.log.Info("drawing parsed with skipped entities",
			zap.Int("primitives", len(prims)),
			zap.Int("skipped", len(p.skipped)))
	}
	return drawing, nil
}

// readSections collects the ENTITIES records and the BLOCKS definitions.
func (p *dxfParser) readSections() ([]entity, bool) {
	var entities []entity
	found := false

	for p.pos < len(p.pairs) {
		pr := p.pairs[p.pos]
		p.pos++
		if pr.Code != 0 || !strings.EqualFold(pr.Value, "SECTION") {
			continue
		}
		if p.pos >= len(p.pairs) || p.pairs[p.pos].Code != 2 {
			continue
		}
		name := strings.ToUpper(p.pairs[p.pos].Value)
		p.pos++

		records := p.readRecords()
		switch name {
		case "ENTITIES":
			found = true
			entities = append(entities, groupPolylines(records)...)
		case "BLOCKS":
			p.collectBlocks(records)
		}
	}
	return entities, found
}

// readRecords splits the pairs up to the next ENDSEC into entity records.
func (p *dxfParser) readRecords() []entity {
	var records []entity
	var cur *entity
	for p.pos < len(p.pairs) {
		pr := p.pairs[p.pos]
		p.pos++
		if pr.Code == 0 {
			kind := strings.ToUpper(pr.Value)
			if kind == "ENDSEC" {
				break
			}
			records = append(records, entity{kind: kind, line: pr.Line})
			cur = &records[len(records)-1]
			continue
		}
		if cur != nil {
			cur.pairs = append(cur.pairs, pr)
		}
	}
	return records
}

// groupPolylines attaches VERTEX records to the POLYLINE that opened them.
func groupPolylines(records []entity) []entity {
	out := make([]entity, 0, len(records))
	for i := 0; i < len(records); i++ {
		e := records[i]
		if e.kind != "POLYLINE" {
			if e.kind != "VERTEX" && e.kind != "SEQEND" {
				out = append(out, e)
			}
			continue
		}
		for i+1 < len(records) && records[i+1].kind == "VERTEX" {
			i++
			e.vertices = append(e.vertices, records[i])
		}
		if i+1 < len(records) && records[i+1].kind == "SEQEND" {
			i++
		}
		out = append(out, e)
	}
	return out
}

func (p *dxfParser) collectBlocks(records []entity) {
	var cur *block
	var body []entity
	for _, e := range records {
		switch e.kind {
		case "BLOCK":
			name, _ := e.first(2)
			base, err := e.point(10)
			if err != nil {
				base = models.Point{}
			}
			cur = &block{name: strings.ToUpper(name), base: base}
			body = nil
		case "ENDBLK":
			if cur != nil && cur.name != "" {
				cur.entities = groupPolylines(body)
				p.blocks[cur.name] = cur
			}
			cur = nil
		default:
			if cur != nil {
				body = append(body, e)
			}
		}
	}
}

func (p *dxfParser) skip(e entity, reason string) {
	p.skipped = append(p.skipped, models.ParseError{
		Line:    e.line,
		Content: e.kind,
		Reason:  reason,
	})
	p.log.Debug("skipping entity",
		zap.String("entity", e.kind),
		zap.Int("line", e.line),
		zap.String("reason", reason))
}

// build turns one entity record into primitives. Failures are recorded
// and never abort the parse.
func (p *dxfParser) build(e entity, depth int) []models.Primitive {
	if e.malformed() {
		p.skip(e, "malformed group code")
		return nil
	}

	var prim models.Primitive
	var err error
	switch e.kind {
	case "LINE":
		prim, err = buildLine(e)
	case "CIRCLE":
		prim, err = buildCircle(e)
	case "ARC":
		prim, err = buildArc(e)
	case "LWPOLYLINE":
		prim, err = buildLWPolyline(e)
	case "POLYLINE":
		prim, err = buildPolyline(e)
	case "INSERT":
		return p.expandInsert(e, depth)
	default:
		p.skip(e, "unsupported entity type")
		return nil
	}
	if err != nil {
		p.skip(e, err.Error())
		return nil
	}

	if layer, ok := e.first(8); ok {
		prim.Layer = layer
		p.layers[layer] = struct{}{}
	}
	return []models.Primitive{prim}
}

func buildLine(e entity) (models.Primitive, error) {
	p1, err := e.point(10)
	if err != nil {
		return models.Primitive{}, err
	}
	p2, err := e.point(11)
	if err != nil {
		return models.Primitive{}, err
	}
	return models.NewLine(p1, p2), nil
}

func buildCircle(e entity) (models.Primitive, error) {
	c, err := e.point(10)
	if err != nil {
		return models.Primitive{}, err
	}
	r, err := e.float(40)
	if err != nil {
		return models.Primitive{}, err
	}
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return models.Primitive{}, fmt.Errorf("invalid radius %v", r)
	}
	return models.NewCircle(c, r), nil
}

func buildArc(e entity) (models.Primitive, error) {
	circle, err := buildCircle(e)
	if err != nil {
		return models.Primitive{}, err
	}
	start, err := e.float(50)
	if err != nil {
		return models.Primitive{}, err
	}
	end, err := e.float(51)
	if err != nil {
		return models.Primitive{}, err
	}
	return models.NewArc(circle.Center, circle.Radius, degToRad(start), degToRad(end)), nil
}

// buildLWPolyline reads the repeated 10/20 vertex pairs of a LWPOLYLINE.
func buildLWPolyline(e entity) (models.Primitive, error) {
	var verts []models.Point
	for _, pr := range e.pairs {
		switch pr.Code {
		case 10:
			x, err := strconv.ParseFloat(pr.Value, 64)
			if err != nil {
				return models.Primitive{}, fmt.Errorf("group code 10: invalid number %q", pr.Value)
			}
			verts = append(verts, models.Point{X: x})
		case 20:
			if len(verts) == 0 {
				return models.Primitive{}, fmt.Errorf("group code 20 before 10")
			}
			y, err := strconv.ParseFloat(pr.Value, 64)
			if err != nil {
				return models.Primitive{}, fmt.Errorf("group code 20: invalid number %q", pr.Value)
			}
			verts[len(verts)-1].Y = y
		}
	}
	if len(verts) < 2 {
		return models.Primitive{}, fmt.Errorf("polyline needs at least 2 vertices, got %d", len(verts))
	}
	return models.NewPolyline(verts, e.flags()&1 == 1), nil
}

func buildPolyline(e entity) (models.Primitive, error) {
	verts := make([]models.Point, 0, len(e.vertices))
	for _, v := range e.vertices {
		if v.malformed() {
			return models.Primitive{}, fmt.Errorf("malformed vertex at line %d", v.line)
		}
		pt, err := v.point(10)
		if err != nil {
			return models.Primitive{}, fmt.Errorf("vertex at line %d: %w", v.line, err)
		}
		verts = append(verts, pt)
	}
	if len(verts) < 2 {
		return models.Primitive{}, fmt.Errorf("polyline needs at least 2 vertices, got %d", len(verts))
	}
	return models.NewPolyline(verts, e.flags()&1 == 1), nil
}

// expandInsert places the primitives of a block reference in drawing space.
func (p *dxfParser) expandInsert(e entity, depth int) []models.Primitive {
	if depth >= maxInsertDepth {
		p.skip(e, "block nesting too deep")
		return nil
	}
	name, ok := e.first(2)
	if !ok {
		p.skip(e, "missing group code 2")
		return nil
	}
	blk, ok := p.blocks[strings.ToUpper(name)]
	if !ok {
		p.skip(e, fmt.Sprintf("unknown block %q", name))
		return nil
	}

	at, err := e.point(10)
	if err != nil {
		p.skip(e, err.Error())
		return nil
	}
	sx, err1 := e.floatOr(41, 1)
	sy, err2 := e.floatOr(42, 1)
	rot, err3 := e.floatOr(50, 0)
	for _, err := range []error{err1, err2, err3} {
		if err != nil {
			p.skip(e, err.Error())
			return nil
		}
	}

	xf := insertTransform{base: blk.base, at: at, sx: sx, sy: sy, rot: degToRad(rot)}
	layer, _ := e.first(8)

	var out []models.Primitive
	for _, child := range blk.entities {
		for _, prim := range p.build(child, depth+1) {
			placed := xf.apply(prim)
			// entities on layer "0" inherit the layer of the insert
			if layer != "" && (placed.Layer == "" || placed.Layer == "0") {
				placed.Layer = layer
				p.layers[layer] = struct{}{}
			}
			out = append(out, placed)
		}
	}
	return out
}

type insertTransform struct {
	base   models.Point
	at     models.Point
	sx, sy float64
	rot    float64
}

func (t insertTransform) point(p models.Point) models.Point {
	x := (p.X - t.base.X) * t.sx
	y := (p.Y - t.base.Y) * t.sy
	sin, cos := math.Sincos(t.rot)
	return models.Point{
		X: t.at.X + x*cos - y*sin,
		Y: t.at.Y + x*sin + y*cos,
		Z: t.at.Z + p.Z,
	}
}

func (t insertTransform) apply(prim models.Primitive) models.Primitive {
	out := prim
	switch prim.Kind {
	case models.PrimitiveLine:
		out.P1 = t.point(prim.P1)
		out.P2 = t.point(prim.P2)
	case models.PrimitiveCircle, models.PrimitiveArc:
		out.Center = t.point(prim.Center)
		// non-uniform scale would turn circles into ellipses; keep the larger factor
		out.Radius = prim.Radius * math.Max(math.Abs(t.sx), math.Abs(t.sy))
		if prim.Kind == models.PrimitiveArc {
			out.StartAngle = prim.StartAngle + t.rot
			out.EndAngle = prim.EndAngle + t.rot
		}
	case models.PrimitivePolyline:
		out.Vertices = make([]models.Point, len(prim.Vertices))
		for i, v := range prim.Vertices {
			out.Vertices[i] = t.point(v)
		}
	}
	return out
}

func (p *dxfParser) layerNames() []string {
	if len(p.layers) == 0 {
		return nil
	}
	names := make([]string, 0, len(p.layers))
	for name := range p.layers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
