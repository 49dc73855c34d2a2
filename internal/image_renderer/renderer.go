// Package image_renderer displays one large image in a pannable, zoomable
// viewport. A low resolution preview is always drawn underneath; on top of it
// only the visible part of the image is rasterized, in fixed-size tiles, from
// the source level that matches the current scale.
//
// A Renderer is not safe for concurrent use. It is meant to be driven from a
// single sequential executor.
package image_renderer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

var (
	ErrNotLaidOut   = errors.New("renderer has no layout")
	ErrInvalidPhase = errors.New("invalid zoom phase")
	ErrTileHidden   = errors.New("tile is not visible")
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseZoomBegin
	PhaseZoomTracking
	PhaseZoomEnd
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseZoomBegin:
		return "zoom_begin"
	case PhaseZoomTracking:
		return "zoom_tracking"
	case PhaseZoomEnd:
		return "zoom_end"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

type Options struct {
	TileSize int
	Levels   int
	// MinZoom and MaxZoom are multiples of the base scale.
	MinZoom float64
	MaxZoom float64
}

func DefaultOptions() Options {
	return Options{
		TileSize: 512,
		Levels:   4,
		MinZoom:  0.75,
		MaxZoom:  5.0,
	}
}

// Tile is a rasterized part of a layer. Rect is in content coordinates and
// is also the bounds of Bitmap.
type Tile struct {
	Col    int
	Row    int
	LOD    int
	Rect   image.Rectangle
	Bitmap *image.RGBA
}

type layer struct {
	scale   float64
	lod     int
	content image.Point
	tiles   map[image.Point]*Tile
}

type Renderer struct {
	src    Source
	opts   Options
	logger *zap.Logger

	viewport image.Point
	base     float64
	minScale float64
	maxScale float64

	phase   Phase
	scale   float64
	gesture float64
	offset  image.Point

	preview *image.RGBA
	front   *layer
	back    *layer
	// next is the empty layer readied for the gesture's target scale.
	next *layer
}

func New(src Source, opts Options, logger *zap.Logger) *Renderer {
	def := DefaultOptions()
	if opts.TileSize <= 0 {
		opts.TileSize = def.TileSize
	}
	if opts.Levels <= 0 {
		opts.Levels = def.Levels
	}
	if opts.MinZoom <= 0 {
		opts.MinZoom = def.MinZoom
	}
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = def.MaxZoom
	}
	return &Renderer{
		src:     src,
		opts:    opts,
		logger:  logger,
		gesture: 1,
	}
}

// Layout sets the viewport size. The first call, and every call with a new
// size, resets the scale to fit the image width and rebuilds the preview.
func (r *Renderer) Layout(viewport image.Point) error {
	if viewport.X <= 0 || viewport.Y <= 0 {
		return fmt.Errorf("invalid viewport %v", viewport)
	}
	if r.preview != nil && viewport == r.viewport {
		return nil
	}

	size := r.src.Size()
	base := float64(viewport.X) / float64(size.X)
	content := ContentSize(size, base)

	preview, err := Rasterize(r.src, LevelOfDetail(base, r.opts.Levels), base, image.Rectangle{Max: content})
	if err != nil {
		return fmt.Errorf("failed to render preview: %w", err)
	}

	r.viewport = viewport
	r.base = base
	r.minScale = base * r.opts.MinZoom
	r.maxScale = base * r.opts.MaxZoom
	r.preview = preview
	r.phase = PhaseIdle
	r.gesture = 1
	r.back = nil
	r.setScale(base)
	r.offset = r.clampOffset(image.Point{})

	r.logger.Debug("Layout",
		zap.Int("viewport_w", viewport.X),
		zap.Int("viewport_h", viewport.Y),
		zap.Float64("base_scale", base),
		zap.Int("lod", r.front.lod))
	return nil
}

func (r *Renderer) setScale(scale float64) {
	r.scale = scale
	if r.next != nil && r.next.scale == scale {
		r.front = r.next
	} else {
		r.front = r.newLayer(scale)
	}
	r.next = nil
}

func (r *Renderer) newLayer(scale float64) *layer {
	return &layer{
		scale:   scale,
		lod:     LevelOfDetail(scale, r.opts.Levels),
		content: ContentSize(r.src.Size(), scale),
		tiles:   make(map[image.Point]*Tile),
	}
}

// BeginZoom keeps the current tiles visible as the back layer while a
// gesture is in progress.
func (r *Renderer) BeginZoom() error {
	if r.preview == nil {
		return ErrNotLaidOut
	}
	if r.phase != PhaseIdle {
		return fmt.Errorf("%w: begin in %s", ErrInvalidPhase, r.phase)
	}
	r.phase = PhaseZoomBegin
	r.back = r.front
	r.next = r.newLayer(r.scale)
	r.gesture = 1
	return nil
}

// TrackZoom applies a gesture multiplier to what is displayed. Nothing is
// rasterized.
func (r *Renderer) TrackZoom(gesture float64) error {
	if r.phase != PhaseZoomBegin && r.phase != PhaseZoomTracking {
		return fmt.Errorf("%w: track in %s", ErrInvalidPhase, r.phase)
	}
	if gesture <= 0 {
		return fmt.Errorf("invalid gesture scale %v", gesture)
	}
	r.phase = PhaseZoomTracking
	r.gesture = gesture
	if target := clampScale(r.scale*gesture, r.minScale, r.maxScale); target != r.next.scale {
		r.next = r.newLayer(target)
	}
	return nil
}

// EndZoom commits the gesture and returns the new effective scale, clamped
// to the allowed range. The content point under the viewport centre stays
// there.
func (r *Renderer) EndZoom(gesture float64) (float64, error) {
	if r.phase != PhaseZoomBegin && r.phase != PhaseZoomTracking {
		return r.scale, fmt.Errorf("%w: end in %s", ErrInvalidPhase, r.phase)
	}
	if gesture <= 0 {
		return r.scale, fmt.Errorf("invalid gesture scale %v", gesture)
	}
	r.phase = PhaseZoomEnd

	effective := clampScale(r.scale*gesture, r.minScale, r.maxScale)

	old := r.front.content
	inset := Inset(old, r.viewport)
	cx := (float64(r.offset.X+r.viewport.X/2-inset.X) + 0.5) / r.scale
	cy := (float64(r.offset.Y+r.viewport.Y/2-inset.Y) + 0.5) / r.scale

	r.back = nil
	r.setScale(effective)
	r.offset = r.clampOffset(image.Pt(
		int(cx*effective)-r.viewport.X/2,
		int(cy*effective)-r.viewport.Y/2,
	))
	r.gesture = 1
	r.phase = PhaseIdle

	r.logger.Debug("Zoom committed",
		zap.Float64("gesture", gesture),
		zap.Float64("scale", effective),
		zap.Int("lod", r.front.lod))
	return effective, nil
}

// ScrollTo moves the viewport origin to p in content coordinates, clamped so
// the viewport stays over the content.
func (r *Renderer) ScrollTo(p image.Point) {
	if r.front == nil {
		return
	}
	r.offset = r.clampOffset(p)
}

func (r *Renderer) clampOffset(p image.Point) image.Point {
	c := r.front.content
	return image.Pt(
		max(0, min(p.X, c.X-r.viewport.X)),
		max(0, min(p.Y, c.Y-r.viewport.Y)),
	)
}

func (r *Renderer) Phase() Phase { return r.phase }
func (r *Renderer) Scale() float64 { return r.scale }
func (r *Renderer) BaseScale() float64 { return r.base }
func (r *Renderer) MinScale() float64 { return r.minScale }
func (r *Renderer) MaxScale() float64 { return r.maxScale }
func (r *Renderer) Gesture() float64 { return r.gesture }
func (r *Renderer) Offset() image.Point { return r.offset }
func (r *Renderer) Viewport() image.Point { return r.viewport }
func (r *Renderer) Preview() *image.RGBA { return r.preview }
func (r *Renderer) Options() Options { return r.opts }
func (r *Renderer) ImageSize() image.Point { return r.src.Size() }

// Target is the scale the layer readied for the current gesture will have.
// Outside a gesture it is the committed scale.
func (r *Renderer) Target() (scale float64, lod int) {
	if r.next == nil {
		return r.scale, r.LOD()
	}
	return r.next.scale, r.next.lod
}

// ContentSize is the size of the image at the committed scale.
func (r *Renderer) ContentSize() image.Point {
	if r.front == nil {
		return image.Point{}
	}
	return r.front.content
}

// LOD is the source level used by the foreground layer.
func (r *Renderer) LOD() int {
	if r.front == nil {
		return 0
	}
	return r.front.lod
}

// Inset is where the content origin sits inside the viewport.
func (r *Renderer) Inset() image.Point {
	return Inset(r.ContentSize(), r.viewport)
}

// Visible is the part of the content inside the viewport, in content
// coordinates.
func (r *Renderer) Visible() image.Rectangle {
	if r.front == nil {
		return image.Rectangle{}
	}
	view := image.Rectangle{Min: r.offset, Max: r.offset.Add(r.viewport)}
	return view.Intersect(image.Rectangle{Max: r.front.content})
}

// VisibleTiles lists the surfaces the foreground layer needs: for every grid
// cell touching the visible area, the cell clipped to it.
func (r *Renderer) VisibleTiles() []Tile {
	if r.front == nil {
		return nil
	}
	visible := r.Visible()
	var tiles []Tile
	for _, c := range Cells(visible, r.opts.TileSize) {
		rect := Cell(c.X, c.Y, r.opts.TileSize).Intersect(visible)
		if rect.Empty() {
			continue
		}
		tiles = append(tiles, Tile{Col: c.X, Row: c.Y, LOD: r.front.lod, Rect: rect})
	}
	return tiles
}

// Render rasterizes whatever visible tiles are missing and drops tiles that
// left the viewport. During a gesture it returns the back layer unchanged.
func (r *Renderer) Render() ([]*Tile, error) {
	if r.preview == nil {
		return nil, ErrNotLaidOut
	}
	if r.phase != PhaseIdle {
		return r.back.sorted(), nil
	}

	needed := r.VisibleTiles()
	keep := make(map[image.Point]*Tile, len(needed))
	for _, want := range needed {
		t, err := r.tile(want)
		if err != nil {
			return nil, err
		}
		keep[image.Pt(t.Col, t.Row)] = t
	}
	r.front.tiles = keep
	return r.front.sorted(), nil
}

// Tile returns one visible foreground tile, rasterizing it if needed.
func (r *Renderer) Tile(col, row int) (*Tile, error) {
	if r.preview == nil {
		return nil, ErrNotLaidOut
	}
	if r.phase != PhaseIdle {
		return nil, fmt.Errorf("%w: tile in %s", ErrInvalidPhase, r.phase)
	}
	for _, want := range r.VisibleTiles() {
		if want.Col == col && want.Row == row {
			return r.tile(want)
		}
	}
	return nil, fmt.Errorf("%w: %d,%d", ErrTileHidden, col, row)
}

func (r *Renderer) tile(want Tile) (*Tile, error) {
	id := image.Pt(want.Col, want.Row)
	if t, ok := r.front.tiles[id]; ok && want.Rect.In(t.Rect) {
		return t, nil
	}

	bitmap, err := Rasterize(r.src, r.front.lod, r.front.scale, want.Rect)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize tile %d,%d: %w", want.Col, want.Row, err)
	}
	t := &Tile{Col: want.Col, Row: want.Row, LOD: r.front.lod, Rect: want.Rect, Bitmap: bitmap}
	r.front.tiles[id] = t
	return t, nil
}

func (l *layer) sorted() []*Tile {
	if l == nil {
		return nil
	}
	tiles := make([]*Tile, 0, len(l.tiles))
	for _, t := range l.tiles {
		tiles = append(tiles, t)
	}
	sort.Slice(tiles, func(i, j int) bool {
		if tiles[i].Row != tiles[j].Row {
			return tiles[i].Row < tiles[j].Row
		}
		return tiles[i].Col < tiles[j].Col
	})
	return tiles
}

var background = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}

// Frame composes what the viewport currently shows: the preview scaled to
// the displayed scale and the tiles on top. While a gesture is tracked the
// back layer is stretched by the gesture multiplier around the viewport
// centre.
func (r *Renderer) Frame() (*image.RGBA, error) {
	if r.preview == nil {
		return nil, ErrNotLaidOut
	}
	tiles, err := r.Render()
	if err != nil {
		return nil, err
	}

	frame := image.NewRGBA(image.Rectangle{Max: r.viewport})
	stddraw.Draw(frame, frame.Bounds(), image.NewUniform(background), image.Point{}, stddraw.Src)

	// content -> viewport, before the gesture.
	inset := r.Inset()
	tx := float64(inset.X - r.offset.X)
	ty := float64(inset.Y - r.offset.Y)

	// gesture stretch around the viewport centre.
	g := r.gesture
	cx, cy := float64(r.viewport.X)/2, float64(r.viewport.Y)/2
	gx, gy := cx-g*cx, cy-g*cy

	k := r.scale / r.base * g
	preview := f64.Aff3{k, 0, g*tx + gx, 0, k, g*ty + gy}
	draw.ApproxBiLinear.Transform(frame, preview, r.preview, r.preview.Bounds(), draw.Over, nil)

	for _, t := range tiles {
		if g == 1 {
			dst := t.Rect.Add(image.Pt(inset.X-r.offset.X, inset.Y-r.offset.Y))
			stddraw.Draw(frame, dst, t.Bitmap, t.Rect.Min, stddraw.Over)
			continue
		}
		m := f64.Aff3{g, 0, g*tx + gx, 0, g, g*ty + gy}
		draw.ApproxBiLinear.Transform(frame, m, t.Bitmap, t.Rect, draw.Over, nil)
	}
	return frame, nil
}
