package viewer

import (
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"bigview/internal/image_list"
	"bigview/internal/image_renderer"
)

// Session is one open view of an asset.
type Session struct {
	ID      string
	Asset   image_list.Asset
	Created time.Time

	m      *Manager
	r      *image_renderer.Renderer
	closed atomic.Bool
}

// State is a snapshot of a session's viewport.
type State struct {
	ID             string  `json:"id"`
	Key            string  `json:"key"`
	Phase          string  `json:"phase"`
	Scale          float64 `json:"scale"`
	BaseScale      float64 `json:"base_scale"`
	MinScale       float64 `json:"min_scale"`
	MaxScale       float64 `json:"max_scale"`
	Gesture        float64 `json:"gesture"`
	LOD            int     `json:"lod"`
	TileSize       int     `json:"tile_size"`
	ImageWidth     int     `json:"image_width"`
	ImageHeight    int     `json:"image_height"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	ContentWidth   int     `json:"content_width"`
	ContentHeight  int     `json:"content_height"`
	OffsetX        int     `json:"offset_x"`
	OffsetY        int     `json:"offset_y"`
	InsetX         int     `json:"inset_x"`
	InsetY         int     `json:"inset_y"`
}

// TileInfo places one tile inside the content.
type TileInfo struct {
	Col    int `json:"col"`
	Row    int `json:"row"`
	LOD    int `json:"lod"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// do runs fn on the foreground executor and waits for it.
func (s *Session) do(fn func(r *image_renderer.Renderer) error) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	ran := false
	var err error
	s.m.sched.Foreground().Call(func() {
		ran = true
		err = fn(s.r)
	})
	if !ran {
		return ErrSessionClosed
	}
	return err
}

func (s *Session) State() (State, error) {
	var st State
	err := s.do(func(r *image_renderer.Renderer) error {
		st = s.snapshot(r)
		return nil
	})
	return st, err
}

func (s *Session) Layout(viewport image.Point) (State, error) {
	var st State
	err := s.do(func(r *image_renderer.Renderer) error {
		if err := r.Layout(viewport); err != nil {
			return err
		}
		st = s.snapshot(r)
		return nil
	})
	return st, err
}

func (s *Session) Scroll(p image.Point) (State, error) {
	var st State
	err := s.do(func(r *image_renderer.Renderer) error {
		r.ScrollTo(p)
		st = s.snapshot(r)
		return nil
	})
	return st, err
}

// Zoom drives the gesture state machine. phase is one of begin, track or
// end; scale is the gesture multiplier for track and end.
func (s *Session) Zoom(phase string, scale float64) (State, error) {
	var st State
	err := s.do(func(r *image_renderer.Renderer) error {
		var err error
		switch phase {
		case "begin":
			err = r.BeginZoom()
		case "track":
			err = r.TrackZoom(scale)
		case "end":
			_, err = r.EndZoom(scale)
		default:
			err = fmt.Errorf("%w: unknown phase %q", image_renderer.ErrInvalidPhase, phase)
		}
		if err != nil {
			return err
		}
		st = s.snapshot(r)
		return nil
	})
	return st, err
}

// Tiles renders the visible tiles and describes them.
func (s *Session) Tiles() ([]TileInfo, error) {
	var infos []TileInfo
	err := s.do(func(r *image_renderer.Renderer) error {
		tiles, err := r.Render()
		if err != nil {
			return err
		}
		infos = make([]TileInfo, 0, len(tiles))
		for _, t := range tiles {
			infos = append(infos, TileInfo{
				Col:    t.Col,
				Row:    t.Row,
				LOD:    t.LOD,
				X:      t.Rect.Min.X,
				Y:      t.Rect.Min.Y,
				Width:  t.Rect.Dx(),
				Height: t.Rect.Dy(),
			})
		}
		return nil
	})
	return infos, err
}

// Tile returns one visible tile. Its bitmap is never modified afterwards and
// may be read from any goroutine.
func (s *Session) Tile(col, row int) (*image_renderer.Tile, error) {
	var tile *image_renderer.Tile
	err := s.do(func(r *image_renderer.Renderer) error {
		var err error
		tile, err = r.Tile(col, row)
		return err
	})
	return tile, err
}

func (s *Session) Frame() (*image.RGBA, error) {
	var frame *image.RGBA
	err := s.do(func(r *image_renderer.Renderer) error {
		var err error
		frame, err = r.Frame()
		return err
	})
	return frame, err
}

func (s *Session) close() {
	s.closed.Store(true)
}

func (s *Session) snapshot(r *image_renderer.Renderer) State {
	img, vp, content := r.ImageSize(), r.Viewport(), r.ContentSize()
	off, inset := r.Offset(), r.Inset()
	return State{
		ID:             s.ID,
		Key:            s.Asset.Key,
		Phase:          r.Phase().String(),
		Scale:          r.Scale(),
		BaseScale:      r.BaseScale(),
		MinScale:       r.MinScale(),
		MaxScale:       r.MaxScale(),
		Gesture:        r.Gesture(),
		LOD:            r.LOD(),
		TileSize:       r.Options().TileSize,
		ImageWidth:     img.X,
		ImageHeight:    img.Y,
		ViewportWidth:  vp.X,
		ViewportHeight: vp.Y,
		ContentWidth:   content.X,
		ContentHeight:  content.Y,
		OffsetX:        off.X,
		OffsetY:        off.Y,
		InsetX:         inset.X,
		InsetY:         inset.Y,
	}
}
