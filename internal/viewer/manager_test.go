package viewer

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bigview/internal/decoder"
	"bigview/internal/image_list"
	"bigview/internal/image_renderer"
	"bigview/internal/scheduler"
)

func newManager(t *testing.T) (*Manager, *scheduler.Scheduler) {
	t.Helper()
	sched := scheduler.New(2, zap.NewNop(), nil)
	t.Cleanup(sched.Close)
	opts := image_renderer.Options{TileSize: 128, Levels: 4, MinZoom: 0.75, MaxZoom: 5}
	return NewManager(sched, NativeLoader(decoder.NewNative()), opts, zap.NewNop()), sched
}

func writeAsset(t *testing.T, w, h int) image_list.Asset {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "view.png")
	require.NoError(t, imaging.Save(imaging.New(w, h, color.NRGBA{G: 255, A: 255}), path))
	return image_list.Asset{Name: "view.png", SourcePath: path, Key: image_list.MD5Key("view.png")}
}

func TestOpenLaysOutSession(t *testing.T) {
	m, _ := newManager(t)
	a := writeAsset(t, 1600, 800)

	s, err := m.Open(context.Background(), a, image.Pt(400, 400))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	st, err := s.State()
	require.NoError(t, err)
	assert.Equal(t, a.Key, st.Key)
	assert.Equal(t, "idle", st.Phase)
	assert.Equal(t, 0.25, st.BaseScale)
	assert.Equal(t, 400, st.ContentWidth)
	assert.Equal(t, 200, st.ContentHeight)
	assert.Equal(t, 100, st.InsetY)
	assert.Equal(t, 2, st.LOD)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestOpenMissingAsset(t *testing.T) {
	m, _ := newManager(t)
	a := image_list.Asset{Name: "nope.png", SourcePath: filepath.Join(t.TempDir(), "nope.png"), Key: "k"}

	_, err := m.Open(context.Background(), a, image.Pt(100, 100))
	assert.ErrorIs(t, err, decoder.ErrSourceUnreadable)
	assert.Equal(t, 0, m.Len())

	_, err = m.Open(context.Background(), a, image.Pt(0, 100))
	assert.Error(t, err)
}

func TestSessionZoomGesture(t *testing.T) {
	m, _ := newManager(t)
	s, err := m.Open(context.Background(), writeAsset(t, 800, 600), image.Pt(800, 600))
	require.NoError(t, err)

	st, err := s.Zoom("begin", 0)
	require.NoError(t, err)
	assert.Equal(t, "zoom_begin", st.Phase)

	st, err = s.Zoom("track", 0.6)
	require.NoError(t, err)
	assert.Equal(t, "zoom_tracking", st.Phase)
	assert.Equal(t, 1.0, st.Scale)

	st, err = s.Zoom("end", 0.5)
	require.NoError(t, err)
	assert.Equal(t, "idle", st.Phase)
	assert.Equal(t, 0.75, st.Scale)

	_, err = s.Zoom("spin", 1)
	assert.ErrorIs(t, err, image_renderer.ErrInvalidPhase)
	_, err = s.Zoom("track", 1)
	assert.ErrorIs(t, err, image_renderer.ErrInvalidPhase)
}

func TestSessionTilesAndFrame(t *testing.T) {
	m, _ := newManager(t)
	s, err := m.Open(context.Background(), writeAsset(t, 1000, 1000), image.Pt(500, 300))
	require.NoError(t, err)

	tiles, err := s.Tiles()
	require.NoError(t, err)
	assert.Len(t, tiles, 4*3)
	assert.Equal(t, TileInfo{Col: 3, Row: 2, LOD: 1, X: 384, Y: 256, Width: 116, Height: 44}, tiles[len(tiles)-1])

	st, err := s.Scroll(image.Pt(0, 1000))
	require.NoError(t, err)
	assert.Equal(t, 200, st.OffsetY)

	tile, err := s.Tile(0, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 256, 128, 384), tile.Bitmap.Bounds())
	assert.Equal(t, color.RGBA{G: 255, A: 255}, tile.Bitmap.RGBAAt(10, 300))

	frame, err := s.Frame()
	require.NoError(t, err)
	assert.Equal(t, image.Pt(500, 300), frame.Bounds().Size())

	st, err = s.Layout(image.Pt(250, 300))
	require.NoError(t, err)
	assert.Equal(t, 0.25, st.Scale)
}

func TestCloseSession(t *testing.T) {
	m, _ := newManager(t)
	s, err := m.Open(context.Background(), writeAsset(t, 100, 100), image.Pt(100, 100))
	require.NoError(t, err)

	require.NoError(t, m.Close(s.ID))
	_, err = s.State()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Close(s.ID), ErrSessionNotFound)
}

func TestSessionAfterSchedulerClose(t *testing.T) {
	m, sched := newManager(t)
	s, err := m.Open(context.Background(), writeAsset(t, 100, 100), image.Pt(100, 100))
	require.NoError(t, err)

	sched.Close()
	_, err = s.State()
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = m.Open(context.Background(), writeAsset(t, 100, 100), image.Pt(100, 100))
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
}
