package thumbnail

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"bigview/internal/cache"
	"bigview/internal/decoder"
	"bigview/internal/image_list"
	"bigview/internal/scheduler"
)

// countingDecoder wraps the native decoder, counts calls per path and can
// hold Dimensions until the gate is opened.
type countingDecoder struct {
	decoder.Decoder

	mu         sync.Mutex
	dimensions map[string]int
	decodes    map[string]int
	thumbnails map[string]int

	gate    chan struct{}
	entered chan struct{}
}

func newCountingDecoder() *countingDecoder {
	return &countingDecoder{
		Decoder:    decoder.NewNative(),
		dimensions: map[string]int{},
		decodes:    map[string]int{},
		thumbnails: map[string]int{},
		entered:    make(chan struct{}, 16),
	}
}

func (d *countingDecoder) Dimensions(path string) (image.Point, error) {
	d.mu.Lock()
	d.dimensions[path]++
	gate := d.gate
	d.mu.Unlock()

	d.entered <- struct{}{}
	if gate != nil {
		<-gate
	}
	return d.Decoder.Dimensions(path)
}

func (d *countingDecoder) Decode(path string) (image.Image, error) {
	d.mu.Lock()
	d.decodes[path]++
	d.mu.Unlock()
	return d.Decoder.Decode(path)
}

func (d *countingDecoder) Thumbnail(path string, maxEdge int) (image.Image, error) {
	d.mu.Lock()
	d.thumbnails[path]++
	d.mu.Unlock()
	return d.Decoder.Thumbnail(path, maxEdge)
}

func (d *countingDecoder) count(m map[string]int, path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return m[path]
}

type failingStore struct{ *cache.NoopStore }

func (failingStore) Write(key string, bitmap image.Image) error {
	return fmt.Errorf("%w: disk full", cache.ErrThumbnailWrite)
}

type fixture struct {
	t      *testing.T
	sched  *scheduler.Scheduler
	cache  *cache.ImageCache
	store  *cache.FileStore
	dec    *countingDecoder
	p      *Pipeline
	assets string
}

func newFixture(t *testing.T, workers int) *fixture {
	t.Helper()
	sched := scheduler.New(workers, zaptest.NewLogger(t), nil)
	t.Cleanup(sched.Close)

	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		t:      t,
		sched:  sched,
		cache:  cache.NewImageCache(10, nil),
		store:  store,
		dec:    newCountingDecoder(),
		assets: t.TempDir(),
	}
	f.p = New(sched, f.cache, store, f.dec, zaptest.NewLogger(t), Options{Threshold: 128})
	return f
}

func (f *fixture) asset(name string, w, h int) image_list.Asset {
	f.t.Helper()
	path := filepath.Join(f.assets, name)
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 200, B: 90, A: 255})
	require.NoError(f.t, imaging.Save(img, path))
	return f.assetAt(name)
}

func (f *fixture) assetAt(name string) image_list.Asset {
	key := image_list.MD5Key(name)
	return image_list.Asset{
		Name:       name,
		SourcePath: filepath.Join(f.assets, name),
		Key:        key,
	}
}

func recv(t *testing.T, ch <-chan Delivery) Delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return Delivery{}
	}
}

func wait(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestSmallAssetIsNotDownsampled(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("small.png", 100, 40)

	bitmap, err := f.p.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(100, 40), bitmap.Bounds().Size())

	_, ok := f.store.Lookup(a.Key)
	assert.False(t, ok, "no derived file for small assets")
	assert.Equal(t, 0, f.dec.count(f.dec.thumbnails, a.SourcePath))
	assert.Equal(t, 1, f.dec.count(f.dec.decodes, a.SourcePath))
}

func TestEdgeEqualToThresholdIsNotDownsampled(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("edge.png", 128, 128)

	bitmap, err := f.p.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 128), bitmap.Bounds().Size())
	_, ok := f.store.Lookup(a.Key)
	assert.False(t, ok)
}

func TestLargeAssetIsDownsampledAndPersisted(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("large.jpg", 4000, 3000)

	bitmap, err := f.p.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 96), bitmap.Bounds().Size())

	path, ok := f.store.Lookup(a.Key)
	require.True(t, ok)
	assert.Equal(t, f.store.Path(a.Key), path)
	assert.Equal(t, ".jpg", filepath.Ext(path))

	derived, err := imaging.Open(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 96), derived.Bounds().Size())
}

func TestCachedKeyNeverDecodesAgain(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("photo.png", 300, 200)

	first, err := f.p.Fetch(context.Background(), a)
	require.NoError(t, err)
	dims := f.dec.count(f.dec.dimensions, a.SourcePath)

	bitmap, h := f.p.Request(a, func(Delivery) { t.Error("cache hit must not deliver") })
	assert.Nil(t, h)
	assert.Same(t, first, bitmap)
	assert.Equal(t, dims, f.dec.count(f.dec.dimensions, a.SourcePath))
	assert.Equal(t, 1, f.dec.count(f.dec.thumbnails, a.SourcePath))
}

func TestDerivedCopyIsReused(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("photo.png", 300, 200)
	_, err := f.p.Fetch(context.Background(), a)
	require.NoError(t, err)

	// A fresh pipeline with an empty memory cache but the same store.
	dec := newCountingDecoder()
	p := New(f.sched, cache.NewImageCache(10, nil), f.store, dec, zap.NewNop(), Options{})

	bitmap, err := p.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 85), bitmap.Bounds().Size())
	assert.Equal(t, 0, dec.count(dec.dimensions, a.SourcePath))
	assert.Equal(t, 1, dec.count(dec.decodes, f.store.Path(a.Key)))
}

func TestConcurrentRequestsShareOneDecode(t *testing.T) {
	f := newFixture(t, 4)
	a := f.asset("shared.png", 400, 300)
	f.dec.gate = make(chan struct{})

	first := make(chan Delivery, 1)
	second := make(chan Delivery, 1)
	_, h1 := f.p.Request(a, func(d Delivery) { first <- d })
	wait(t, f.dec.entered)
	_, h2 := f.p.Request(a, func(d Delivery) { second <- d })
	require.NotNil(t, h1)
	require.NotNil(t, h2)
	assert.Equal(t, 1, f.p.InFlight())

	close(f.dec.gate)

	d1, d2 := recv(t, first), recv(t, second)
	require.NoError(t, d1.Err)
	require.NoError(t, d2.Err)
	assert.Same(t, d1.Bitmap, d2.Bitmap)
	assert.Equal(t, a.Key, d1.Key)
	assert.Equal(t, 1, f.dec.count(f.dec.dimensions, a.SourcePath))
	assert.Equal(t, 1, f.dec.count(f.dec.thumbnails, a.SourcePath))
	assert.Equal(t, 0, f.p.InFlight())

	b1, err := h1.Result()
	require.NoError(t, err)
	assert.Same(t, d1.Bitmap, b1)
}

func TestWriteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 1)
	a := f.asset("big.png", 1000, 500)

	p := New(f.sched, cache.NewImageCache(10, nil), failingStore{cache.NewNoopStore()}, decoder.NewNative(), zap.NewNop(), Options{})
	bitmap, err := p.Fetch(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 64), bitmap.Bounds().Size())

	_, ok := p.Cached(a.Key)
	assert.True(t, ok)
}

func TestFailuresDeliverAbsentResult(t *testing.T) {
	f := newFixture(t, 2)

	garbage := filepath.Join(f.assets, "garbage.png")
	require.NoError(t, os.WriteFile(garbage, []byte("not an image"), 0644))

	tests := []struct {
		name   string
		asset  image_list.Asset
		err    error
		reason string
	}{
		{"missing", f.assetAt("missing.png"), decoder.ErrSourceUnreadable, "source_unreadable"},
		{"garbage", f.assetAt("garbage.png"), decoder.ErrMetadataUnavailable, "metadata_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan Delivery, 2)
			_, h1 := f.p.Request(tt.asset, func(d Delivery) { ch <- d })
			_, h2 := f.p.Request(tt.asset, func(d Delivery) { ch <- d })
			require.NotNil(t, h1)
			require.NotNil(t, h2)

			for i := 0; i < 2; i++ {
				d := recv(t, ch)
				assert.Nil(t, d.Bitmap)
				assert.ErrorIs(t, d.Err, tt.err)
				assert.Equal(t, tt.reason, Reason(d.Err))
			}
			_, ok := f.p.Cached(tt.asset.Key)
			assert.False(t, ok)
			assert.Equal(t, 0, f.p.InFlight())
		})
	}
}

func TestCancelWhileRunningSuppressesDelivery(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("cancel.png", 400, 300)
	f.dec.gate = make(chan struct{})

	_, h := f.p.Request(a, func(Delivery) { t.Error("cancelled request delivered") })
	wait(t, f.dec.entered)
	job := h.f.job

	h.Cancel()
	assert.Equal(t, 0, f.p.InFlight())
	_, err := h.Result()
	assert.ErrorIs(t, err, scheduler.ErrCancelled)

	close(f.dec.gate)
	wait(t, job.Done())
	f.sched.Foreground().Call(func() {})

	assert.Equal(t, scheduler.StateCancelled, job.State())
	_, ok := f.p.Cached(a.Key)
	assert.False(t, ok)
	_, ok = f.store.Lookup(a.Key)
	assert.False(t, ok, "no derived write after cancellation")
}

func TestCancelOneListenerKeepsTheOther(t *testing.T) {
	f := newFixture(t, 2)
	a := f.asset("two.png", 400, 300)
	f.dec.gate = make(chan struct{})

	kept := make(chan Delivery, 1)
	_, h1 := f.p.Request(a, func(Delivery) { t.Error("detached listener delivered") })
	wait(t, f.dec.entered)
	_, h2 := f.p.Request(a, func(d Delivery) { kept <- d })

	h1.Cancel()
	assert.Equal(t, 1, f.p.InFlight())
	close(f.dec.gate)

	d := recv(t, kept)
	require.NoError(t, d.Err)
	assert.NotNil(t, d.Bitmap)
	wait(t, h2.Done())
}

func TestCancelBeforeStartNeverDecodes(t *testing.T) {
	f := newFixture(t, 1)
	a := f.asset("queued.png", 400, 300)

	release := make(chan struct{})
	blocker := scheduler.Submit(f.sched, "block", func(context.Context) (struct{}, error) {
		<-release
		return struct{}{}, nil
	})

	_, h := f.p.Request(a, func(Delivery) { t.Error("cancelled request delivered") })
	job := h.f.job
	h.Cancel()
	assert.Equal(t, scheduler.StateCancelled, job.State())

	close(release)
	_, err := blocker.Wait(context.Background())
	require.NoError(t, err)
	f.sched.Foreground().Call(func() {})

	assert.Equal(t, 0, f.dec.count(f.dec.dimensions, a.SourcePath))
}

func TestFetchHonoursContext(t *testing.T) {
	f := newFixture(t, 1)
	a := f.asset("slow.png", 400, 300)
	f.dec.gate = make(chan struct{})
	defer close(f.dec.gate)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.dec.entered
		cancel()
	}()

	_, err := f.p.Fetch(ctx, a)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.p.InFlight())
}

func TestRequestAfterCloseIsCancelled(t *testing.T) {
	f := newFixture(t, 1)
	a := f.asset("late.png", 10, 10)
	f.sched.Close()

	_, h := f.p.Request(a, nil)
	require.NotNil(t, h)
	wait(t, h.Done())
	_, err := h.Result()
	assert.ErrorIs(t, err, scheduler.ErrCancelled)
	assert.Equal(t, 0, f.p.InFlight())
}
