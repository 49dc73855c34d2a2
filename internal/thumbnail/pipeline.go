// Package thumbnail turns assets into displayable bitmaps. Assets larger than
// the threshold are downsampled once and the result is persisted so later
// runs can skip the expensive decode. Concurrent requests for the same key
// share one decode job.
package thumbnail

import (
	"context"
	"errors"
	"image"
	"sync"

	"go.uber.org/zap"

	"bigview/internal/cache"
	"bigview/internal/decoder"
	"bigview/internal/image_list"
	"bigview/internal/logger"
	"bigview/internal/metrics"
	"bigview/internal/scheduler"
)

const DefaultThreshold = 128

type Options struct {
	// Threshold is the longest edge, in pixels, kept without downsampling.
	Threshold int
}

// Delivery is what a listener receives once the job for its key ends.
// Bitmap is nil whenever Err is set.
type Delivery struct {
	Key    string
	Bitmap image.Image
	Err    error
}

type Pipeline struct {
	sched     *scheduler.Scheduler
	cache     *cache.ImageCache
	store     cache.DerivedStore
	dec       decoder.Decoder
	logger    *zap.Logger
	threshold int

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one decode job and the requesters waiting on it. listeners and
// closed are guarded by Pipeline.mu.
type flight struct {
	key       string
	job       *scheduler.Job[image.Image]
	listeners []*Handle
	closed    bool
}

func New(sched *scheduler.Scheduler, imageCache *cache.ImageCache, store cache.DerivedStore, dec decoder.Decoder, logger *zap.Logger, opts Options) *Pipeline {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if store == nil {
		store = cache.NewNoopStore()
	}
	return &Pipeline{
		sched:     sched,
		cache:     imageCache,
		store:     store,
		dec:       dec,
		logger:    logger,
		threshold: opts.Threshold,
		inflight:  make(map[string]*flight),
	}
}

func (p *Pipeline) Threshold() int {
	return p.threshold
}

// Request returns the cached bitmap for asset, or a handle whose listener is
// called on the foreground executor once the bitmap is ready. Exactly one of
// the two results is non-nil. listener may be nil.
func (p *Pipeline) Request(asset image_list.Asset, listener func(Delivery)) (image.Image, *Handle) {
	if bitmap, ok := p.cache.Get(asset.Key); ok {
		metrics.ImageCacheLookups.WithLabelValues("hit").Inc()
		return bitmap, nil
	}
	metrics.ImageCacheLookups.WithLabelValues("miss").Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	if f, ok := p.inflight[asset.Key]; ok {
		metrics.ThumbnailRequestsDeduplicated.Inc()
		return nil, f.attach(p, listener)
	}

	// The job may have finished between the lookup above and taking the lock.
	if bitmap, ok := p.cache.Get(asset.Key); ok {
		return bitmap, nil
	}

	f := &flight{key: asset.Key}
	h := f.attach(p, listener)
	p.inflight[asset.Key] = f

	f.job = scheduler.Submit(p.sched, "thumbnail", func(ctx context.Context) (image.Image, error) {
		return p.produce(ctx, asset, f)
	})
	scheduler.Deliver(f.job, func(j *scheduler.Job[image.Image]) {
		p.deliver(f, j)
	})

	if f.job.State() == scheduler.StateCancelled {
		// The scheduler is closed and refused the job.
		delete(p.inflight, asset.Key)
		f.closed = true
		h.resolve(nil, scheduler.ErrCancelled)
	}
	return nil, h
}

// Fetch blocks until the bitmap for asset is available or ctx ends.
func (p *Pipeline) Fetch(ctx context.Context, asset image_list.Asset) (image.Image, error) {
	bitmap, h := p.Request(asset, nil)
	if h == nil {
		return bitmap, nil
	}
	select {
	case <-h.Done():
		return h.Result()
	case <-ctx.Done():
		h.Cancel()
		return nil, ctx.Err()
	}
}

// Cached returns the bitmap for key without scheduling any work.
func (p *Pipeline) Cached(key string) (image.Image, bool) {
	return p.cache.Get(key)
}

// InFlight reports the number of keys with a running or queued job.
func (p *Pipeline) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

func (p *Pipeline) produce(ctx context.Context, asset image_list.Asset, f *flight) (image.Image, error) {
	log := logger.FromContext(ctx).With(zap.String("key", asset.Key), zap.String("name", asset.Name))

	bitmap, err := p.load(ctx, log, asset)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		p.forget(f)
		if ctx.Err() == nil {
			reason := Reason(err)
			metrics.ThumbnailFailures.WithLabelValues(reason).Inc()
			log.Warn("Failed to load image", zap.String("reason", reason), zap.Error(err))
		}
		return nil, err
	}

	p.cache.Set(asset.Key, bitmap)
	p.forget(f)
	return bitmap, nil
}

func (p *Pipeline) load(ctx context.Context, log *zap.Logger, asset image_list.Asset) (image.Image, error) {
	if path, ok := p.store.Lookup(asset.Key); ok {
		bitmap, err := p.dec.Decode(path)
		if err == nil {
			metrics.ThumbnailsTotal.WithLabelValues("derived").Inc()
			return bitmap, nil
		}
		log.Warn("Derived thumbnail unreadable, regenerating", zap.String("path", path), zap.Error(err))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size, err := p.dec.Dimensions(asset.SourcePath)
	if err != nil {
		return nil, err
	}

	if max(size.X, size.Y) <= p.threshold {
		bitmap, err := p.dec.Decode(asset.SourcePath)
		if err != nil {
			return nil, err
		}
		metrics.ThumbnailsTotal.WithLabelValues("original").Inc()
		return bitmap, nil
	}

	bitmap, err := p.dec.Thumbnail(asset.SourcePath, p.threshold)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.store.Write(asset.Key, bitmap); err != nil {
		metrics.ThumbnailFailures.WithLabelValues(Reason(err)).Inc()
		log.Warn("Failed to persist thumbnail", zap.Error(err))
	} else {
		log.Debug("Persisted thumbnail", zap.Int("width", bitmap.Bounds().Dx()), zap.Int("height", bitmap.Bounds().Dy()))
	}
	metrics.ThumbnailsTotal.WithLabelValues("downsampled").Inc()
	return bitmap, nil
}

// forget removes f from the in-flight table unless it was already replaced.
func (p *Pipeline) forget(f *flight) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[f.key] == f {
		delete(p.inflight, f.key)
	}
}

// deliver runs on the foreground executor.
func (p *Pipeline) deliver(f *flight, j *scheduler.Job[image.Image]) {
	p.mu.Lock()
	listeners := f.listeners
	f.listeners = nil
	f.closed = true
	p.mu.Unlock()

	bitmap, _ := j.Result()
	err := j.Err()
	for _, h := range listeners {
		h.resolve(bitmap, err)
		if h.listener != nil {
			h.listener(Delivery{Key: f.key, Bitmap: bitmap, Err: err})
		}
	}
}

// Reason names the failure class of a pipeline error for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, decoder.ErrSourceUnreadable):
		return "source_unreadable"
	case errors.Is(err, decoder.ErrMetadataUnavailable):
		return "metadata_unavailable"
	case errors.Is(err, decoder.ErrDecodeFailure):
		return "decode_failure"
	case errors.Is(err, cache.ErrThumbnailWrite):
		return "thumbnail_write"
	case errors.Is(err, scheduler.ErrPanic):
		return "panic"
	default:
		return "unknown"
	}
}
