package metrics

import (
	"strconv"
	"time"

	"go.uber.org/zap"
)

// CacheObserver records image cache evictions. It satisfies cache.Observer.
type CacheObserver struct {
	log *zap.Logger
}

func NewCacheObserver(log *zap.Logger) *CacheObserver {
	return &CacheObserver{log: log}
}

func (o *CacheObserver) Evicted(key string) {
	ImageCacheEvictions.Inc()
	o.log.Debug("Image cache eviction", zap.String("key", key))
}

// JobObserver records job outcomes. It satisfies scheduler.Observer.
type JobObserver struct{}

func NewJobObserver() *JobObserver {
	return &JobObserver{}
}

func (o *JobObserver) JobFinished(kind, outcome string, elapsed time.Duration) {
	JobsTotal.WithLabelValues(kind, outcome).Inc()
	if elapsed > 0 {
		JobDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	}
}

// ObserveTile records one tile rasterization.
func ObserveTile(lod int, elapsed time.Duration) {
	TilesRasterized.WithLabelValues(strconv.Itoa(lod)).Inc()
	TileRasterDuration.Observe(elapsed.Seconds())
}
