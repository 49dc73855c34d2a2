// Package metrics declares the Prometheus series exported on /metrics and the
// observers that bridge component hooks onto them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_jobs_total",
			Help: "Background jobs reaching a terminal state",
		},
		[]string{"kind", "outcome"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigview_job_duration_seconds",
			Help:    "Wall time of executed background jobs",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)
)

// Image cache metrics
var (
	ImageCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_image_cache_lookups_total",
			Help: "Image cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	ImageCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bigview_image_cache_evictions_total",
			Help: "Entries evicted from the image cache",
		},
	)
)

// Thumbnail pipeline metrics
var (
	ThumbnailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_thumbnails_total",
			Help: "Bitmaps produced by the thumbnail pipeline by origin",
		},
		[]string{"origin"}, // "derived", "original", "downsampled"
	)

	ThumbnailFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_thumbnail_failures_total",
			Help: "Thumbnail pipeline failures by reason",
		},
		[]string{"reason"},
	)

	ThumbnailRequestsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bigview_thumbnail_requests_deduplicated_total",
			Help: "Requests attached to an already running decode job",
		},
	)
)

// Tile renderer metrics
var (
	TilesRasterized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_tiles_rasterized_total",
			Help: "Tiles rasterized by level of detail",
		},
		[]string{"lod"},
	)

	TileRasterDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bigview_tile_raster_duration_seconds",
			Help:    "Time spent rasterizing a single tile",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigview_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigview_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
