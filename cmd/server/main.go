package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"bigview/internal/cache"
	"bigview/internal/config"
	"bigview/internal/decoder"
	httphandlers "bigview/internal/http"
	"bigview/internal/image_list"
	"bigview/internal/image_renderer"
	"bigview/internal/logger"
	"bigview/internal/metrics"
	"bigview/internal/scheduler"
	"bigview/internal/thumbnail"
	"bigview/internal/viewer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if cfg.Decoder == "vips" {
		startVips(cfg, log)
		defer vips.Shutdown()
	}

	log.Info("Starting Bigview server",
		zap.Int("port", cfg.Port),
		zap.String("assets_dir", cfg.AssetsDir),
		zap.String("decoder", cfg.Decoder),
		zap.Int("workers", cfg.Workers),
	)

	sched := scheduler.New(cfg.Workers, log, metrics.NewJobObserver())
	defer sched.Close()

	images := cache.NewImageCache(cfg.CacheCapacity, metrics.NewCacheObserver(log))
	store, err := cache.NewDerivedStore(cfg.ThumbnailStore, cfg.ThumbnailDir, log)
	if err != nil {
		log.Fatal("Failed to initialize thumbnail store", zap.Error(err))
	}
	tileCache, err := cache.NewTileCache(cfg.TileCache, cfg.TileCacheMB, log)
	if err != nil {
		log.Fatal("Failed to initialize tile cache", zap.Error(err))
	}
	defer tileCache.Close()

	dec, err := decoder.New(cfg.Decoder, log)
	if err != nil {
		log.Fatal("Failed to initialize decoder", zap.Error(err))
	}

	pipeline := thumbnail.New(sched, images, store, dec, log, thumbnail.Options{Threshold: cfg.ThumbnailThreshold})

	scanner := image_list.New(cfg.AssetsDir, image_list.MD5Key, log)
	library := image_list.NewLibrary(scanner, sched, log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	library.Subscribe(func(ev image_list.Event) {
		if ev.Kind != image_list.EventUpdated {
			return
		}
		if ev.Err != nil {
			log.Warn("Asset scan failed", zap.Error(ev.Err))
			return
		}
		log.Info("Assets updated", zap.Int("count", ev.Count))
		if cfg.WarmupThumbnails {
			go pipeline.Warmup(ctx, library.Assets(), cfg.Workers)
		}
	})
	library.Refresh()

	if cfg.WatchAssets {
		watcher, err := image_list.NewWatcher(cfg.AssetsDir, library, image_list.DefaultDebounce, log)
		if err != nil {
			log.Warn("Asset watcher unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	views := viewer.NewManager(sched, viewer.NewLoader(cfg.Decoder, dec), image_renderer.Options{
		TileSize: cfg.TileSize,
		Levels:   cfg.LevelsOfDetail,
		MinZoom:  cfg.MinZoom,
		MaxZoom:  cfg.MaxZoom,
	}, log)
	defer views.CloseAll()

	handlers := httphandlers.New(cfg, log, library, pipeline, dec, views, tileCache)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Handler(),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server stopped")
}

func startVips(cfg *config.Config, log *zap.Logger) {
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0, // no disk cache
		MaxCacheSize:     0,
		VectorEnabled:    true,
	})

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)
}
