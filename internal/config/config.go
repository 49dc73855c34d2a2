package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port               int     `yaml:"port"`
	AssetsDir          string  `yaml:"assets_dir"`
	ThumbnailDir       string  `yaml:"thumbnail_dir"`
	ThumbnailStore     string  `yaml:"thumbnail_store"`
	CacheCapacity      int     `yaml:"cache_capacity"`
	ThumbnailThreshold int     `yaml:"thumbnail_threshold"`
	TileSize           int     `yaml:"tile_size"`
	LevelsOfDetail     int     `yaml:"levels_of_detail"`
	MinZoom            float64 `yaml:"min_zoom"`
	MaxZoom            float64 `yaml:"max_zoom"`
	Workers            int     `yaml:"workers"`
	Decoder            string  `yaml:"decoder"`
	TileCache          string  `yaml:"tile_cache"`
	TileCacheMB        int     `yaml:"tile_cache_mb"`
	VipsMaxCacheMB     int     `yaml:"vips_max_cache_mb"`
	VipsConcurrency    int     `yaml:"vips_concurrency"`
	LogLevel           string  `yaml:"log_level"`
	AllowedOrigin      string  `yaml:"allowed_origin"`
	WatchAssets        bool    `yaml:"watch_assets"`
	WarmupThumbnails   bool    `yaml:"warmup_thumbnails"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               8080,
		AssetsDir:          "/data",
		ThumbnailDir:       filepath.Join(os.TempDir(), "bigview-thumbnails"),
		ThumbnailStore:     "file",
		CacheCapacity:      100,
		ThumbnailThreshold: 128,
		TileSize:           512,
		LevelsOfDetail:     4,
		MinZoom:            0.75,
		MaxZoom:            5.0,
		Workers:            defaultWorkers(),
		Decoder:            "vips",
		TileCache:          "memory",
		TileCacheMB:        64,
		VipsMaxCacheMB:     256,
		VipsConcurrency:    1,
		LogLevel:           "info",
		WatchAssets:        true,
		WarmupThumbnails:   false,
	}
}

// Load applies CONFIG_FILE (if set) and then environment variables on top of
// the defaults.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnvInt("PORT", cfg.Port)
	cfg.AssetsDir = getEnv("ASSETS_DIR", cfg.AssetsDir)
	cfg.ThumbnailDir = getEnv("THUMBNAIL_DIR", cfg.ThumbnailDir)
	cfg.ThumbnailStore = getEnv("THUMBNAIL_STORE", cfg.ThumbnailStore)
	cfg.CacheCapacity = getEnvInt("CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.ThumbnailThreshold = getEnvInt("THUMBNAIL_THRESHOLD", cfg.ThumbnailThreshold)
	cfg.TileSize = getEnvInt("TILE_SIZE", cfg.TileSize)
	cfg.LevelsOfDetail = getEnvInt("LEVELS_OF_DETAIL", cfg.LevelsOfDetail)
	cfg.MinZoom = getEnvFloat("MIN_ZOOM", cfg.MinZoom)
	cfg.MaxZoom = getEnvFloat("MAX_ZOOM", cfg.MaxZoom)
	cfg.Workers = getEnvInt("WORKERS", cfg.Workers)
	cfg.Decoder = getEnv("DECODER", cfg.Decoder)
	cfg.TileCache = getEnv("TILE_CACHE", cfg.TileCache)
	cfg.TileCacheMB = getEnvInt("TILE_CACHE_MB", cfg.TileCacheMB)
	cfg.VipsMaxCacheMB = getEnvInt("VIPS_MAX_CACHE_MB", cfg.VipsMaxCacheMB)
	cfg.VipsConcurrency = getEnvInt("VIPS_CONCURRENCY", cfg.VipsConcurrency)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.AllowedOrigin = getEnv("ALLOWED_ORIGIN", cfg.AllowedOrigin)
	cfg.WatchAssets = getEnvBool("WATCH_ASSETS", cfg.WatchAssets)
	cfg.WarmupThumbnails = getEnvBool("WARMUP_THUMBNAILS", cfg.WarmupThumbnails)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML document at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	switch {
	case c.CacheCapacity <= 0:
		return fmt.Errorf("cache capacity must be positive, got %d", c.CacheCapacity)
	case c.ThumbnailThreshold <= 0:
		return fmt.Errorf("thumbnail threshold must be positive, got %d", c.ThumbnailThreshold)
	case c.TileSize <= 0:
		return fmt.Errorf("tile size must be positive, got %d", c.TileSize)
	case c.LevelsOfDetail <= 0:
		return fmt.Errorf("levels of detail must be positive, got %d", c.LevelsOfDetail)
	case c.MinZoom <= 0 || c.MinZoom > 1:
		return fmt.Errorf("min zoom must be in (0, 1], got %g", c.MinZoom)
	case c.MaxZoom < 1:
		return fmt.Errorf("max zoom must be at least 1, got %g", c.MaxZoom)
	case c.Workers <= 0:
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}

	if !oneOf(c.ThumbnailStore, "file", "disabled") {
		return fmt.Errorf("unknown thumbnail store: %s (supported: file, disabled)", c.ThumbnailStore)
	}
	if !oneOf(c.Decoder, "native", "vips") {
		return fmt.Errorf("unknown decoder: %s (supported: native, vips)", c.Decoder)
	}
	if !oneOf(c.TileCache, "memory", "bigcache", "disabled") {
		return fmt.Errorf("unknown tile cache: %s (supported: memory, bigcache, disabled)", c.TileCache)
	}
	return nil
}

// defaultWorkers sizes the decode pool for mixed IO/CPU work.
func defaultWorkers() int {
	n := runtime.GOMAXPROCS(0) * 3 / 2
	if n < 1 {
		n = 1
	}
	if n > 8 {
		n = 8
	}
	return n
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}
