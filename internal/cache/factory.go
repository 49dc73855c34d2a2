package cache

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// NewTileCache creates an encoded tile cache based on the cache type
func NewTileCache(cacheType string, maxMB int, log *zap.Logger) (TileCache, error) {
	switch cacheType {
	case "memory":
		log.Info("Using memory tile cache", zap.Int("max_mb", maxMB))
		return NewMemoryTileCache(int64(maxMB) << 20)
	case "bigcache":
		log.Info("Using bigcache tile cache", zap.Int("max_mb", maxMB))
		return NewBigTileCache(maxMB, time.Hour)
	case "disabled":
		log.Info("Tile cache disabled")
		return NewNoopTileCache(), nil
	default:
		return nil, fmt.Errorf("unknown tile cache type: %s (supported: memory, bigcache, disabled)", cacheType)
	}
}

// NewDerivedStore creates the derived thumbnail store based on the store type
func NewDerivedStore(storeType, dir string, log *zap.Logger) (DerivedStore, error) {
	switch storeType {
	case "file":
		log.Info("Using file thumbnail store", zap.String("dir", dir))
		return NewFileStore(dir)
	case "disabled":
		log.Info("Thumbnail store disabled")
		return NewNoopStore(), nil
	default:
		return nil, fmt.Errorf("unknown thumbnail store: %s (supported: file, disabled)", storeType)
	}
}
