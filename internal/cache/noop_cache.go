package cache

import "image"

type NoopTileCache struct{}

func NewNoopTileCache() *NoopTileCache {
	return &NoopTileCache{}
}

func (c *NoopTileCache) Get(key TileKey) ([]byte, bool) {
	return nil, false
}

func (c *NoopTileCache) Set(key TileKey, value []byte) {
}

func (c *NoopTileCache) Clear() {
}

func (c *NoopTileCache) Close() error {
	return nil
}

// NoopStore never persists derived thumbnails.
type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) Lookup(key string) (string, bool) {
	return "", false
}

func (s *NoopStore) Write(key string, bitmap image.Image) error {
	return nil
}

func (s *NoopStore) Clear() error {
	return nil
}
