package cache

import (
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

// BigTileCache keeps encoded tiles in bigcache shards, outside the GC's view.
type BigTileCache struct {
	c *bigcache.BigCache
}

func NewBigTileCache(maxMB int, lifeWindow time.Duration) (*BigTileCache, error) {
	conf := bigcache.DefaultConfig(lifeWindow)
	conf.HardMaxCacheSize = maxMB
	conf.MaxEntrySize = 256 << 10
	conf.Verbose = false

	c, err := bigcache.NewBigCache(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigcache tile cache: %w", err)
	}
	return &BigTileCache{c: c}, nil
}

func (b *BigTileCache) Get(key TileKey) ([]byte, bool) {
	data, err := b.c.Get(key.String())
	if err != nil {
		return nil, false
	}
	return data, true
}

func (b *BigTileCache) Set(key TileKey, value []byte) {
	// A rejected write only costs a re-render.
	_ = b.c.Set(key.String(), value)
}

func (b *BigTileCache) Clear() {
	_ = b.c.Reset()
}

func (b *BigTileCache) Close() error {
	return b.c.Close()
}
