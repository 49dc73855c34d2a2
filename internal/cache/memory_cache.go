package cache

import (
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// MemoryTileCache bounds encoded tiles by total byte size.
type MemoryTileCache struct {
	c *ristretto.Cache
}

func NewMemoryTileCache(maxBytes int64) (*MemoryTileCache, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("memory tile cache: max bytes must be positive")
	}
	// Roughly 10 counters per expected entry; tiles average ~32KB encoded.
	counters := maxBytes / (32 << 10) * 10
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory tile cache: %w", err)
	}
	return &MemoryTileCache{c: c}, nil
}

func (m *MemoryTileCache) Get(key TileKey) ([]byte, bool) {
	v, ok := m.c.Get(key.String())
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		m.c.Del(key.String())
		return nil, false
	}
	return b, true
}

func (m *MemoryTileCache) Set(key TileKey, value []byte) {
	m.c.Set(key.String(), value, int64(len(value)))
}

// Wait blocks until buffered writes are applied.
func (m *MemoryTileCache) Wait() {
	m.c.Wait()
}

func (m *MemoryTileCache) Clear() {
	m.c.Clear()
}

func (m *MemoryTileCache) Close() error {
	m.c.Close()
	return nil
}
