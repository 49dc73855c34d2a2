package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var sampleKey = TileKey{ImageKey: "abc", Scale: 0.25, LOD: 2, Col: 3, Row: 1, Format: "jpeg"}

func TestTileKeyString(t *testing.T) {
	assert.Equal(t, "abc/0.25/2/3_1.jpeg", sampleKey.String())
}

func TestTileKeyKeepsExactScale(t *testing.T) {
	a := TileKey{ImageKey: "k", Scale: 1000.0 / 4000, Col: 7, Format: "jpeg"}
	b := a
	b.Scale = 1001.0 / 4000

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a.String(), b.String())

	c, err := NewMemoryTileCache(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	c.Set(a, []byte("a"))
	c.Wait()
	_, ok := c.Get(b)
	assert.False(t, ok)
}

func TestMemoryTileCache(t *testing.T) {
	c, err := NewMemoryTileCache(1 << 20)
	require.NoError(t, err)
	defer c.Close()

	c.Set(sampleKey, []byte("tile"))
	c.Wait()

	got, ok := c.Get(sampleKey)
	require.True(t, ok)
	assert.Equal(t, []byte("tile"), got)

	other := sampleKey
	other.Col++
	_, ok = c.Get(other)
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get(sampleKey)
	assert.False(t, ok)
}

func TestMemoryTileCacheRejectsZeroSize(t *testing.T) {
	_, err := NewMemoryTileCache(0)
	assert.Error(t, err)
}

func TestBigTileCache(t *testing.T) {
	c, err := NewBigTileCache(8, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	c.Set(sampleKey, []byte("tile"))
	got, ok := c.Get(sampleKey)
	require.True(t, ok)
	assert.Equal(t, []byte("tile"), got)

	c.Clear()
	_, ok = c.Get(sampleKey)
	assert.False(t, ok)
}

func TestNoopTileCache(t *testing.T) {
	c := NewNoopTileCache()
	c.Set(sampleKey, []byte("tile"))
	_, ok := c.Get(sampleKey)
	assert.False(t, ok)
}

func TestNewTileCache(t *testing.T) {
	log := zap.NewNop()

	c, err := NewTileCache("memory", 4, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryTileCache{}, c)

	c, err = NewTileCache("bigcache", 4, log)
	require.NoError(t, err)
	assert.IsType(t, &BigTileCache{}, c)

	c, err = NewTileCache("disabled", 0, log)
	require.NoError(t, err)
	assert.IsType(t, &NoopTileCache{}, c)

	_, err = NewTileCache("redis", 4, log)
	assert.Error(t, err)
}
