package cache

import (
	"fmt"
	"strconv"
)

// TileKey identifies one encoded tile of a viewer layer. Scale is the exact
// layer scale: tiles of layers with nearly equal scales sample different
// source pixels.
type TileKey struct {
	ImageKey string
	Scale    float64
	LOD      int
	Col      int
	Row      int
	Format   string
}

func (k TileKey) String() string {
	scale := strconv.FormatFloat(k.Scale, 'g', -1, 64)
	return fmt.Sprintf("%s/%s/%d/%d_%d.%s", k.ImageKey, scale, k.LOD, k.Col, k.Row, k.Format)
}

// TileCache holds encoded tile bytes served over HTTP.
type TileCache interface {
	Get(key TileKey) ([]byte, bool)
	Set(key TileKey, value []byte)
	Clear()
	Close() error
}
