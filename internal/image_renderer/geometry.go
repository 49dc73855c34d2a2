package image_renderer

import (
	"image"
	"math"
)

// LevelOfDetail picks the source level sampled at scale: the coarsest level
// that still has at least one level pixel per output pixel.
func LevelOfDetail(scale float64, levels int) int {
	if scale <= 0 || levels <= 1 {
		return 0
	}
	k := int(math.Floor(math.Log2(1/scale) + 1e-9))
	return max(0, min(k, levels-1))
}

// ContentSize is the size of an image of the given size drawn at scale.
func ContentSize(size image.Point, scale float64) image.Point {
	w := int(math.Floor(float64(size.X)*scale + 1e-9))
	h := int(math.Floor(float64(size.Y)*scale + 1e-9))
	return image.Pt(max(1, w), max(1, h))
}

// Inset centers content inside viewport along each axis where it is smaller
// and anchors it at the origin otherwise.
func Inset(content, viewport image.Point) image.Point {
	var p image.Point
	if content.X < viewport.X {
		p.X = int(math.Round(float64(viewport.X-content.X) / 2))
	}
	if content.Y < viewport.Y {
		p.Y = int(math.Round(float64(viewport.Y-content.Y) / 2))
	}
	return p
}

// Cell is the grid square of a tile before clipping.
func Cell(col, row, tileSize int) image.Rectangle {
	return image.Rect(col*tileSize, row*tileSize, (col+1)*tileSize, (row+1)*tileSize)
}

// Cells lists, row by row, the grid cells intersecting visible.
func Cells(visible image.Rectangle, tileSize int) []image.Point {
	if visible.Empty() {
		return nil
	}
	c0, r0 := visible.Min.X/tileSize, visible.Min.Y/tileSize
	c1, r1 := (visible.Max.X-1)/tileSize, (visible.Max.Y-1)/tileSize

	cells := make([]image.Point, 0, (c1-c0+1)*(r1-r0+1))
	for row := r0; row <= r1; row++ {
		for col := c0; col <= c1; col++ {
			cells = append(cells, image.Pt(col, row))
		}
	}
	return cells
}

func clampScale(s, lo, hi float64) float64 {
	return math.Max(lo, math.Min(s, hi))
}
