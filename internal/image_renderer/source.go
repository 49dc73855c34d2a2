package image_renderer

import (
	"image"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
)

// Source provides pixels of one image at power-of-two resolution levels.
// Level 0 is full resolution; level k is downsampled by 2^k.
type Source interface {
	Size() image.Point
	// Region returns the pixels of r, in level k coordinates. The returned
	// image's bounds equal r; r is within LevelSize(Size(), k).
	Region(k int, r image.Rectangle) (image.Image, error)
}

// LevelSize is the pixel size of level k of an image of the given size.
func LevelSize(size image.Point, k int) image.Point {
	d := 1 << k
	return image.Pt((size.X+d-1)/d, (size.Y+d-1)/d)
}

// BitmapSource serves levels from a decoded bitmap. Lower levels are built
// on first use by box-filtering the level above.
type BitmapSource struct {
	mu     sync.Mutex
	levels []image.Image
}

func NewBitmapSource(img image.Image) *BitmapSource {
	if img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}
	return &BitmapSource{levels: []image.Image{img}}
}

func (b *BitmapSource) Size() image.Point {
	return b.levels[0].Bounds().Size()
}

func (b *BitmapSource) Region(k int, r image.Rectangle) (image.Image, error) {
	return subImage(b.level(k), r), nil
}

func (b *BitmapSource) level(k int) image.Image {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.levels) <= k {
		prev := b.levels[len(b.levels)-1]
		size := LevelSize(prev.Bounds().Size(), 1)
		b.levels = append(b.levels, imaging.Resize(prev, size.X, size.Y, imaging.Box))
	}
	return b.levels[k]
}

func subImage(img image.Image, r image.Rectangle) image.Image {
	if s, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	out := image.NewRGBA(r)
	draw.Draw(out, r, img, r.Min, draw.Src)
	return out
}
