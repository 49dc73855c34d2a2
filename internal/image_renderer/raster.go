package image_renderer

import (
	"image"
	"math"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"

	"bigview/internal/metrics"
)

// Rasterize renders rect, in content coordinates of a layer at scale, by
// sampling source level lod. Every output pixel depends only on its own
// position, so adjacent rectangles join without seams.
func Rasterize(src Source, lod int, scale float64, rect image.Rectangle) (*image.RGBA, error) {
	start := time.Now()
	dst := image.NewRGBA(rect)
	if rect.Empty() {
		return dst, nil
	}

	ls := scale * float64(int(1)<<lod)
	region := sourceRegion(rect, ls).Intersect(image.Rectangle{Max: LevelSize(src.Size(), lod)})
	if region.Empty() {
		return dst, nil
	}

	pixels, err := src.Region(lod, region)
	if err != nil {
		return nil, err
	}

	s2d := f64.Aff3{ls, 0, 0, 0, ls, 0}
	interpolator(ls).Transform(dst, s2d, pixels, region, draw.Src, nil)

	metrics.ObserveTile(lod, time.Since(start))
	return dst, nil
}

// sourceRegion is the level area read for rect, widened by the kernel
// support so that clipping never changes a sample.
func sourceRegion(rect image.Rectangle, ls float64) image.Rectangle {
	margin := int(math.Ceil(2/math.Min(ls, 1))) + 1
	return image.Rect(
		int(math.Floor(float64(rect.Min.X)/ls))-margin,
		int(math.Floor(float64(rect.Min.Y)/ls))-margin,
		int(math.Ceil(float64(rect.Max.X)/ls))+margin,
		int(math.Ceil(float64(rect.Max.Y)/ls))+margin,
	)
}

func interpolator(ls float64) draw.Interpolator {
	if ls >= 0.5 {
		return draw.CatmullRom
	}
	return draw.ApproxBiLinear
}
