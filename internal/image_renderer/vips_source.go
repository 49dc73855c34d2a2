package image_renderer

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/cshum/vipsgen/vips"

	"bigview/internal/decoder"
)

// VipsSource reads regions straight from the file with libvips, so only the
// requested area is ever decoded.
type VipsSource struct {
	path string
	size image.Point
}

func OpenVipsSource(path string) (*VipsSource, error) {
	img, err := decoder.Load(path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", decoder.ErrMetadataUnavailable, path, err)
	}
	defer img.Close()

	return &VipsSource{
		path: path,
		size: image.Pt(img.Width(), img.Height()),
	}, nil
}

func (v *VipsSource) Size() image.Point {
	return v.size
}

func (v *VipsSource) Region(k int, r image.Rectangle) (image.Image, error) {
	// Use AccessRandom for efficient region extraction from large files
	img, err := decoder.Load(v.path, vips.AccessRandom)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer img.Close()

	// Step 1: Extract the region in full resolution coordinates.
	d := 1 << k
	src := image.Rect(r.Min.X*d, r.Min.Y*d, r.Max.X*d, r.Max.Y*d).Intersect(image.Rectangle{Max: v.size})
	if src.Empty() {
		return image.NewRGBA(r), nil
	}
	if err := img.ExtractArea(src.Min.X, src.Min.Y, src.Dx(), src.Dy()); err != nil {
		return nil, fmt.Errorf("failed to extract area: %w", err)
	}

	// Step 2: Scale down to the level.
	if k > 0 {
		resizeOpts := vips.DefaultResizeOptions()
		resizeOpts.Kernel = vips.KernelLanczos3
		if err := img.Resize(1/float64(d), resizeOpts); err != nil {
			return nil, fmt.Errorf("failed to resize: %w", err)
		}
	}

	// Step 3: Hand over to Go, placed at r. vips may round the last row or
	// column differently; those pixels are left transparent.
	pixels, err := decoder.Export(img)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(r)
	draw.Draw(out, r, pixels, pixels.Bounds().Min, draw.Src)
	return out, nil
}
