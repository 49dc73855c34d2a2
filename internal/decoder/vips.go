package decoder

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/cshum/vipsgen/vips"
)

// Vips decodes through libvips. Dimensions only read the header and
// thumbnails are shrunk during load, so large originals are never fully
// resident. vips.Startup must have been called.
type Vips struct{}

func NewVips() *Vips {
	return &Vips{}
}

func (v *Vips) Dimensions(path string) (image.Point, error) {
	if err := readable(path); err != nil {
		return image.Point{}, err
	}
	img, err := Load(path, vips.AccessSequential)
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %s: %w", ErrMetadataUnavailable, path, err)
	}
	defer img.Close()

	return image.Pt(img.Width(), img.Height()), nil
}

func (v *Vips) Decode(path string) (image.Image, error) {
	if err := readable(path); err != nil {
		return nil, err
	}
	img, err := Load(path, vips.AccessSequential)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, path, err)
	}
	defer img.Close()

	return Export(img)
}

// Thumbnail reads the header for the size and lets libvips shrink during
// load, so only the reduced image is ever decoded.
func (v *Vips) Thumbnail(path string, maxEdge int) (image.Image, error) {
	size, err := v.Dimensions(path)
	if err != nil {
		return nil, err
	}
	fit := FitSize(size, maxEdge)
	if fit == size {
		return v.Decode(path)
	}

	opts := vips.DefaultThumbnailOptions()
	opts.Height = fit.Y
	opts.Size = vips.SizeDown
	img, err := vips.NewThumbnail(path, fit.X, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, path, err)
	}
	defer img.Close()

	return Export(img)
}

// Format names the libvips loader for path, or "" when none handles its
// extension.
func Format(path string) string {
	switch ext(path) {
	case ".tif", ".tiff":
		return "tiff"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	default:
		return ""
	}
}

// Load opens path with the libvips loader for its extension. Loading is
// lazy: pixels are read only when an operation needs them.
func Load(path string, access vips.Access) (*vips.Image, error) {
	switch Format(path) {
	case "tiff":
		opts := vips.DefaultTiffloadOptions()
		opts.Access = access
		return vips.NewTiffload(path, opts)
	case "jpeg":
		opts := vips.DefaultJpegloadOptions()
		opts.Access = access
		return vips.NewJpegload(path, opts)
	case "png":
		opts := vips.DefaultPngloadOptions()
		opts.Access = access
		return vips.NewPngload(path, opts)
	default:
		return nil, fmt.Errorf("unsupported image format: %q", ext(path))
	}
}

// Export hands the pixels over to Go through a lossless PNG buffer.
func Export(img *vips.Image) (image.Image, error) {
	buf, err := img.PngsaveBuffer(vips.DefaultPngsaveBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("%w: export: %w", ErrDecodeFailure, err)
	}
	out, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: export: %w", ErrDecodeFailure, err)
	}
	return out, nil
}

func readable(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	return f.Close()
}
