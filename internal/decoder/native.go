package decoder

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/tiff"
)

// Native decodes with the pure-Go codecs. Decode and Thumbnail hold a full
// resolution bitmap, so it is opt-in; Vips is the default.
type Native struct{}

func NewNative() *Native {
	return &Native{}
}

func (n *Native) Dimensions(path string) (image.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Point{}, fmt.Errorf("%w: %s: %w", ErrMetadataUnavailable, path, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Point{}, fmt.Errorf("%w: %s: empty image", ErrMetadataUnavailable, path)
	}
	return image.Pt(cfg.Width, cfg.Height), nil
}

func (n *Native) Decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}
	defer f.Close()

	img, err := imaging.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailure, path, err)
	}
	return img, nil
}

// Thumbnail decodes the whole image and downsamples it with Lanczos. The Go
// codecs have no shrink-on-load, so peak memory is one full decode.
func (n *Native) Thumbnail(path string, maxEdge int) (image.Image, error) {
	img, err := n.Decode(path)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if max(b.Dx(), b.Dy()) <= maxEdge {
		return img, nil
	}
	return imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos), nil
}
