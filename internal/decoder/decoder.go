// Package decoder reads raster assets from disk. Every failure is classified
// as one of ErrSourceUnreadable, ErrMetadataUnavailable or ErrDecodeFailure.
package decoder

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrSourceUnreadable    = errors.New("source unreadable")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrDecodeFailure       = errors.New("decode failure")
)

type Decoder interface {
	// Dimensions reads the pixel size without decoding pixel data.
	Dimensions(path string) (image.Point, error)
	Decode(path string) (image.Image, error)
	// Thumbnail decodes path scaled so its longer edge is at most maxEdge,
	// preserving aspect ratio. Smaller images are returned unscaled.
	Thumbnail(path string, maxEdge int) (image.Image, error)
}

// New creates a decoder based on the decoder kind
func New(kind string, log *zap.Logger) (Decoder, error) {
	switch kind {
	case "native":
		log.Info("Using native image decoder")
		return NewNative(), nil
	case "vips":
		log.Info("Using libvips image decoder")
		return NewVips(), nil
	default:
		return nil, fmt.Errorf("unknown decoder: %s (supported: native, vips)", kind)
	}
}

// FitSize returns size scaled so its longer edge is at most maxEdge. Sizes
// already within bounds are returned as is; no edge is rounded below 1.
func FitSize(size image.Point, maxEdge int) image.Point {
	longest := max(size.X, size.Y)
	if longest <= maxEdge || longest == 0 {
		return size
	}
	scale := float64(maxEdge) / float64(longest)
	w := max(1, int(float64(size.X)*scale+0.5))
	h := max(1, int(float64(size.Y)*scale+0.5))
	return image.Pt(min(w, maxEdge), min(h, maxEdge))
}

func ext(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
