package http

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

const encodeQuality = 82

// parseFormat maps a file extension or query value to a tile format.
func parseFormat(s string) (string, bool) {
	switch strings.TrimPrefix(strings.ToLower(s), ".") {
	case "", "jpg", "jpeg":
		return "jpeg", true
	case "webp":
		return "webp", true
	default:
		return "", false
	}
}

func contentType(format string) string {
	if format == "webp" {
		return "image/webp"
	}
	return "image/jpeg"
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "webp":
		if err := webp.Encode(&buf, img, &webp.Options{Quality: encodeQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode webp: %w", err)
		}
	default:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(encodeQuality)); err != nil {
			return nil, fmt.Errorf("failed to encode jpeg: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func etag(key fmt.Stringer) string {
	hash := sha256.Sum256([]byte(key.String()))
	return `"` + hex.EncodeToString(hash[:])[:16] + `"`
}
