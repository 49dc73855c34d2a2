package decoder

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bigview/internal/cache"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/a/b.TIF", "tiff"},
		{"b.tiff", "tiff"},
		{"b.JPG", "jpeg"},
		{"b.jpeg", "jpeg"},
		{"b.png", "png"},
		{"b", ""},
		{"b.gif", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.path), tt.path)
	}
}

func TestDerivedCopiesHaveALoader(t *testing.T) {
	store, err := cache.NewFileStore(t.TempDir())
	require.NoError(t, err)

	key := "9e107d9d372bb6826bd81d3542a419d6"
	require.NoError(t, store.Write(key, imaging.New(128, 96, color.NRGBA{G: 90, A: 255})))

	path, ok := store.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "jpeg", Format(path))

	img, err := NewNative().Decode(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(128, 96), img.Bounds().Size())
}
