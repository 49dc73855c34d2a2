package image_list

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func touch(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0644))
}

func TestScanFiltersSupportedFiles(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.jpg", 10)
	touch(t, dir, "B.JPEG", 11)
	touch(t, dir, "c.Tif", 12)
	touch(t, dir, "d.tiff", 13)
	touch(t, dir, "e.png", 14)
	touch(t, dir, "f.gif", 1)
	touch(t, dir, "g.webp", 1)
	touch(t, dir, "notes.txt", 1)
	touch(t, dir, ".hidden.jpg", 1)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.png"), 0755))

	s := New(dir, MD5Key, zap.NewNop())
	assets, err := s.Scan()
	require.NoError(t, err)

	var names []string
	for _, a := range assets {
		names = append(names, a.Name)
	}
	assert.ElementsMatch(t, []string{"a.jpg", "B.JPEG", "c.Tif", "d.tiff", "e.png"}, names)
	assert.Equal(t, assets, s.Assets())
}

func TestScanBuildsAssets(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "photo.jpg", 42)

	s := New(dir, MD5Key, zap.NewNop())
	assets, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, assets, 1)

	a := assets[0]
	assert.Equal(t, "photo.jpg", a.Name)
	assert.Equal(t, filepath.Join(dir, "photo.jpg"), a.SourcePath)
	assert.Equal(t, MD5Key("photo.jpg"), a.Key)
	assert.Equal(t, int64(42), a.Bytes)

	got, ok := s.AssetByKey(a.Key)
	require.True(t, ok)
	assert.Equal(t, a, got)
	_, ok = s.AssetByKey("nope")
	assert.False(t, ok)
}

func TestMD5KeyDependsOnNameOnly(t *testing.T) {
	assert.Equal(t, MD5Key("a.jpg"), MD5Key("a.jpg"))
	assert.NotEqual(t, MD5Key("a.jpg"), MD5Key("b.jpg"))
	assert.Len(t, MD5Key("a.jpg"), 32)

	one, two := t.TempDir(), t.TempDir()
	touch(t, one, "same.png", 1)
	touch(t, two, "same.png", 500)

	a1, err := New(one, MD5Key, zap.NewNop()).Scan()
	require.NoError(t, err)
	a2, err := New(two, MD5Key, zap.NewNop()).Scan()
	require.NoError(t, err)
	assert.Equal(t, a1[0].Key, a2[0].Key)
}

func TestScanUsesInjectedKeyFunc(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "x.png", 1)

	s := New(dir, func(name string) string { return "k-" + name }, zap.NewNop())
	assets, err := s.Scan()
	require.NoError(t, err)
	assert.Equal(t, "k-x.png", assets[0].Key)
}

func TestScanMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "a.png", 1)
	s := New(dir, MD5Key, zap.NewNop())
	_, err := s.Scan()
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))
	_, err = s.Scan()
	assert.ErrorIs(t, err, ErrDirectoryList)
	assert.Len(t, s.Assets(), 1, "previous result kept")
}
