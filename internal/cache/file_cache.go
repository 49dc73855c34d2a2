package cache

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrThumbnailWrite marks a failure to persist a derived thumbnail. It is
// never fatal to the caller.
var ErrThumbnailWrite = errors.New("thumbnail write failed")

// DerivedStore persists downsized copies of assets, one per content key.
type DerivedStore interface {
	// Lookup returns the path of a readable derived copy for key.
	Lookup(key string) (string, bool)
	Write(key string, bitmap image.Image) error
	Clear() error
}

// FileStore implements DerivedStore as a flat directory of JPEG files.
// Structure: {dir}/{key}.jpg
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	return &FileStore{
		dir: dir,
	}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

// Path returns where the derived copy for key lives. The extension lets
// loaders that dispatch on it read the file back.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, key+".jpg")
}

func (s *FileStore) Lookup(key string) (string, bool) {
	if !validKey(key) {
		return "", false
	}
	path := s.Path(key)
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	f.Close()
	return path, true
}

func (s *FileStore) Write(key string, bitmap image.Image) error {
	if !validKey(key) {
		return fmt.Errorf("%w: invalid key %q", ErrThumbnailWrite, key)
	}

	// Write atomically
	tmp, err := os.CreateTemp(s.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrThumbnailWrite, err)
	}
	tmpPath := tmp.Name()

	if err := imaging.Encode(tmp, bitmap, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: encode: %w", ErrThumbnailWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrThumbnailWrite, err)
	}

	if err := os.Rename(tmpPath, s.Path(key)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrThumbnailWrite, err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return err
	}
	return os.MkdirAll(s.dir, 0755)
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}
