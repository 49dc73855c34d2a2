package image_list

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrDirectoryList means the assets directory could not be listed.
var ErrDirectoryList = errors.New("directory list failed")

var extensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".tif":  true,
	".tiff": true,
	".png":  true,
}

// Asset is a source image discovered in the assets directory.
type Asset struct {
	Name       string `json:"name"`
	SourcePath string `json:"-"`
	Key        string `json:"key"`
	Bytes      int64  `json:"bytes"`
}

// KeyFunc derives the content key of an asset from its file name.
type KeyFunc func(name string) string

// MD5Key is the hex MD5 of the file name. Equal names in different
// directories share a key.
func MD5Key(name string) string {
	sum := md5.Sum([]byte(name))
	return hex.EncodeToString(sum[:])
}

// Supported reports whether name has one of the recognised raster extensions.
func Supported(name string) bool {
	return extensions[strings.ToLower(filepath.Ext(name))]
}

type Scanner struct {
	assetsDir string
	key       KeyFunc
	logger    *zap.Logger

	mu     sync.RWMutex
	assets []Asset
	byKey  map[string]int
}

func New(assetsDir string, key KeyFunc, logger *zap.Logger) *Scanner {
	if key == nil {
		key = MD5Key
	}
	return &Scanner{
		assetsDir: assetsDir,
		key:       key,
		logger:    logger,
		assets:    []Asset{},
		byKey:     map[string]int{},
	}
}

func (s *Scanner) AssetsDir() string {
	return s.assetsDir
}

// Scan lists the assets directory (not recursively) and replaces the known
// asset set. On failure the previous set is kept.
func (s *Scanner) Scan() ([]Asset, error) {
	entries, err := os.ReadDir(s.assetsDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDirectoryList, s.assetsDir, err)
	}

	assets := []Asset{}
	byKey := make(map[string]int, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !Supported(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("Error getting file info", zap.String("name", name), zap.Error(err))
			continue
		}

		key := s.key(name)
		if prev, dup := byKey[key]; dup {
			s.logger.Warn("Content key collision",
				zap.String("key", key),
				zap.String("name", name),
				zap.String("previous", assets[prev].Name))
		}
		byKey[key] = len(assets)
		assets = append(assets, Asset{
			Name:       name,
			SourcePath: filepath.Join(s.assetsDir, name),
			Key:        key,
			Bytes:      info.Size(),
		})
	}

	s.mu.Lock()
	s.assets = assets
	s.byKey = byKey
	s.mu.Unlock()

	s.logger.Debug("Scanned assets", zap.String("dir", s.assetsDir), zap.Int("count", len(assets)))
	return assets, nil
}

// Assets returns the result of the last successful scan.
func (s *Scanner) Assets() []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets
}

func (s *Scanner) AssetByKey(key string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byKey[key]
	if !ok {
		return Asset{}, false
	}
	return s.assets[i], true
}
