package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileCache keeps media files awaiting upload under
// <dir>/<station>/<content>.<extension>.
type FileCache struct {
	dir string
}

// NewFileCache creates the cache directory if needed.
func NewFileCache(dir string) (*FileCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create media cache %s: %w", dir, err)
	}
	return &FileCache{dir: dir}, nil
}

// Path returns the file location for a cached content.
func (c *FileCache) Path(stationID, contentID, ext string) string {
	name := contentID
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(c.dir, filepath.Base(stationID), filepath.Base(name))
}

// Write stores a file.
func (c *FileCache) Write(stationID, contentID, ext string, data []byte) error {
	path := c.Path(stationID, contentID, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create station cache: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Read returns a cached file.
func (c *FileCache) Read(stationID, contentID, ext string) ([]byte, error) {
	data, err := os.ReadFile(c.Path(stationID, contentID, ext))
	if err != nil {
		return nil, fmt.Errorf("failed to read cached media %s: %w", contentID, err)
	}
	return data, nil
}

// Remove deletes a cached file. A missing file is not an error.
func (c *FileCache) Remove(stationID, contentID, ext string) error {
	err := os.Remove(c.Path(stationID, contentID, ext))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cached media %s: %w", contentID, err)
	}
	return nil
}
