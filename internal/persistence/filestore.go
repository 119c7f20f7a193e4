package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileStore is the default StateStore: one JSON file per key inside a
// base directory. Writes go through a temp file and rename so a crash
// mid-write never leaves a truncated blob behind.
type FileStore struct {
	dir string
}

// NewFileStore creates a file-backed state store rooted at dir
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(key string) string {
	// Keys are package-chosen identifiers, not user input; sanitize anyway
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(fs.dir, safe+".json")
}

// Save writes the payload as a versioned blob under key
func (fs *FileStore) Save(ctx context.Context, key string, payload interface{}) error {
	data, err := Seal(payload)
	if err != nil {
		return fmt.Errorf("failed to seal blob %s: %w", key, err)
	}

	target := fs.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("failed to commit blob %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("state blob saved")
	return nil
}

// Load reads the blob under key into out
func (fs *FileStore) Load(ctx context.Context, key string, out interface{}) error {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return Open(data, out)
}

// Delete removes the blob under key
func (fs *FileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(fs.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}
