package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TheMichaelB/safe/internal/events"
)

const partialDir = ".partial"

// LocalStore keeps one file per blob in a directory. Keys are path-escaped
// so a key never maps to a nested path.
type LocalStore struct {
	baseDir string
	logger  *events.Logger

	maxNameLength int
	maxBlobSize   int64
}

// NewLocalStore creates a local blob store rooted at baseDir.
func NewLocalStore(baseDir string, logger *events.Logger) (*LocalStore, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(absPath, partialDir), 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &LocalStore{
		baseDir:       absPath,
		logger:        logger.WithField("component", "local_store"),
		maxNameLength: 255,
		maxBlobSize:   100 * 1024 * 1024,
	}, nil
}

// SetMaxBlobSize sets the maximum blob size limit.
func (s *LocalStore) SetMaxBlobSize(size int64) {
	s.maxBlobSize = size
}

// BaseDir returns the directory blobs are written to.
func (s *LocalStore) BaseDir() string {
	return s.baseDir
}

// Put saves data atomically: write to a temp file, fsync, rename.
func (s *LocalStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safePath, err := s.sanitizeKey(key)
	if err != nil {
		return fmt.Errorf("sanitize key: %w", err)
	}

	if int64(len(data)) > s.maxBlobSize {
		return fmt.Errorf("blob too large: %d bytes (max: %d)", len(data), s.maxBlobSize)
	}

	s.logger.WithFields(map[string]interface{}{
		"key":  key,
		"size": len(data),
	}).Debug("Writing blob")

	tmp, err := os.CreateTemp(filepath.Join(s.baseDir, partialDir), "blob-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, safePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}

// Get reads a blob.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	safePath, err := s.sanitizeKey(key)
	if err != nil {
		return nil, fmt.Errorf("sanitize key: %w", err)
	}

	data, err := os.ReadFile(safePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}

	return data, nil
}

// List returns keys with the given prefix in sorted order.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read base directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		key, err := url.PathUnescape(entry.Name())
		if err != nil {
			s.logger.WithField("file", entry.Name()).Warn("Skipping file with undecodable name")
			continue
		}

		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes a blob.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	safePath, err := s.sanitizeKey(key)
	if err != nil {
		return fmt.Errorf("sanitize key: %w", err)
	}

	s.logger.WithField("key", key).Debug("Deleting blob")

	if err := os.Remove(safePath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("delete blob: %w", err)
	}

	return nil
}

// Close is a no-op.
func (s *LocalStore) Close() error {
	return nil
}

// sanitizeKey maps a key to a file directly under baseDir.
func (s *LocalStore) sanitizeKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}

	if strings.ContainsRune(key, 0) {
		return "", fmt.Errorf("key contains null bytes")
	}

	name := url.PathEscape(key)
	if name == "." || name == ".." || name == partialDir {
		return "", fmt.Errorf("invalid key %q", key)
	}

	if len(name) > s.maxNameLength {
		return "", fmt.Errorf("key too long: %d characters escaped (max: %d)", len(name), s.maxNameLength)
	}

	fullPath := filepath.Join(s.baseDir, name)
	if filepath.Dir(fullPath) != s.baseDir {
		return "", fmt.Errorf("key escapes base directory")
	}

	return fullPath, nil
}
