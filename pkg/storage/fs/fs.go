// Package fs stores cassettes as files under a root directory. Keys map
// directly to relative paths, so the date-partitioned layout produced by
// the naming scheme appears as plain directories on disk.
package fs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/retracehq/retrace/pkg/storage"
)

// Store is a filesystem-backed cassette store.
type Store struct {
	root string
}

// New creates a filesystem store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving cassette dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating cassette dir: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Put writes the encoded cassette to root/key, creating subdirectories.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cassette subdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cassette: %w", err)
	}
	return nil
}

// Get reads the cassette file at root/key.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, storage.ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("reading cassette: %w", err)
	}
	return data, nil
}

// List walks the root and returns all cassette keys under prefix, sorted.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasSuffix(key, ".json") && !strings.HasSuffix(key, ".json.gz") {
			return nil
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cassettes: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the filesystem store.
func (s *Store) Close() error { return nil }

// resolve maps a key to an absolute path, rejecting escapes from the root.
func (s *Store) resolve(key string) (string, error) {
	path := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) && path != s.root {
		return "", fmt.Errorf("cassette key escapes store root: %q", key)
	}
	return path, nil
}
