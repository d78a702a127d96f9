// internal/storage/archive/localfs.go
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalFS implements Storage on a directory tree
type LocalFS struct {
	basePath string
}

// NewLocalFS creates a new LocalFS storage rooted at basePath
func NewLocalFS(basePath string) (*LocalFS, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating base path: %w", err)
	}
	return &LocalFS{basePath: basePath}, nil
}

func (l *LocalFS) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}

// Put writes through a temp file and rename so readers never see a partial export.
func (l *LocalFS) Put(ctx context.Context, key string, data []byte) error {
	full := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return fmt.Errorf("creating directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	return os.Rename(tmp.Name(), full)
}

func (l *LocalFS) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, WrapNotFound(key)
	}
	return data, err
}

func (l *LocalFS) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	searchPath := l.fullPath(prefix)

	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(l.basePath, path)
			keys = append(keys, filepath.ToSlash(rel))
		}
		return nil
	})

	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	sort.Strings(keys)
	return keys, err
}

func (l *LocalFS) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(l.fullPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}
