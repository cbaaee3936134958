// Package storage provides file-based JSON storage for review history.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

const ext = ".json"

// Storage keeps one JSON document per key under a base directory. A key is a
// list of path segments; the last segment names the file.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Storage rooted at basePath. The directory is created lazily.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

func (s *Storage) dir(key []string) string {
	return filepath.Join(append([]string{s.basePath}, key...)...)
}

func (s *Storage) file(key []string) string {
	return s.dir(key) + ext
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.file(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", strings.Join(key, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put writes v at key. The write goes through a temp file and a rename
// while holding the key's file lock, so readers never see a partial document.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, "/"), err)
	}

	path := s.file(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	return s.withLock(ctx, path, func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0644); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return err
		}
		return nil
	})
}

// Delete removes the document at key. A missing document is not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	path := s.file(key)
	return s.withLock(ctx, path, func() error {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	})
}

// Scan calls fn for every document directly under prefix, in name order.
// Unreadable files are skipped. A missing prefix scans nothing.
func (s *Storage) Scan(ctx context.Context, prefix []string, fn func(name string, data json.RawMessage) error) error {
	dir := s.dir(prefix)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ext) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ext), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) withLock(ctx context.Context, path string, fn func() error) error {
	s.mu.Lock()
	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	s.mu.Unlock()

	if err := lock.Lock(ctx); err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	defer lock.Unlock()
	return fn()
}
