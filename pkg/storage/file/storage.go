// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keyshard.
//
// go-keyshard is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package file provides a storage.Backend that keeps one file per key under a
// root directory. Keys map to relative paths; "shards/<id>/01" becomes
// <root>/shards/<id>/01.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-keyshard/pkg/storage"
)

const (
	dirPerms     = 0700
	defaultPerms = 0600

	// tempPrefix marks partially written files; List skips them.
	tempPrefix = ".tmp-"
)

// Storage is a file-based implementation of storage.Backend.
type Storage struct {
	mu      sync.RWMutex
	rootDir string
	closed  bool
}

// New creates the root directory with 0700 permissions if needed.
func New(rootDir string) (*Storage, error) {
	if rootDir == "" {
		return nil, errors.New("file storage: root directory cannot be empty")
	}
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("file storage: resolve root directory: %w", err)
	}
	if err := os.MkdirAll(abs, dirPerms); err != nil {
		return nil, fmt.Errorf("file storage: create root directory: %w", err)
	}
	return &Storage{rootDir: abs}, nil
}

// Root returns the absolute root directory.
func (s *Storage) Root() string {
	return s.rootDir
}

func (s *Storage) Get(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: read %q: %w", key, err)
	}
	return data, nil
}

// Put writes value to a temporary file in the target directory and renames
// it into place, so readers never observe a partial record.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("file storage: create directory for %q: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("file storage: create temp file for %q: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(permissions(opts)); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file storage: chmod %q: %w", key, err)
	}
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file storage: write %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("file storage: sync %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("file storage: close %q: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("file storage: rename %q: %w", key, err)
	}
	return nil
}

// Delete removes the file for key and prunes directories left empty
// beneath the root.
func (s *Storage) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: delete %q: %w", key, err)
	}

	for dir := filepath.Dir(path); dir != s.rootDir && strings.HasPrefix(dir, s.rootDir); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			break
		}
	}
	return nil
}

func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys := make([]string, 0)
	err := filepath.WalkDir(s.rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: list %q: %w", prefix, err)
	}

	slices.Sort(keys)
	return keys, nil
}

func (s *Storage) Exists(key string) (bool, error) {
	path, err := s.path(key)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("file storage: stat %q: %w", key, err)
	}
	return true, nil
}

// Close marks the backend closed. Files on disk are left in place.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func (s *Storage) path(key string) (string, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", err
	}
	path := filepath.Join(s.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(path, s.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", storage.ErrInvalidKey, key)
	}
	return path, nil
}

func permissions(opts *storage.Options) fs.FileMode {
	if opts != nil && opts.Permissions != 0 {
		return opts.Permissions
	}
	return defaultPerms
}

var _ storage.Backend = (*Storage)(nil)
