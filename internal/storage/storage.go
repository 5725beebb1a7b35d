// Package storage provides file-based JSON storage for daemon state: saved
// server connections and the session directory.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opencode-nexus/nexus/internal/apperr"
)

var ErrNotFound = errors.New("not found")

// Store provides JSON persistence under a base directory. Writes are
// atomic (temp file then rename) and serialized per key.
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at basePath.
func New(basePath string) *Store {
	return &Store{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) fileFor(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...) + ".json"
}

func (s *Store) dirFor(path []string) string {
	parts := append([]string{s.basePath}, path...)
	return filepath.Join(parts...)
}

// Get reads the value at path into v. Returns ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, path []string, v any) error {
	filePath := s.fileFor(path)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return apperr.FromFS(filePath, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return apperr.FromJSON(err)
	}
	return nil
}

// Put writes v at path atomically.
func (s *Store) Put(ctx context.Context, path []string, v any) error {
	filePath := s.fileFor(path)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return apperr.FromFS(filePath, err)
	}

	lock := s.lockFor(filePath)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperr.FromJSON(err)
	}

	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return apperr.FromFS(tmpPath, err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return apperr.FromFS(filePath, err)
	}
	return nil
}

// Delete removes the value at path. Deleting an absent value is a no-op.
func (s *Store) Delete(ctx context.Context, path []string) error {
	filePath := s.fileFor(path)

	lock := s.lockFor(filePath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.FromFS(filePath, err)
	}
	return nil
}

// List returns the keys stored directly under path.
func (s *Store) List(ctx context.Context, path []string) ([]string, error) {
	dirPath := s.dirFor(path)

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, apperr.FromFS(dirPath, err)
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			keys = append(keys, name)
		} else if strings.HasSuffix(name, ".json") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

// Exists reports whether a value is stored at path.
func (s *Store) Exists(ctx context.Context, path []string) bool {
	_, err := os.Stat(s.fileFor(path))
	return err == nil
}

func (s *Store) lockFor(filePath string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[filePath]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[filePath] = lock
	}
	return lock
}
