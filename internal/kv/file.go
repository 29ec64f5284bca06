package kv

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	fileExt      = ".json"
	fileLockName = ".studio.lock"
)

// File persists each key as one file under a base directory. A flock on the
// directory serializes access across processes (the API and studioctl); the
// mutex does the same inside one process since flock handles are not
// re-entrant per goroutine.
type File struct {
	basePath string
	mu       sync.Mutex
	lock     *flock.Flock
}

// NewFile initializes a File store rooted at basePath.
func NewFile(basePath string) (*File, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("kv: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("kv: ensure base path: %w", err)
	}
	return &File{
		basePath: basePath,
		lock:     flock.New(filepath.Join(basePath, fileLockName)),
	}, nil
}

// BasePath returns the configured root directory.
func (s *File) BasePath() string {
	return s.basePath
}

func (s *File) Get(ctx context.Context, key string) (string, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return "", false, err
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("kv: lock: %w", err)
	}
	defer s.lock.Unlock()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: read %q: %w", key, err)
	}
	return string(data), true, nil
}

// Set writes to a temp file and renames it so readers never see a torn value.
func (s *File) Set(ctx context.Context, key, value string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("kv: lock: %w", err)
	}
	defer s.lock.Unlock()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("kv: write %q: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("kv: commit %q: %w", key, err)
	}
	return nil
}

func (s *File) Remove(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("kv: lock: %w", err)
	}
	defer s.lock.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("kv: remove %q: %w", key, err)
	}
	return nil
}

func (s *File) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("kv: list: %w", err)
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, fileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *File) pathFor(key string) (string, error) {
	clean, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, url.PathEscape(clean)+fileExt), nil
}

// sanitizeKey rejects keys that cannot map to a file inside the root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("kv: key is required")
	}
	if key == "." || key == ".." || strings.HasPrefix(key, fileLockName) {
		return "", errors.New("kv: invalid key")
	}
	return key, nil
}

var _ Store = (*File)(nil)
