package resultstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	cferr "github.com/cleanflow/cleanflow/pkg/errors"
)

// LocalStore keeps artifacts on the local filesystem, one file per key,
// fanned out by key prefix. Writes go through a temp file plus rename so a
// partially written artifact never becomes visible.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates the base directory if needed.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, cferr.StoreUnavailable("local", err)
	}
	return &LocalStore{baseDir: baseDir}, nil
}

func (s *LocalStore) path(key string) string {
	prefix := "00"
	if len(key) >= 2 {
		prefix = key[:2]
	}
	return filepath.Join(s.baseDir, prefix, key)
}

// Put writes content unless the key already exists. An existing key makes
// the call a no-op regardless of the new content.
func (s *LocalStore) Put(ctx context.Context, key string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.path(key)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return cferr.StoreUnavailable("local", err)
	}

	tmpPath := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmpPath, content, 0644); err != nil {
		return cferr.StoreUnavailable("local", err)
	}

	// A concurrent writer may have landed first; the content for a given
	// key is identical by construction, so either rename winning is fine.
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return cferr.StoreUnavailable("local", err)
	}
	return nil
}

// Get reads content for a key.
func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	content, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, cferr.StoreUnavailable("local", err)
	}
	return content, true, nil
}

// Exists reports whether a key has been written.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := os.Stat(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, cferr.StoreUnavailable("local", err)
	}
	return true, nil
}

// Close is a no-op for the filesystem backend.
func (s *LocalStore) Close() error {
	return nil
}
