package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/dmitrijs2005/hidemail/internal/filex"
)

// FileStore keeps every key in its own file under a private directory.
// This is the default backend: session files end up as
// <dir>/<account>.session and <dir>/<account>.cookies.
type FileStore struct {
	dir   string
	inner namedMutex
}

// NewFileStore ensures dir exists and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	d, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileStore{dir: d}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key))
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	if err := filex.WriteFileAtomic(s.path(key), value, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *FileStore) DeleteAll(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Lock takes the in-process mutex for name, then a flock on <name>.lock so
// that other processes touching the same account wait too.
func (s *FileStore) Lock(ctx context.Context, name string) (UnlockFunc, error) {
	mu := s.inner.get(name)
	mu.Lock()

	fl := flock.New(s.path(name) + ".lock")
	if _, err := fl.TryLockContext(ctx, lockRetryDelay); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}

	return func() error {
		defer mu.Unlock()
		return fl.Unlock()
	}, nil
}

func (s *FileStore) Close() error { return nil }
