package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/hidemail/internal/dbx"
	"github.com/dmitrijs2005/hidemail/internal/icloud/store/migrations"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps all keys in a single sessions table. The schema is
// managed with embedded goose migrations, applied on open.
type SQLiteStore struct {
	db      *sql.DB
	lockDir string
	inner   namedMutex
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, lockDir: filepath.Dir(path)}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sessions WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions[%s]: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set sessions[%s]: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete sessions[%s]: %w", key, err)
	}
	return nil
}

// DeleteAll removes the given keys in a single transaction, so an account
// purge never leaves a session file without its cookies or vice versa.
func (s *SQLiteStore) DeleteAll(ctx context.Context, keys ...string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, key := range keys {
			if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
				return fmt.Errorf("failed to delete sessions[%s]: %w", key, err)
			}
		}
		return nil
	})
}

// Lock mirrors FileStore.Lock: SQLite serializes individual statements but
// not a whole authenticate-then-persist sequence, so the advisory file lock
// is still needed.
func (s *SQLiteStore) Lock(ctx context.Context, name string) (UnlockFunc, error) {
	mu := s.inner.get(name)
	mu.Lock()

	fl := flock.New(filepath.Join(s.lockDir, sanitizeKey(name)+".lock"))
	if _, err := fl.TryLockContext(ctx, lockRetryDelay); err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}

	return func() error {
		defer mu.Unlock()
		return fl.Unlock()
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
