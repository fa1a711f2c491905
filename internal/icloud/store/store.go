// Package store persists per-account session state for the iCloud client:
// serialized session data and cookie snapshots, keyed by opaque string keys
// derived from the account identifier. It is a pure byte store; it never
// inspects or validates what it holds.
//
// Two backends are provided: a file-based store (one file per key) and a
// SQLite-based store (single sessions table). Both expose a cross-process
// advisory lock so that an authenticate-then-persist sequence for one
// account can be serialized between processes.
package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// lockRetryDelay is the poll interval for acquiring a contended file lock.
const lockRetryDelay = 100 * time.Millisecond

// UnlockFunc releases a lock taken with Store.Lock.
type UnlockFunc func() error

// Store is a byte-oriented key-value store with per-name advisory locking.
//
// Get returns (nil, nil) when the key is absent. Set overwrites. Delete is
// idempotent. DeleteAll removes several keys as one operation where the
// backend allows it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context, keys ...string) error

	// Lock acquires the advisory lock for the given name (typically an
	// account identifier), blocking until it is held or ctx is done.
	Lock(ctx context.Context, name string) (UnlockFunc, error)

	Close() error
}

// sanitizeKey maps an arbitrary key (account identifiers are email
// addresses) onto something safe to use as a file name component.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '@' || r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}

// namedMutex hands out one in-process mutex per name. The file lock below
// serializes processes; this serializes goroutines within one process,
// since POSIX advisory locks are shared inside a process.
type namedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (n *namedMutex) get(name string) *sync.Mutex {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.locks == nil {
		n.locks = make(map[string]*sync.Mutex)
	}
	m, ok := n.locks[name]
	if !ok {
		m = &sync.Mutex{}
		n.locks[name] = m
	}
	return m
}
