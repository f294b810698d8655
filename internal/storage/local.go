package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// localEntry wraps a stored value with its optional expiry deadline.
type localEntry struct {
	value     []byte
	expiresAt time.Time // zero = no TTL
}

// Local is a bounded in-process adapter backed by an LRU map.
// It has no native TTL support; expiry deadlines are checked on read and
// expired entries are deleted lazily.
type Local struct {
	cache *lru.Cache[string, localEntry]

	// now is swappable so TTL tests don't sleep.
	mu  sync.RWMutex
	now func() time.Time
}

// NewLocal creates a Local adapter holding at most capacity entries.
func NewLocal(capacity int) (*Local, error) {
	cache, err := lru.New[string, localEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &Local{cache: cache, now: time.Now}, nil
}

// SetClock overrides the time source. Tests only.
func (l *Local) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

func (l *Local) clock() time.Time {
	l.mu.RLock()
	now := l.now
	l.mu.RUnlock()
	return now()
}

// Get returns the live value for key, lazily deleting it if expired.
func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := l.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && l.clock().After(e.expiresAt) {
		l.cache.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := localEntry{value: value}
	if ttl > 0 {
		e.expiresAt = l.clock().Add(ttl)
	}
	l.cache.Add(key, e)
	return nil
}

// Delete removes key.
func (l *Local) Delete(_ context.Context, key string) error {
	l.cache.Remove(key)
	return nil
}

// Scan streams live entries with the given key prefix.
func (l *Local) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	for _, key := range l.cache.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		// Peek to avoid disturbing recency order during a scan.
		e, ok := l.cache.Peek(key)
		if !ok {
			continue
		}
		if !e.expiresAt.IsZero() && l.clock().After(e.expiresAt) {
			l.cache.Remove(key)
			continue
		}
		if !fn(key, e.value) {
			return nil
		}
	}
	return nil
}

// Len returns the number of entries currently held, including any not yet
// lazily expired.
func (l *Local) Len() int {
	return l.cache.Len()
}

// Close is a no-op for the in-process adapter.
func (l *Local) Close() error {
	return nil
}
