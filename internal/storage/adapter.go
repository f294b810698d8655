// Package storage provides a uniform key/value interface over the
// heterogeneous backends that hold conversational memory: an in-process
// LRU map, a networked Redis cache, and a durable SQLite blob store.
// A hybrid adapter composes local and durable stores for read-through
// caching with asynchronous durable writes.
package storage

import (
	"context"
	"time"
)

// Adapter is the uniform contract every backend implements.
// All methods are safe for concurrent use; implementations lock per key
// or per shard, never globally.
type Adapter interface {
	// Get returns the value for key. The second return is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. A ttl of zero means no expiry.
	// Backends without native TTL store the deadline alongside the value
	// and lazily delete on read.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Scan streams all live entries whose key starts with prefix to fn,
	// in unspecified order, stopping early when fn returns false.
	// Each call starts a fresh scan.
	Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error

	// Close releases backend resources.
	Close() error
}
