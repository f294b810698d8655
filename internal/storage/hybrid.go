package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/synapse/internal/metrics"
)

const (
	hybridWriteRetries = 3
	hybridRetryBase    = 100 * time.Millisecond
	hybridWriteBudget  = 5 * time.Second
)

// Hybrid composes a fast local adapter with a durable one. Writes land in
// the local store synchronously and are replicated to the durable store in
// the background; the caller is never blocked on durable I/O. Reads go
// local-first and fall back to the durable store, repopulating the local
// cache on a fallback hit.
//
// Failure semantics: a local failure fails the call. A durable write
// failure is retried with bounded exponential backoff and then dropped
// with a warning log and a metrics increment.
type Hybrid struct {
	local   Adapter
	durable Adapter
	log     zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewHybrid composes local and durable adapters.
func NewHybrid(local, durable Adapter, log zerolog.Logger) *Hybrid {
	return &Hybrid{local: local, durable: durable, log: log}
}

// Get reads local-first, falling back to the durable store on a miss.
func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok, err := h.local.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("hybrid local get: %w", err)
	}
	if ok {
		return val, true, nil
	}

	val, ok, err = h.durable.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}

	// Repopulate the local cache; a failure here only costs the next
	// read a fallback.
	if err := h.local.Set(ctx, key, val, 0); err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("failed to repopulate local cache")
	}
	return val, true, nil
}

// Set writes synchronously to the local store and asynchronously to the
// durable store.
func (h *Hybrid) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := h.local.Set(ctx, key, value, ttl); err != nil {
		return fmt.Errorf("hybrid local set: %w", err)
	}
	h.async(key, func(ctx context.Context) error {
		return h.durable.Set(ctx, key, value, ttl)
	})
	return nil
}

// Delete removes the key from both stores, durable asynchronously.
func (h *Hybrid) Delete(ctx context.Context, key string) error {
	if err := h.local.Delete(ctx, key); err != nil {
		return fmt.Errorf("hybrid local delete: %w", err)
	}
	h.async(key, func(ctx context.Context) error {
		return h.durable.Delete(ctx, key)
	})
	return nil
}

// Scan streams from the durable store, which holds the superset of keys.
// When the durable store is unreachable before delivering anything, the
// local cache still serves whatever it has. A failure mid-stream is
// returned as-is: fn has already seen some keys, and restarting against
// the cache would deliver them twice.
func (h *Hybrid) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	delivered := false
	err := h.durable.Scan(ctx, prefix, func(key string, value []byte) bool {
		delivered = true
		return fn(key, value)
	})
	if err == nil {
		return nil
	}
	if delivered {
		return fmt.Errorf("hybrid durable scan interrupted: %w", err)
	}
	h.log.Warn().Err(err).Str("prefix", prefix).Msg("durable scan failed, serving local cache")
	return h.local.Scan(ctx, prefix, fn)
}

// Flush blocks until all in-flight durable writes have settled. Tests and
// shutdown paths use it; the request path never does.
func (h *Hybrid) Flush() {
	h.wg.Wait()
}

// Close drains in-flight writes and closes both stores.
func (h *Hybrid) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	h.wg.Wait()
	lerr := h.local.Close()
	derr := h.durable.Close()
	if lerr != nil {
		return lerr
	}
	return derr
}

// async runs op against the durable store off the caller's path, detached
// from the request context so caller cancellation cannot lose the write.
func (h *Hybrid) async(key string, op func(ctx context.Context) error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()

		var err error
		for attempt := 0; attempt < hybridWriteRetries; attempt++ {
			if attempt > 0 {
				time.Sleep(hybridRetryBase << (attempt - 1))
			}
			ctx, cancel := context.WithTimeout(context.Background(), hybridWriteBudget)
			err = op(ctx)
			cancel()
			if err == nil {
				return
			}
		}

		metrics.DroppedDurableWrites.Inc()
		h.log.Warn().Err(err).Str("key", key).
			Int("attempts", hybridWriteRetries).
			Msg("durable write dropped after retries")
	}()
}
