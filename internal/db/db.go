package db

import (
	"context"
	"time"
)

// Store is the shared key-value store contract backing the result cache
// and the rate-limit counters. All operations are atomic on the server
// side, so multiple service instances share state without coordination.
type Store interface {
	// Get retrieves a value by key. Returns ErrKeyNotFound for missing keys.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores a value that the server expires after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// IncrBy atomically increments a counter and returns the new value.
	IncrBy(ctx context.Context, key string, val int64) (int64, error)

	// Expire sets a TTL on a key. When nx=true, only if the key has no expiry yet.
	Expire(ctx context.Context, key string, ttl time.Duration, nx bool) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// WaitForReady polls Ping until the store responds or timeout expires.
	WaitForReady(ctx context.Context, timeout time.Duration) error

	// Close shuts down the client.
	Close()
}
