// Package cache stores rendered report results keyed by report code,
// parameters and output format.
package cache

import (
	"context"
	"time"
)

// Backend is a key/value store with per-entry expiry
type Backend interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key matching pattern. A trailing "*" matches any
	// suffix; "" or "*" clears everything. It returns the number removed.
	Clear(ctx context.Context, pattern string) (int, error)
}

// Sweeper is implemented by backends that can drop expired entries eagerly
type Sweeper interface {
	CleanupExpired() int
}
