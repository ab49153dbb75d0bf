// Package storage persists small string values, such as serialized auth sessions,
// in per-client namespaces.
package storage

import (
	"context"
	"time"
)

// Store is a namespaced key/value store. A ttl of zero or less means the entry never expires.
// Get reports false for missing or expired keys.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Keys(ctx context.Context, namespace string) ([]string, error)
}

// Sweeper is implemented by stores that must remove expired entries themselves.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
