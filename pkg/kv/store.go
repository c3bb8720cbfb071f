// Package kv abstracts the small slice of a Redis-like store the backend
// needs for caching: byte values under string keys with optional TTLs. Two
// backends exist, Redis for deployments and an in-process map for dev and
// tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key is absent or expired.
var ErrNotFound = errors.New("not found")

type Store interface {
	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error

	Ping(ctx context.Context) error
	Close() error
}
