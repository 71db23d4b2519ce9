// Package idempotency remembers submission outcomes per client supplied
// Idempotency-Key so retried requests do not produce duplicate rows.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store when the key is absent or expired.
var ErrNotFound = errors.New("idempotency key not found")

// Store is a TTL key/value store for recorded outcomes.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
