// Package cache provides the ephemeral key/value layer that sits in front of
// the catalog on the search path. Values are opaque byte slices with a
// time-to-live; encoding is the caller's concern.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps transport failures talking to the cache backend. A
// miss is never an error.
var ErrUnavailable = errors.New("cache unavailable")

// Cache is an expiring byte store.
type Cache interface {
	// Get returns the value stored under key. ok is false on a miss or when
	// the entry has expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key for ttl. A non-positive ttl stores the value
	// without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}
