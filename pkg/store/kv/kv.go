// Package kv defines the shared counter abstraction used by the distributed
// rate limiter. Implementations live in subpackages (redis, memory).
package kv

import (
	"context"
	"time"
)

// Counter is an expiring shared counter. The rate limiter builds
// window-aligned keys, so implementations only need atomic increment with a
// best-effort expiry to garbage-collect dead windows.
type Counter interface {
	// Incr atomically increments key and (re)sets its expiry, returning the
	// post-increment value. Errors indicate backend unavailability; callers
	// decide the failure policy (the rate limiter fails open).
	Incr(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// Healthcheck verifies backend connectivity.
	Healthcheck(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}
