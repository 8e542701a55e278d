// Package cache is a best-effort read-through cache for Hatch logins and
// record bundles. Every operation degrades to a miss or a no-op on error so
// a broken cache never fails a sync cycle.
package cache

import (
	"context"
	"time"
)

// Status is the health of a cache backend as reported on /health.
type Status string

const (
	StatusOK          Status = "ok"
	StatusDisabled    Status = "disabled"
	StatusUnavailable Status = "unavailable"
)

// Cache is a byte-oriented key/value store with per-key TTL.
// Implementations never return errors.
type Cache interface {
	// Get returns the value and true on a hit, or nil and false on a miss,
	// expiry, timeout, or backend error.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value under key for ttl. Failures are logged and dropped.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	// Ping reports backend health.
	Ping(ctx context.Context) Status
}

// Nop is a Cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}
func (Nop) Ping(context.Context) Status { return StatusDisabled }
