// Package quota enforces per-tenant daily, hourly and concurrent query limits.
package quota

import (
	"context"
	"time"
)

// Counter names one usage counter and when it should expire
type Counter struct {
	Key      string
	ExpireAt time.Time
}

// Store is the shared counter backend. Implementations must apply Increment to
// all counters atomically so concurrent admissions never lose updates.
type Store interface {
	// Increment adds one to every counter, refreshes their expiry and returns the new values in order
	Increment(ctx context.Context, counters ...Counter) ([]int64, error)

	// Decrement subtracts one from every key without going below zero
	Decrement(ctx context.Context, keys ...string) error

	// Get returns current values in order; missing or expired keys read as zero
	Get(ctx context.Context, keys ...string) ([]int64, error)

	Ping(ctx context.Context) error
}
