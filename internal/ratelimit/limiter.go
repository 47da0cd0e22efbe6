// Package ratelimit enforces per-subscription request budgets. The Limiter
// interface is the extension point: the in-process sliding window can be
// swapped for a shared or networked counter backend without touching the
// Check contract.
package ratelimit

import (
	"context"
	"time"
)

// Result is the verdict for one request.
type Result struct {
	Allowed bool
	// Limit is the budget in effect for the key.
	Limit int
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
	// RetryAfter is how long a denied caller should wait. Zero when
	// Allowed.
	RetryAfter time.Duration
}

// Limiter is consulted once per admitted request.
type Limiter interface {
	// Check records the request against the key's budget if a slot is
	// free, or reports when one opens up. The purge-count-record sequence
	// is atomic per key: two concurrent calls never both take the last
	// slot.
	Check(ctx context.Context, key string) (Result, error)
	// SetBudget installs or replaces the per-minute budget for a key.
	SetBudget(key string, perMinute int)
	// Reset clears the counters and configured budget for a key.
	Reset(key string)
}
