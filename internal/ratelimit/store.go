// Package ratelimit enforces fixed-window request quotas per identity.
//
// Every request is counted against two buckets: one keyed by the caller's
// device token (when present) and one keyed by its client IP. Both must
// allow the request, so rotating tokens does not escape the IP quota.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marks a failure of the shared counter store. The
// limiter treats it as a signal to count the call in-process instead.
var ErrStoreUnavailable = errors.New("rate limit store unavailable")

// Store counts hits per key within fixed windows. Incr must be atomic per
// key: it increments the counter for the window containing now (starting a
// new one if needed) and returns the resulting count and the window's reset
// time.
type Store interface {
	Incr(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
	Name() string
	Close() error
}
