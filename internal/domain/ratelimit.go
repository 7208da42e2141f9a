package domain

import (
	"context"
	"time"
)

type RateLimitDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RateLimiter admits at most limit calls per window for a given key.
// Implementations must fail open only where the caller opts in; the decision
// carries enough state for Retry-After and X-RateLimit-* headers.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateLimitDecision, error)
}
