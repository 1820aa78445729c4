// Package ratelimit implements per-key sliding-window request limits.
package ratelimit

import (
	"context"
	"time"

	"github.com/cesargomez89/stemdeck/internal/domain"
)

// Decision describes the window state after a check.
type Decision struct {
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	Allowed    bool
}

// Limiter admits or rejects a request for key. A rejection returns a
// LimitExceeded error alongside the decision.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

func rejected(d Decision, key string) (Decision, error) {
	return d, domain.LimitExceeded("rate limit of %d requests exceeded for %s", d.Limit, key)
}
