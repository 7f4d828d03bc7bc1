package portal

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Throttle spaces out portal operations. One shared instance covers both
// submissions and status checks: they hit the same origin, and the portal
// publishes no rate limits, so aggressive polling risks IP blocking or
// account lockout. The client acquires it once per attempt, so retried
// attempts keep the same spacing as first attempts.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows one operation per period, with no burst beyond the
// single token.
func NewThrottle(period time.Duration) *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Every(period), 1)}
}

// Wait blocks until the caller may issue a portal operation, or the context
// is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}
