package portal

import (
	"context"
	"time"

	"github.com/clearclaim/agent/internal/shared/config"
)

// RetryPolicy retries an operation with exponential backoff. It is an
// explicit collaborator injected into the session adapter, not ambient
// wrapping, so tests can drive it with tiny delays.
type RetryPolicy struct {
	// MaxAttempts includes the first try
	MaxAttempts int
	// InitialDelay is the backoff before the second attempt
	InitialDelay time.Duration
	// MaxDelay caps the backoff
	MaxDelay time.Duration
	// Factor multiplies the delay after each failure
	Factor float64
	// Retryable decides whether an error is worth another attempt.
	// Defaults to IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used against the live portal.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Factor:       2.0,
		Retryable:    IsRetryable,
	}
}

// RetryPolicyFromConfig builds a policy from portal configuration, keeping
// the default cap and growth factor.
func RetryPolicyFromConfig(cfg config.PortalConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.RetryMaxAttempts > 0 {
		p.MaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryInitialDelay > 0 {
		p.InitialDelay = cfg.RetryInitialDelay
	}
	return p
}

// Do runs fn until it succeeds, a non-retryable error occurs, attempts run
// out, or the context is cancelled.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !retryable(lastErr) {
			return lastErr
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * p.Factor)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}
