package portal

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// Breaker is a three-state circuit breaker shared across all portal sessions.
// Repeated failures against the portal usually mean maintenance or a layout
// change; hammering it in that state risks IP-level blocking, so the breaker
// refuses calls for a recovery window and then lets a single probe through.
type Breaker struct {
	mu               sync.Mutex
	state            breakerState
	failureCount     int
	failureThreshold int
	recoveryTimeout  time.Duration
	openedAt         time.Time
	now              func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Allow reports whether a portal call may proceed. In the open state it
// returns false until the recovery timeout elapses, then transitions to
// half-open and admits one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// One probe at a time; further callers wait for its outcome.
		return false
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = breakerClosed
	b.failureCount = 0
}

// RecordFailure counts a failure. In half-open state a single failure
// re-opens the circuit immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.state == breakerHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = b.now()
		b.failureCount = 0
	}
}

// Open reports whether the breaker is currently refusing calls.
func (b *Breaker) Open() bool {
	return !b.peekAllow()
}

func (b *Breaker) peekAllow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		return b.now().Sub(b.openedAt) >= b.recoveryTimeout
	case breakerHalfOpen:
		return false
	}
	return false
}
