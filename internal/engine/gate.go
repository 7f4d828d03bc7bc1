package engine

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of simultaneous in-flight portal operations of one
// kind. Submissions and status checks carry independent gates; the portal
// client's throttle still spaces the individual calls.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates a gate with the given number of slots.
func NewGate(slots int) *Gate {
	if slots < 1 {
		slots = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(slots))}
}

// Acquire claims a slot, blocking until one is free or the context is
// cancelled.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot.
func (g *Gate) Release() {
	g.sem.Release(1)
}
