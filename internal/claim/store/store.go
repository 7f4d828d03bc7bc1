// Package store holds the durable claim ledger. Writes to a single claim are
// serialized so concurrent sweep workers cannot lose updates.
package store

import (
	"context"

	"github.com/clearclaim/agent/internal/claim"
)

// Update is a partial patch applied together with a status change. Nil
// pointer fields are left unchanged. ErrorMessage is the exception: success
// paths must set ClearError so a stale error from a prior failed attempt does
// not persist and mislead readers.
type Update struct {
	ExternalClaimNumber *string
	ErrorMessage        *string
	ClearError          bool
	SettlementAmount    *float64
	SettlementCurrency  *string
}

// Store is the data access contract for claims. Implementations must be safe
// for concurrent use.
type Store interface {
	// Insert persists a new claim and assigns its id. A duplicate source
	// message id fails with a conflict error and leaves the original intact.
	Insert(ctx context.Context, c *claim.Claim) (int64, error)

	// Get returns a claim by id, or a not-found error.
	Get(ctx context.Context, id int64) (*claim.Claim, error)

	// ListByStatus returns claims in the given status, newest-created first.
	ListByStatus(ctx context.Context, status claim.Status) ([]*claim.Claim, error)

	// ListAll returns every claim, newest-created first.
	ListAll(ctx context.Context) ([]*claim.Claim, error)

	// UpdateStatus atomically sets the status, refreshes updated_at, and
	// applies the patch. An attempt to change an already-set external claim
	// number to a different value fails validation: the number is immutable
	// once assigned.
	UpdateStatus(ctx context.Context, id int64, status claim.Status, patch Update) error
}

// String is a convenience for building Update pointer fields.
func String(s string) *string { return &s }

// Float64 is a convenience for building Update pointer fields.
func Float64(f float64) *float64 { return &f }
