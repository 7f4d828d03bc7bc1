package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/errors"
)

// MemoryStore is an in-memory Store used in tests and when the agent runs
// without a database. A single mutex serializes writes, which satisfies the
// per-claim single-writer discipline.
type MemoryStore struct {
	mu      sync.RWMutex
	claims  map[int64]*claim.Claim
	byMsgID map[string]int64
	nextID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		claims:  make(map[int64]*claim.Claim),
		byMsgID: make(map[string]int64),
		nextID:  1,
	}
}

// Insert persists a new claim and assigns its id.
func (s *MemoryStore) Insert(ctx context.Context, c *claim.Claim) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byMsgID[c.SourceMessageID]; exists {
		return 0, errors.Conflict("claim with this source message id already exists")
	}

	stored := cloneClaim(c)
	stored.ID = s.nextID
	s.nextID++
	if stored.CreatedAt.IsZero() {
		now := time.Now().UTC()
		stored.CreatedAt = now
		stored.UpdatedAt = now
	}

	s.claims[stored.ID] = stored
	s.byMsgID[stored.SourceMessageID] = stored.ID
	c.ID = stored.ID
	return stored.ID, nil
}

// Get returns a claim by id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*claim.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return nil, errors.NotFound("claim", id)
	}
	return cloneClaim(c), nil
}

// ListByStatus returns claims in the given status, newest-created first.
func (s *MemoryStore) ListByStatus(ctx context.Context, status claim.Status) ([]*claim.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*claim.Claim
	for _, c := range s.claims {
		if c.Status == status {
			result = append(result, cloneClaim(c))
		}
	}
	sortNewestFirst(result)
	return result, nil
}

// ListAll returns every claim, newest-created first.
func (s *MemoryStore) ListAll(ctx context.Context) ([]*claim.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*claim.Claim, 0, len(s.claims))
	for _, c := range s.claims {
		result = append(result, cloneClaim(c))
	}
	sortNewestFirst(result)
	return result, nil
}

// UpdateStatus atomically sets the status and applies the patch.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id int64, status claim.Status, patch Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[id]
	if !ok {
		return errors.NotFound("claim", id)
	}

	if patch.ExternalClaimNumber != nil {
		if c.ExternalClaimNumber != "" && c.ExternalClaimNumber != *patch.ExternalClaimNumber {
			return errors.Validation("external claim number is immutable once set", map[string]string{
				"current":   c.ExternalClaimNumber,
				"attempted": *patch.ExternalClaimNumber,
			})
		}
		c.ExternalClaimNumber = *patch.ExternalClaimNumber
	}
	if patch.ErrorMessage != nil {
		c.ErrorMessage = *patch.ErrorMessage
	} else if patch.ClearError {
		c.ErrorMessage = ""
	}
	if patch.SettlementAmount != nil {
		c.SettlementAmount = patch.SettlementAmount
	}
	if patch.SettlementCurrency != nil {
		c.SettlementCurrency = *patch.SettlementCurrency
	}

	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func sortNewestFirst(claims []*claim.Claim) {
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].CreatedAt.Equal(claims[j].CreatedAt) {
			return claims[i].ID > claims[j].ID
		}
		return claims[i].CreatedAt.After(claims[j].CreatedAt)
	})
}

func cloneClaim(c *claim.Claim) *claim.Claim {
	clone := *c
	if c.Bill.DiagnosisCodes != nil {
		clone.Bill.DiagnosisCodes = append([]string(nil), c.Bill.DiagnosisCodes...)
	}
	if c.Bill.AdditionalInfo != nil {
		clone.Bill.AdditionalInfo = make(map[string]string, len(c.Bill.AdditionalInfo))
		for k, v := range c.Bill.AdditionalInfo {
			clone.Bill.AdditionalInfo[k] = v
		}
	}
	if c.SettlementAmount != nil {
		amount := *c.SettlementAmount
		clone.SettlementAmount = &amount
	}
	return &clone
}
