package claim

import (
	"testing"
	"time"
)

func claimWith(status Status, amount float64, settled *float64, hours float64) *Claim {
	now := time.Now().UTC()
	bill := validBill()
	bill.TotalAmount = amount
	return &Claim{
		Bill:             bill,
		Status:           status,
		SettlementAmount: settled,
		CreatedAt:        now.Add(-time.Duration(hours * float64(time.Hour))),
		UpdatedAt:        now,
	}
}

// TestComputeStats tests the summary projection
func TestComputeStats(t *testing.T) {
	settled := 180.0
	claims := []*Claim{
		claimWith(StatusApproved, 200, &settled, 24),
		claimWith(StatusPaid, 100, &settled, 48),
		claimWith(StatusRejected, 50, nil, 12),
		claimWith(StatusSubmitted, 75, nil, 1),
		claimWith(StatusError, 25, nil, 1),
	}

	stats := ComputeStats(claims)

	if stats.TotalClaims != 5 {
		t.Errorf("Expected 5 total claims, got %d", stats.TotalClaims)
	}
	if stats.CountByStatus[StatusApproved] != 1 {
		t.Errorf("Expected 1 approved, got %d", stats.CountByStatus[StatusApproved])
	}
	if stats.CountByStatus[StatusReceived] != 0 {
		t.Errorf("Expected 0 received, got %d", stats.CountByStatus[StatusReceived])
	}
	if stats.TotalClaimed != 450 {
		t.Errorf("Expected total claimed 450, got %.2f", stats.TotalClaimed)
	}
	if stats.TotalSettled != 360 {
		t.Errorf("Expected total settled 360, got %.2f", stats.TotalSettled)
	}

	// Success rate counts approved and paid against all claims.
	if stats.SuccessRate != 40 {
		t.Errorf("Expected success rate 40, got %.1f", stats.SuccessRate)
	}

	// Average processing covers terminal claims only: (24+48+12)/3.
	if stats.AvgProcessingHours < 27.9 || stats.AvgProcessingHours > 28.1 {
		t.Errorf("Expected avg processing ~28h, got %.2f", stats.AvgProcessingHours)
	}
}

// TestComputeStatsEmpty tests stats over no claims
func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)

	if stats.TotalClaims != 0 {
		t.Errorf("Expected 0 claims, got %d", stats.TotalClaims)
	}
	if stats.SuccessRate != 0 {
		t.Errorf("Expected 0 success rate, got %.1f", stats.SuccessRate)
	}
	if stats.AvgProcessingHours != 0 {
		t.Errorf("Expected 0 avg hours, got %.1f", stats.AvgProcessingHours)
	}
	if len(stats.CountByStatus) != len(AllStatuses) {
		t.Errorf("Expected all statuses present in counts, got %d", len(stats.CountByStatus))
	}
}
