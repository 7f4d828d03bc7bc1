package claim

// Stats is a summary projection over the claim ledger. It is derived and
// read-only; nothing here feeds back into claim state.
type Stats struct {
	TotalClaims        int            `json:"total_claims"`
	CountByStatus      map[Status]int `json:"count_by_status"`
	TotalClaimed       float64        `json:"total_claimed"`
	TotalSettled       float64        `json:"total_settled"`
	AvgProcessingHours float64        `json:"avg_processing_hours"`
	SuccessRate        float64        `json:"success_rate"`
}

// ComputeStats derives summary statistics from a set of claims. Success rate
// counts approved and paid claims against the total; average processing time
// covers terminal claims only.
func ComputeStats(claims []*Claim) Stats {
	stats := Stats{CountByStatus: make(map[Status]int)}
	for _, s := range AllStatuses {
		stats.CountByStatus[s] = 0
	}

	var terminalHours float64
	var terminalCount int
	var successful int

	for _, c := range claims {
		stats.TotalClaims++
		stats.CountByStatus[c.Status]++
		stats.TotalClaimed += c.Bill.TotalAmount
		if c.SettlementAmount != nil {
			stats.TotalSettled += *c.SettlementAmount
		}
		if c.Status.Terminal() {
			terminalHours += c.ProcessingHours()
			terminalCount++
		}
		if c.Status == StatusApproved || c.Status == StatusPaid {
			successful++
		}
	}

	if terminalCount > 0 {
		stats.AvgProcessingHours = terminalHours / float64(terminalCount)
	}
	if stats.TotalClaims > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalClaims) * 100
	}
	return stats
}
