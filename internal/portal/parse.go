package portal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/clearclaim/agent/internal/claim"
)

// claimNumberPatterns are tried in priority order against the confirmation
// page text; first match wins.
var claimNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)Claim\s*#?:?\s*([A-Z0-9]+)`),
	regexp.MustCompile(`(?i)Reference\s*#?:?\s*([A-Z0-9]+)`),
	regexp.MustCompile(`(?i)Confirmation\s*#?:?\s*([A-Z0-9]+)`),
}

// parseClaimNumber extracts a claim, reference, or confirmation number from
// page text.
func parseClaimNumber(pageText string) (string, bool) {
	for _, pattern := range claimNumberPatterns {
		if match := pattern.FindStringSubmatch(pageText); match != nil {
			return match[1], true
		}
	}
	return "", false
}

// fallbackClaimNumber synthesizes a tracking handle when the portal shows no
// recognizable number. Second resolution keeps it unique enough across a
// throttled submission stream, and the claim is never left untrackable.
func fallbackClaimNumber(now time.Time) string {
	return fmt.Sprintf("CL%s", now.Format("20060102150405"))
}

// StatusReport is the raw outcome of a status check.
type StatusReport struct {
	// Keyword is the recognized status keyword, empty if Unknown
	Keyword string
	// Unknown is set when no recognizable status appeared on the page
	Unknown bool
	// SettlementAmount and SettlementCurrency are populated only when the
	// status page shows a settled amount alongside an approval or payment.
	SettlementAmount   *float64
	SettlementCurrency string
	// CheckedAt is when the page was scanned
	CheckedAt time.Time
}

// settlementPattern matches lines like "Settled: USD 212.50" or
// "Settlement amount USD212.50".
var settlementPattern = regexp.MustCompile(`(?i)Settle(?:d|ment)(?:\s*amount)?\s*:?\s*([A-Z]{3})\s*([0-9]+(?:\.[0-9]+)?)`)

// parseSettlement extracts a settlement amount and currency from page text.
func parseSettlement(pageText string) (float64, string, bool) {
	match := settlementPattern.FindStringSubmatch(pageText)
	if match == nil {
		return 0, "", false
	}
	amount, err := strconv.ParseFloat(match[2], 64)
	if err != nil {
		return 0, "", false
	}
	return amount, strings.ToUpper(match[1]), true
}

// scanStatus finds the first recognized status keyword in page text. A page
// with nothing recognizable yields an explicit unknown signal rather than a
// guess.
func scanStatus(pageText string, now time.Time) StatusReport {
	lower := strings.ToLower(pageText)
	for _, keyword := range claim.PortalStatusKeywords() {
		if strings.Contains(lower, keyword) {
			report := StatusReport{Keyword: keyword, CheckedAt: now}
			mapped := claim.MapPortalStatus(keyword)
			if mapped == claim.StatusApproved || mapped == claim.StatusPaid {
				if amount, currency, ok := parseSettlement(pageText); ok {
					report.SettlementAmount = &amount
					report.SettlementCurrency = currency
				}
			}
			return report
		}
	}
	return StatusReport{Unknown: true, CheckedAt: now}
}
