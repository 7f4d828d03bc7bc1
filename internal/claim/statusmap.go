package claim

import "strings"

// portalStatusMap translates the free-form keywords scraped from the portal
// status page to the internal status model. PROCESSING is the conservative
// default for anything unrecognized so a claim is never dropped into a wrong
// terminal state on the strength of a garbled page.
var portalStatusMap = map[string]Status{
	"approved":   StatusApproved,
	"rejected":   StatusRejected,
	"denied":     StatusRejected,
	"paid":       StatusPaid,
	"processing": StatusProcessing,
	"pending":    StatusProcessing,
	"submitted":  StatusSubmitted,
}

// MapPortalStatus maps an external status keyword onto the internal enum.
// Matching is case-insensitive.
func MapPortalStatus(keyword string) Status {
	if s, ok := portalStatusMap[strings.ToLower(strings.TrimSpace(keyword))]; ok {
		return s
	}
	return StatusProcessing
}

// PortalStatusKeywords returns the recognized keywords in scan order. The
// settlement-bearing outcomes come first so a page mentioning both "paid" and
// "submitted" resolves to the stronger signal.
func PortalStatusKeywords() []string {
	return []string{"approved", "rejected", "denied", "paid", "processing", "pending", "submitted"}
}
