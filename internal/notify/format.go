package notify

import (
	"fmt"
	"strings"

	"github.com/clearclaim/agent/internal/claim"
)

// FormatConfirmation builds the message sent right after a bill photo is
// accepted and a claim record created.
func FormatConfirmation(c *claim.Claim) string {
	var b strings.Builder
	b.WriteString("Your medical bill has been received and a claim has been created.\n\n")
	fmt.Fprintf(&b, "Claim ID: %d\n", c.ID)
	fmt.Fprintf(&b, "Provider: %s\n", c.Bill.ProviderName)
	fmt.Fprintf(&b, "Patient: %s\n", c.Bill.PatientName)
	fmt.Fprintf(&b, "Service date: %s\n", c.Bill.ServiceDate)
	fmt.Fprintf(&b, "Amount: %.2f %s\n", c.Bill.TotalAmount, c.Bill.Currency)
	if c.Bill.TreatmentDescription != "" {
		fmt.Fprintf(&b, "Treatment: %s\n", c.Bill.TreatmentDescription)
	}
	b.WriteString("\nWe will file it with your insurer shortly. ")
	fmt.Fprintf(&b, "Reply STATUS %d at any time to check progress.", c.ID)
	return b.String()
}

// FormatStatusUpdate builds the message sent when a claim changes status.
func FormatStatusUpdate(c *claim.Claim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update on claim %d: %s\n", c.ID, statusLabel(c.Status))
	if c.ExternalClaimNumber != "" {
		fmt.Fprintf(&b, "Insurer claim number: %s\n", c.ExternalClaimNumber)
	}
	if c.SettlementAmount != nil {
		currency := c.SettlementCurrency
		if currency == "" {
			currency = c.Bill.Currency
		}
		fmt.Fprintf(&b, "Settlement: %.2f %s\n", *c.SettlementAmount, currency)
	}
	if c.Status == claim.StatusError && c.ErrorMessage != "" {
		fmt.Fprintf(&b, "Problem: %s\n", c.ErrorMessage)
	}
	fmt.Fprintf(&b, "Last updated: %s", c.UpdatedAt.Format("2006-01-02 15:04"))
	return b.String()
}

func statusLabel(s claim.Status) string {
	switch s {
	case claim.StatusReceived:
		return "Received"
	case claim.StatusProcessing:
		return "Being processed"
	case claim.StatusSubmitted:
		return "Submitted to insurer"
	case claim.StatusApproved:
		return "Approved"
	case claim.StatusRejected:
		return "Rejected"
	case claim.StatusPaid:
		return "Paid"
	case claim.StatusError:
		return "Needs attention"
	default:
		return string(s)
	}
}
