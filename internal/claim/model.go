package claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/clearclaim/agent/internal/shared/types"
)

// Status is the internal lifecycle status of a claim
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessing Status = "processing"
	StatusSubmitted  Status = "submitted"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusPaid       Status = "paid"
	StatusError      Status = "error"
)

// AllStatuses lists every status, used by exports and stats.
var AllStatuses = []Status{
	StatusReceived,
	StatusProcessing,
	StatusSubmitted,
	StatusApproved,
	StatusRejected,
	StatusPaid,
	StatusError,
}

// Terminal reports whether a claim in this status has reached a settlement
// outcome. ERROR is deliberately not terminal: an errored claim stays visible
// and can be reprocessed manually.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusPaid:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusProcessing, StatusSubmitted,
		StatusApproved, StatusRejected, StatusPaid, StatusError:
		return true
	}
	return false
}

// transitions lists the allowed edges of the lifecycle state machine.
// PROCESSING is reachable from SUBMITTED because the portal may explicitly
// re-report a submitted claim as pending; that is a re-confirmation, not a
// regression.
var transitions = map[Status][]Status{
	StatusReceived:   {StatusProcessing},
	StatusProcessing: {StatusSubmitted, StatusError, StatusApproved, StatusRejected, StatusPaid},
	StatusSubmitted:  {StatusSubmitted, StatusProcessing, StatusApproved, StatusRejected, StatusPaid, StatusError},
	StatusError:      {StatusProcessing},
}

// CanTransition reports whether moving from one status to another follows an
// allowed edge. A no-op transition to the same status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// MedicalBill holds the structured data extracted from one bill photo. It is
// immutable once attached to a claim; corrections require a new claim.
type MedicalBill struct {
	ProviderName         string            `json:"provider_name"`
	PatientName          string            `json:"patient_name"`
	ServiceDate          types.Date        `json:"service_date"`
	TotalAmount          float64           `json:"total_amount"`
	Currency             string            `json:"currency"`
	DiagnosisCodes       []string          `json:"diagnosis_codes"`
	TreatmentDescription string            `json:"treatment_description"`
	ReceiptNumber        string            `json:"receipt_number,omitempty"`
	AdditionalInfo       map[string]string `json:"additional_info,omitempty"`
}

// Validate checks the bill fields required before a claim can be filed.
func (b MedicalBill) Validate() error {
	var missing []string
	if b.ProviderName == "" {
		missing = append(missing, "provider_name")
	}
	if b.PatientName == "" {
		missing = append(missing, "patient_name")
	}
	if b.ServiceDate.IsZero() {
		missing = append(missing, "service_date")
	}
	if b.Currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return fmt.Errorf("medical bill missing fields: %s", strings.Join(missing, ", "))
	}
	if b.TotalAmount < 0 {
		return fmt.Errorf("medical bill amount must not be negative, got %.2f", b.TotalAmount)
	}
	return nil
}

// Claim tracks one medical bill submission through to a settlement outcome.
type Claim struct {
	ID int64 `json:"id"`

	// SourceMessageID is the inbound message that carried the bill photo.
	// It is unique across claims and makes ingestion idempotent.
	SourceMessageID string `json:"source_message_id"`

	// BillImagePath is the stored photo attached to portal submissions.
	BillImagePath string `json:"bill_image_path"`

	Bill   MedicalBill `json:"bill"`
	Status Status      `json:"status"`

	// ExternalClaimNumber is assigned by the portal on submission and never
	// changes afterwards.
	ExternalClaimNumber string `json:"external_claim_number,omitempty"`

	// ErrorMessage is the last error observed for this claim; cleared on
	// successful transitions.
	ErrorMessage string `json:"error_message,omitempty"`

	SettlementAmount   *float64 `json:"settlement_amount,omitempty"`
	SettlementCurrency string   `json:"settlement_currency,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a claim in RECEIVED status, ready for the next submission
// sweep. An empty image path is allowed: claims imported from clinic billing
// systems have no photo.
func New(sourceMessageID, imagePath string, bill MedicalBill) (*Claim, error) {
	if sourceMessageID == "" {
		return nil, fmt.Errorf("source message id is required")
	}
	if err := bill.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Claim{
		SourceMessageID: sourceMessageID,
		BillImagePath:   imagePath,
		Bill:            bill,
		Status:          StatusReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// ProcessingHours returns how long the claim took from creation to its last
// update. Meaningful for terminal claims.
func (c *Claim) ProcessingHours() float64 {
	return c.UpdatedAt.Sub(c.CreatedAt).Hours()
}
