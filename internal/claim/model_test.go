package claim

import (
	"testing"

	"github.com/clearclaim/agent/internal/shared/types"
)

func validBill() MedicalBill {
	return MedicalBill{
		ProviderName: "General Hospital",
		PatientName:  "John Doe",
		ServiceDate:  types.NewDate(2024, 1, 15),
		TotalAmount:  225.00,
		Currency:     "USD",
	}
}

// TestNew tests creating a new claim
func TestNew(t *testing.T) {
	c, err := New("msg-1", "/images/bill.jpg", validBill())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if c.Status != StatusReceived {
		t.Errorf("Expected status %s, got %s", StatusReceived, c.Status)
	}
	if c.SourceMessageID != "msg-1" {
		t.Errorf("Expected source message id msg-1, got %s", c.SourceMessageID)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("Expected timestamps to be set")
	}
	if c.ExternalClaimNumber != "" {
		t.Errorf("Expected no external claim number, got %s", c.ExternalClaimNumber)
	}
}

// TestNewWithoutImage tests that clinic-sourced claims need no image
func TestNewWithoutImage(t *testing.T) {
	c, err := New("clinic:inv-42", "", validBill())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if c.BillImagePath != "" {
		t.Errorf("Expected empty image path, got %s", c.BillImagePath)
	}
}

// TestNewValidation tests claim creation validation
func TestNewValidation(t *testing.T) {
	if _, err := New("", "/images/bill.jpg", validBill()); err == nil {
		t.Error("Expected error for empty source message id")
	}

	bill := validBill()
	bill.PatientName = ""
	if _, err := New("msg-1", "/images/bill.jpg", bill); err == nil {
		t.Error("Expected error for invalid bill")
	}
}

// TestBillValidate tests bill field validation
func TestBillValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*MedicalBill)
		expectError bool
	}{
		{"Valid bill", func(b *MedicalBill) {}, false},
		{"Missing provider", func(b *MedicalBill) { b.ProviderName = "" }, true},
		{"Missing patient", func(b *MedicalBill) { b.PatientName = "" }, true},
		{"Missing service date", func(b *MedicalBill) { b.ServiceDate = types.Date{} }, true},
		{"Missing currency", func(b *MedicalBill) { b.Currency = "" }, true},
		{"Negative amount", func(b *MedicalBill) { b.TotalAmount = -1 }, true},
		{"Zero amount", func(b *MedicalBill) { b.TotalAmount = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bill := validBill()
			tt.mutate(&bill)
			err := bill.Validate()
			if tt.expectError && err == nil {
				t.Error("Expected validation error, got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

// TestCanTransition tests the lifecycle state machine edges
func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusReceived, StatusProcessing, true},
		{StatusReceived, StatusSubmitted, false},
		{StatusReceived, StatusApproved, false},
		{StatusProcessing, StatusSubmitted, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusApproved, true},
		{StatusSubmitted, StatusApproved, true},
		{StatusSubmitted, StatusRejected, true},
		{StatusSubmitted, StatusPaid, true},
		{StatusSubmitted, StatusProcessing, true},
		{StatusSubmitted, StatusReceived, false},
		{StatusError, StatusProcessing, true},
		{StatusError, StatusSubmitted, false},
		{StatusApproved, StatusRejected, false},
		{StatusPaid, StatusProcessing, false},
		{StatusRejected, StatusSubmitted, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.allowed {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
		}
	}
}

// TestCanTransitionSameStatus tests that no-op transitions are always allowed
func TestCanTransitionSameStatus(t *testing.T) {
	for _, s := range AllStatuses {
		if !CanTransition(s, s) {
			t.Errorf("Expected %s -> %s to be allowed", s, s)
		}
	}
}

// TestTerminal tests terminality of settlement outcomes
func TestTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusReceived:   false,
		StatusProcessing: false,
		StatusSubmitted:  false,
		StatusApproved:   true,
		StatusRejected:   true,
		StatusPaid:       true,
		StatusError:      false,
	}

	for s, want := range terminal {
		if got := s.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, got, want)
		}
	}
}
