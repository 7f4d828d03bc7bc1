// Package clinic imports bills directly from partner clinic billing systems.
// Connected clinics expose an invoice table the agent polls; each new
// invoice becomes a claim without a photo ever being sent.
package clinic

import "time"

// Invoice is one billing record read from a clinic system.
type Invoice struct {
	InvoiceID     string
	PatientName   string
	ProviderName  string
	ServiceDate   time.Time
	TotalAmount   float64
	Currency      string
	DiagnosisCode string
	Description   string
	IssuedAt      time.Time
}

// InvoiceHandler receives newly discovered invoices.
type InvoiceHandler func(Invoice)

// Config holds clinic adapter configuration
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Encrypt  bool

	InvoiceTable    string
	ClinicName      string
	PollInterval    time.Duration
	EventBufferSize int
}

// DefaultConfig returns default clinic adapter configuration
func DefaultConfig() Config {
	return Config{
		Port:            1433,
		InvoiceTable:    "dbo.Invoices",
		PollInterval:    15 * time.Minute,
		EventBufferSize: 100,
	}
}
