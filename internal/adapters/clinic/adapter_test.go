package clinic

import (
	"testing"
	"time"
)

// TestDefaultConfig tests the baseline adapter settings overrides build on
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 1433 {
		t.Errorf("Expected SQL Server default port, got %d", cfg.Port)
	}
	if cfg.InvoiceTable != "dbo.Invoices" {
		t.Errorf("Expected default invoice table, got %q", cfg.InvoiceTable)
	}
	if cfg.PollInterval != 15*time.Minute {
		t.Errorf("Expected 15m poll interval, got %s", cfg.PollInterval)
	}
	if cfg.EventBufferSize <= 0 {
		t.Errorf("Expected a positive event buffer, got %d", cfg.EventBufferSize)
	}
}

// TestClinicName tests that the adapter reports its configured clinic
func TestClinicName(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ClinicName = "Sunrise Clinic"
	a := New(cfg)
	if a.ClinicName() != "Sunrise Clinic" {
		t.Errorf("Expected Sunrise Clinic, got %q", a.ClinicName())
	}
}
