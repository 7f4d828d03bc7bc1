package export

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/types"
)

func seedStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	received, err := claim.New("msg-1", "/images/a.jpg", claim.MedicalBill{
		ProviderName: "General Hospital",
		PatientName:  "John Doe",
		ServiceDate:  types.NewDate(2024, 1, 15),
		TotalAmount:  225.00,
		Currency:     "USD",
	})
	if err != nil {
		t.Fatalf("Failed to build claim: %v", err)
	}
	if _, err := s.Insert(ctx, received); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	approved, err := claim.New("msg-2", "/images/b.jpg", claim.MedicalBill{
		ProviderName: "City Clinic",
		PatientName:  "Jane Roe",
		ServiceDate:  types.NewDate(2024, 2, 1),
		TotalAmount:  120.00,
		Currency:     "USD",
	})
	if err != nil {
		t.Fatalf("Failed to build claim: %v", err)
	}
	if _, err := s.Insert(ctx, approved); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	err = s.UpdateStatus(ctx, approved.ID, claim.StatusApproved, store.Update{
		ExternalClaimNumber: store.String("CL555"),
		SettlementAmount:    store.Float64(96.00),
		SettlementCurrency:  store.String("USD"),
	})
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	return s
}

// TestExportOnce tests a full snapshot run
func TestExportOnce(t *testing.T) {
	dir := t.TempDir()
	e := New(seedStore(t), config.ExportConfig{Dir: dir}, nil)
	e.now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC) }

	if err := e.ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}

	expected := []string{
		"claims_all_20240307_120000.csv",
		"claims_all_latest.csv",
		"claims_received_20240307_120000.csv",
		"claims_received_latest.csv",
		"claims_approved_20240307_120000.csv",
		"claims_approved_latest.csv",
		"summary_20240307_120000.txt",
		"summary_latest.txt",
	}
	for _, name := range expected {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to exist: %v", name, err)
		}
	}

	// No file for statuses with no claims.
	if _, err := os.Stat(filepath.Join(dir, "claims_rejected_latest.csv")); err == nil {
		t.Error("Expected no file for empty status group")
	}
}

// TestExportCSVContent tests record layout
func TestExportCSVContent(t *testing.T) {
	dir := t.TempDir()
	e := New(seedStore(t), config.ExportConfig{Dir: dir}, nil)

	if err := e.ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "claims_all_latest.csv"))
	if err != nil {
		t.Fatalf("Failed to open export: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected header plus 2 rows, got %d records", len(records))
	}
	if records[0][0] != "id" || records[0][2] != "status" {
		t.Errorf("Unexpected header: %v", records[0])
	}

	var approvedRow []string
	for _, row := range records[1:] {
		if row[2] == "approved" {
			approvedRow = row
		}
	}
	if approvedRow == nil {
		t.Fatal("Expected an approved row")
	}
	if approvedRow[3] != "City Clinic" {
		t.Errorf("Expected provider City Clinic, got %s", approvedRow[3])
	}
	if approvedRow[6] != "120.00" {
		t.Errorf("Expected amount 120.00, got %s", approvedRow[6])
	}
	if approvedRow[9] != "CL555" {
		t.Errorf("Expected external number CL555, got %s", approvedRow[9])
	}
	if approvedRow[10] != "96.00" {
		t.Errorf("Expected settlement 96.00, got %s", approvedRow[10])
	}
}

// TestExportSummaryContent tests the report totals
func TestExportSummaryContent(t *testing.T) {
	dir := t.TempDir()
	e := New(seedStore(t), config.ExportConfig{Dir: dir}, nil)

	if err := e.ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "summary_latest.txt"))
	if err != nil {
		t.Fatalf("Failed to read summary: %v", err)
	}
	summary := string(data)

	if !strings.Contains(summary, "Total claims: 2") {
		t.Errorf("Expected total claims 2 in summary:\n%s", summary)
	}
	if !strings.Contains(summary, "Total claimed:  345.00") {
		t.Errorf("Expected total claimed 345.00 in summary:\n%s", summary)
	}
	if !strings.Contains(summary, "Total settled:  96.00") {
		t.Errorf("Expected total settled 96.00 in summary:\n%s", summary)
	}
}

// TestExportEmptyStore tests that an empty book still produces the all-claims
// file and summary
func TestExportEmptyStore(t *testing.T) {
	dir := t.TempDir()
	e := New(store.NewMemoryStore(), config.ExportConfig{Dir: dir}, nil)

	if err := e.ExportOnce(context.Background()); err != nil {
		t.Fatalf("ExportOnce failed: %v", err)
	}

	f, err := os.Open(filepath.Join(dir, "claims_all_latest.csv"))
	if err != nil {
		t.Fatalf("Expected all-claims export: %v", err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Expected header only, got %d records", len(records))
	}
}
