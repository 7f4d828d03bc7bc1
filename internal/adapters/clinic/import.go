package clinic

import (
	"context"
	"log"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/errors"
	"github.com/clearclaim/agent/internal/shared/metrics"
	"github.com/clearclaim/agent/internal/shared/types"
)

// Importer converts clinic invoices into claims. The invoice ID doubles as
// the source message ID, so re-polling the same invoice never duplicates a
// claim.
type Importer struct {
	store  store.Store
	clinic string
	logger *log.Logger
}

// NewImporter creates an invoice importer
func NewImporter(s store.Store, clinicName string, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Default()
	}
	return &Importer{store: s, clinic: clinicName, logger: logger}
}

// HandleInvoice creates a RECEIVED claim from one invoice.
func (im *Importer) HandleInvoice(ctx context.Context, inv Invoice) {
	bill := claim.MedicalBill{
		ProviderName:         inv.ProviderName,
		PatientName:          inv.PatientName,
		ServiceDate:          types.DateOf(inv.ServiceDate),
		TotalAmount:          inv.TotalAmount,
		Currency:             inv.Currency,
		TreatmentDescription: inv.Description,
	}
	if bill.ProviderName == "" {
		bill.ProviderName = im.clinic
	}
	if bill.Currency == "" {
		bill.Currency = "USD"
	}
	if inv.DiagnosisCode != "" {
		bill.DiagnosisCodes = []string{inv.DiagnosisCode}
	}

	c, err := claim.New("clinic:"+inv.InvoiceID, "", bill)
	if err != nil {
		im.logger.Printf("clinic: invoice %s is not claimable: %v", inv.InvoiceID, err)
		return
	}
	if _, err := im.store.Insert(ctx, c); err != nil {
		if errors.IsConflict(err) {
			return
		}
		im.logger.Printf("clinic: failed to import invoice %s: %v", inv.InvoiceID, err)
		return
	}

	metrics.ClaimCreated("clinic")
	im.logger.Printf("clinic: imported invoice %s as claim %d", inv.InvoiceID, c.ID)
}
