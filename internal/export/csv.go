// Package export writes periodic CSV snapshots of the claim book plus a
// summary report, for reconciliation and accounting outside the agent.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/metrics"
)

var csvHeader = []string{
	"id", "source_message_id", "status", "provider_name", "patient_name",
	"service_date", "total_amount", "currency", "receipt_number",
	"external_claim_number", "settlement_amount", "settlement_currency",
	"error_message", "created_at", "updated_at",
}

// Exporter writes claim snapshots on a fixed interval.
type Exporter struct {
	store  store.Store
	cfg    config.ExportConfig
	logger *log.Logger
	now    func() time.Time
}

// New creates an exporter
func New(s store.Store, cfg config.ExportConfig, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Default()
	}
	return &Exporter{store: s, cfg: cfg, logger: logger, now: time.Now}
}

// Run exports on the configured interval until the context is cancelled.
// An export failure backs off for the cooldown and resumes.
func (e *Exporter) Run(ctx context.Context) {
	e.logger.Printf("export: started, interval %s, dir %s", e.cfg.Interval, e.cfg.Dir)

	for {
		wait := e.cfg.Interval
		if err := e.ExportOnce(ctx); err != nil {
			metrics.ExportRun("error")
			e.logger.Printf("export: run failed, backing off %s: %v", e.cfg.Cooldown, err)
			wait = e.cfg.Cooldown
		} else {
			metrics.ExportRun("ok")
		}

		select {
		case <-ctx.Done():
			e.logger.Printf("export: stopped")
			return
		case <-time.After(wait):
		}
	}
}

// ExportOnce writes one full snapshot: the all-claims CSV, one CSV per
// non-empty status, and the summary report. Each file also gets a stable
// "_latest" copy that downstream tooling can watch.
func (e *Exporter) ExportOnce(ctx context.Context) error {
	claims, err := e.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list claims: %w", err)
	}

	if err := os.MkdirAll(e.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	stamp := e.now().Format("20060102_150405")

	if err := e.writeClaims(fmt.Sprintf("claims_all_%s.csv", stamp), "claims_all_latest.csv", claims); err != nil {
		return err
	}

	byStatus := make(map[claim.Status][]*claim.Claim)
	for _, c := range claims {
		byStatus[c.Status] = append(byStatus[c.Status], c)
	}
	for _, status := range claim.AllStatuses {
		group := byStatus[status]
		if len(group) == 0 {
			continue
		}
		name := fmt.Sprintf("claims_%s_%s.csv", status, stamp)
		latest := fmt.Sprintf("claims_%s_latest.csv", status)
		if err := e.writeClaims(name, latest, group); err != nil {
			return err
		}
	}

	if err := e.writeSummary(fmt.Sprintf("summary_%s.txt", stamp), "summary_latest.txt", claims); err != nil {
		return err
	}

	e.logger.Printf("export: wrote snapshot of %d claims", len(claims))
	return nil
}

func (e *Exporter) writeClaims(name, latestName string, claims []*claim.Claim) error {
	path := filepath.Join(e.cfg.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		return err
	}
	for _, c := range claims {
		if err := w.Write(claimRecord(c)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	return e.copyLatest(path, latestName)
}

func claimRecord(c *claim.Claim) []string {
	settlement := ""
	if c.SettlementAmount != nil {
		settlement = strconv.FormatFloat(*c.SettlementAmount, 'f', 2, 64)
	}
	return []string{
		strconv.FormatInt(c.ID, 10),
		c.SourceMessageID,
		string(c.Status),
		c.Bill.ProviderName,
		c.Bill.PatientName,
		c.Bill.ServiceDate.String(),
		strconv.FormatFloat(c.Bill.TotalAmount, 'f', 2, 64),
		c.Bill.Currency,
		c.Bill.ReceiptNumber,
		c.ExternalClaimNumber,
		settlement,
		c.SettlementCurrency,
		c.ErrorMessage,
		c.CreatedAt.Format(time.RFC3339),
		c.UpdatedAt.Format(time.RFC3339),
	}
}

func (e *Exporter) writeSummary(name, latestName string, claims []*claim.Claim) error {
	stats := claim.ComputeStats(claims)

	var b strings.Builder
	fmt.Fprintf(&b, "Claim summary generated at %s\n\n", e.now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Total claims: %d\n\n", stats.TotalClaims)
	for _, status := range claim.AllStatuses {
		fmt.Fprintf(&b, "%-12s %d\n", status, stats.CountByStatus[status])
	}
	fmt.Fprintf(&b, "\nTotal claimed:  %.2f\n", stats.TotalClaimed)
	fmt.Fprintf(&b, "Total settled:  %.2f\n", stats.TotalSettled)
	fmt.Fprintf(&b, "Avg processing: %.1f hours\n", stats.AvgProcessingHours)
	fmt.Fprintf(&b, "Success rate:   %.1f%%\n", stats.SuccessRate)

	path := filepath.Join(e.cfg.Dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return e.copyLatest(path, latestName)
}

func (e *Exporter) copyLatest(src, latestName string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(filepath.Join(e.cfg.Dir, latestName))
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
