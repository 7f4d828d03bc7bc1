// Package extract talks to the bill extraction service, which runs the
// vision model that turns a bill photo into structured fields.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/types"
)

// Client provides bill data extraction
type Client struct {
	baseURL    string
	httpClient *http.Client
	enabled    bool
}

// NewClient creates a new extraction client
func NewClient(cfg config.ExtractConfig) *Client {
	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		enabled: cfg.Enabled,
	}
}

// Enabled reports whether the service is configured. When disabled, ingestion
// stores claims with placeholder bill data for manual completion.
func (c *Client) Enabled() bool { return c.enabled }

// ExtractBill reads the image at imagePath and asks the service for the
// structured bill fields.
func (c *Client) ExtractBill(ctx context.Context, imagePath string) (claim.MedicalBill, error) {
	if !c.enabled {
		return claim.MedicalBill{}, fmt.Errorf("extraction service is disabled")
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return claim.MedicalBill{}, fmt.Errorf("failed to read bill image: %w", err)
	}

	reqBody, err := json.Marshal(map[string]any{
		"image":      base64.StdEncoding.EncodeToString(data),
		"media_type": mediaType(imagePath),
	})
	if err != nil {
		return claim.MedicalBill{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/extract", bytes.NewReader(reqBody))
	if err != nil {
		return claim.MedicalBill{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return claim.MedicalBill{}, fmt.Errorf("extraction service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return claim.MedicalBill{}, &ExtractionError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return claim.MedicalBill{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return toBill(result)
}

// Health checks the extraction service connection
func (c *Client) Health(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extraction service health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// toBill converts a raw extraction result into a validated bill, applying
// the same defaults the extraction service promises for unreadable fields.
func toBill(r Result) (claim.MedicalBill, error) {
	bill := claim.MedicalBill{
		ProviderName:         strings.TrimSpace(r.ProviderName),
		PatientName:          strings.TrimSpace(r.PatientName),
		TotalAmount:          r.TotalAmount,
		Currency:             strings.ToUpper(strings.TrimSpace(r.Currency)),
		DiagnosisCodes:       r.DiagnosisCodes,
		TreatmentDescription: strings.TrimSpace(r.TreatmentDescription),
		ReceiptNumber:        strings.TrimSpace(r.ReceiptNumber),
		AdditionalInfo:       r.AdditionalInfo,
	}
	if bill.ProviderName == "" {
		bill.ProviderName = "Unknown Provider"
	}
	if bill.PatientName == "" {
		bill.PatientName = "Unknown Patient"
	}
	if bill.Currency == "" {
		bill.Currency = "USD"
	}

	if r.ServiceDate != "" {
		d, err := types.ParseDate(r.ServiceDate)
		if err != nil {
			return claim.MedicalBill{}, fmt.Errorf("extraction returned invalid service date %q: %w", r.ServiceDate, err)
		}
		bill.ServiceDate = d
	}
	if bill.ServiceDate.IsZero() {
		bill.ServiceDate = types.DateOf(time.Now())
	}

	if err := bill.Validate(); err != nil {
		return claim.MedicalBill{}, err
	}
	return bill, nil
}

func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
