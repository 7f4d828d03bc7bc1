package extract

import "fmt"

// Result is the structured bill data returned by the extraction service.
// Fields the model could not read come back empty and are filled with
// defaults by the caller.
type Result struct {
	ProviderName         string            `json:"provider_name"`
	PatientName          string            `json:"patient_name"`
	ServiceDate          string            `json:"service_date"` // YYYY-MM-DD
	TotalAmount          float64           `json:"total_amount"`
	Currency             string            `json:"currency"`
	DiagnosisCodes       []string          `json:"diagnosis_codes"`
	TreatmentDescription string            `json:"treatment_description"`
	ReceiptNumber        string            `json:"receipt_number"`
	AdditionalInfo       map[string]string `json:"additional_info"`
	Confidence           float64           `json:"confidence"`
}

// ExtractionError indicates the service responded but could not produce a
// usable result for this image.
type ExtractionError struct {
	StatusCode int
	Message    string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (status %d): %s", e.StatusCode, e.Message)
}
