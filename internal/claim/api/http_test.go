package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/events"
	"github.com/clearclaim/agent/internal/shared/types"
)

// stubReprocessor records reprocess calls and returns a scripted error.
type stubReprocessor struct {
	calls []int64
	err   error
}

func (s *stubReprocessor) Reprocess(ctx context.Context, id int64) error {
	s.calls = append(s.calls, id)
	return s.err
}

func seedClaims(t *testing.T, s store.Store) []*claim.Claim {
	t.Helper()
	var claims []*claim.Claim
	for i, status := range []claim.Status{claim.StatusReceived, claim.StatusSubmitted, claim.StatusError} {
		c, err := claim.New(fmt.Sprintf("msg-%d", i+1), "/images/a.jpg", claim.MedicalBill{
			ProviderName: "General Hospital",
			PatientName:  "John Doe",
			ServiceDate:  types.NewDate(2024, 1, 15),
			TotalAmount:  100.00,
			Currency:     "USD",
		})
		if err != nil {
			t.Fatalf("Failed to build claim: %v", err)
		}
		if _, err := s.Insert(context.Background(), c); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if status != claim.StatusReceived {
			if err := s.UpdateStatus(context.Background(), c.ID, status, store.Update{}); err != nil {
				t.Fatalf("UpdateStatus failed: %v", err)
			}
		}
		claims = append(claims, c)
	}
	return claims
}

func doRequest(t *testing.T, h *Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

// TestList tests listing all claims
func TestList(t *testing.T) {
	s := store.NewMemoryStore()
	seedClaims(t, s)
	h := NewHandler(s, &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Claims []*claim.Claim `json:"claims"`
		Count  int            `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Count != 3 || len(resp.Claims) != 3 {
		t.Errorf("Expected 3 claims, got count=%d len=%d", resp.Count, len(resp.Claims))
	}
}

// TestListFilterByStatus tests the status filter
func TestListFilterByStatus(t *testing.T) {
	s := store.NewMemoryStore()
	seedClaims(t, s)
	h := NewHandler(s, &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", "/?status=error")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Claims []*claim.Claim `json:"claims"`
		Count  int            `json:"count"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Count != 1 {
		t.Errorf("Expected 1 errored claim, got %d", resp.Count)
	}
	if len(resp.Claims) == 1 && resp.Claims[0].Status != claim.StatusError {
		t.Errorf("Expected error status, got %s", resp.Claims[0].Status)
	}
}

// TestListInvalidStatus tests rejection of unknown status values
func TestListInvalidStatus(t *testing.T) {
	h := NewHandler(store.NewMemoryStore(), &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", "/?status=frobnicated")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

// TestGet tests fetching a single claim
func TestGet(t *testing.T) {
	s := store.NewMemoryStore()
	claims := seedClaims(t, s)
	h := NewHandler(s, &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", fmt.Sprintf("/%d", claims[0].ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var got claim.Claim
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != claims[0].ID || got.SourceMessageID != "msg-1" {
		t.Errorf("Unexpected claim: %+v", got)
	}
}

// TestGetNotFound tests missing and malformed ids
func TestGetNotFound(t *testing.T) {
	h := NewHandler(store.NewMemoryStore(), &stubReprocessor{}, nil)

	if rec := doRequest(t, h, "GET", "/999"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := doRequest(t, h, "GET", "/banana"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", rec.Code)
	}
}

// TestStats tests the summary endpoint
func TestStats(t *testing.T) {
	s := store.NewMemoryStore()
	seedClaims(t, s)
	h := NewHandler(s, &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var stats claim.Stats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if stats.TotalClaims != 3 {
		t.Errorf("Expected 3 total claims, got %d", stats.TotalClaims)
	}
	if stats.TotalClaimed != 300.00 {
		t.Errorf("Expected 300.00 claimed, got %.2f", stats.TotalClaimed)
	}
}

// stubHistory serves a canned audit trail per claim.
type stubHistory struct {
	trails map[int64][]events.Event
	err    error
}

func (s *stubHistory) History(ctx context.Context, claimID int64) ([]events.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.trails[claimID], nil
}

// TestHistory tests the audit trail endpoint
func TestHistory(t *testing.T) {
	s := store.NewMemoryStore()
	claims := seedClaims(t, s)
	id := claims[1].ID
	hist := &stubHistory{trails: map[int64][]events.Event{
		id: {
			{Type: events.TypeClaimCreated, ClaimID: id, ToStatus: claim.StatusReceived},
			{Type: events.TypeClaimStatusChanged, ClaimID: id, FromStatus: claim.StatusReceived, ToStatus: claim.StatusSubmitted},
		},
	}}
	h := NewHandler(s, &stubReprocessor{}, hist)

	rec := doRequest(t, h, "GET", fmt.Sprintf("/%d/history", id))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		ClaimID int64          `json:"claim_id"`
		Events  []events.Event `json:"events"`
		Count   int            `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.ClaimID != id || resp.Count != 2 || len(resp.Events) != 2 {
		t.Errorf("Expected 2 events for claim %d, got %+v", id, resp)
	}
	if resp.Events[0].Type != events.TypeClaimCreated {
		t.Errorf("Expected creation event first, got %s", resp.Events[0].Type)
	}
	if resp.Events[1].ToStatus != claim.StatusSubmitted {
		t.Errorf("Expected submitted transition, got %s", resp.Events[1].ToStatus)
	}
}

// TestHistoryUnavailable tests the response when no audit trail is configured
func TestHistoryUnavailable(t *testing.T) {
	s := store.NewMemoryStore()
	claims := seedClaims(t, s)
	h := NewHandler(s, &stubReprocessor{}, nil)

	rec := doRequest(t, h, "GET", fmt.Sprintf("/%d/history", claims[0].ID))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", rec.Code)
	}
}

// TestHistoryUnknownClaim tests that the trail of a missing claim is a 404
func TestHistoryUnknownClaim(t *testing.T) {
	h := NewHandler(store.NewMemoryStore(), &stubReprocessor{}, &stubHistory{})

	rec := doRequest(t, h, "GET", "/999/history")
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

// TestReprocess tests the manual retry endpoint
func TestReprocess(t *testing.T) {
	s := store.NewMemoryStore()
	claims := seedClaims(t, s)
	rp := &stubReprocessor{}
	h := NewHandler(s, rp, nil)

	errored := claims[2]
	rec := doRequest(t, h, "POST", fmt.Sprintf("/%d/reprocess", errored.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(rp.calls) != 1 || rp.calls[0] != errored.ID {
		t.Errorf("Expected reprocess called for claim %d, got %v", errored.ID, rp.calls)
	}

	var got claim.Claim
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != errored.ID {
		t.Errorf("Expected refreshed claim %d, got %d", errored.ID, got.ID)
	}
}

// TestReprocessRejected tests that engine refusals surface as conflicts
func TestReprocessRejected(t *testing.T) {
	s := store.NewMemoryStore()
	claims := seedClaims(t, s)
	rp := &stubReprocessor{err: fmt.Errorf("claim %d is submitted, only received or errored claims can be reprocessed", claims[1].ID)}
	h := NewHandler(s, rp, nil)

	rec := doRequest(t, h, "POST", fmt.Sprintf("/%d/reprocess", claims[1].ID))
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", rec.Code)
	}

	var resp map[string]any
	json.NewDecoder(rec.Body).Decode(&resp)
	if msg, _ := resp["error"].(string); msg == "" {
		t.Error("Expected error message in response body")
	}
}
