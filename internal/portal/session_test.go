package portal

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/types"
)

// fakeDriver is a scripted driver. PageText returns the scripted pages in
// order, sticking on the last one, and every interaction is recorded.
type fakeDriver struct {
	pages    []string
	pageIdx  int
	fillErr  map[string]error
	clickErr map[string]error
	fills    map[string]string
	clicks   []string
	uploads  []string
	closed   bool
}

func newFakeDriver(pages ...string) *fakeDriver {
	return &fakeDriver{pages: pages, fills: make(map[string]string)}
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error { return nil }

func (d *fakeDriver) Fill(ctx context.Context, target Target, value string) error {
	if err := d.fillErr[target.Name]; err != nil {
		return err
	}
	d.fills[target.Name] = value
	return nil
}

func (d *fakeDriver) Click(ctx context.Context, target Target) error {
	if err := d.clickErr[target.Name]; err != nil {
		return err
	}
	d.clicks = append(d.clicks, target.Name)
	return nil
}

func (d *fakeDriver) Upload(ctx context.Context, target Target, path string) error {
	d.uploads = append(d.uploads, path)
	return nil
}

func (d *fakeDriver) PageText(ctx context.Context) (string, error) {
	if len(d.pages) == 0 {
		return "", nil
	}
	text := d.pages[d.pageIdx]
	if d.pageIdx < len(d.pages)-1 {
		d.pageIdx++
	}
	return text, nil
}

func (d *fakeDriver) Close(ctx context.Context) error {
	d.closed = true
	return nil
}

// scriptedFactory hands out pre-built drivers, one per session, recording
// when each session was opened.
type scriptedFactory struct {
	drivers   []*fakeDriver
	opened    int
	openTimes []time.Time
}

func (f *scriptedFactory) factory(ctx context.Context) (Driver, error) {
	f.openTimes = append(f.openTimes, time.Now())
	if f.opened >= len(f.drivers) {
		return nil, errors.New("no more scripted sessions")
	}
	d := f.drivers[f.opened]
	f.opened++
	return d, nil
}

func testPortalConfig() config.PortalConfig {
	return config.PortalConfig{
		BaseURL:        "https://portal.test",
		Username:       "agent",
		Password:       "secret",
		ElementWait:    time.Millisecond,
		RequestTimeout: time.Second,
	}
}

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Factor: 2.0}
}

func testBill() claim.MedicalBill {
	return claim.MedicalBill{
		ProviderName:         "General Hospital",
		PatientName:          "John Doe",
		ServiceDate:          types.NewDate(2024, 1, 15),
		TotalAmount:          225.00,
		Currency:             "USD",
		TreatmentDescription: "Consultation",
	}
}

// TestSubmitSuccess tests the happy path through login, form fill, upload and
// confirmation parsing
func TestSubmitSuccess(t *testing.T) {
	driver := newFakeDriver(
		"Welcome to your dashboard",
		"Thank you! Claim #ABC123 has been filed.",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{driver}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, log.New(log.Writer(), "", 0))

	number, err := c.Submit(context.Background(), testBill(), "/images/bill.jpg")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if number != "ABC123" {
		t.Errorf("Expected ABC123, got %s", number)
	}
	if driver.fills["username"] != "agent" || driver.fills["password"] != "secret" {
		t.Error("Expected credentials filled during login")
	}
	if driver.fills["patient_name"] != "John Doe" {
		t.Errorf("Expected patient filled, got %q", driver.fills["patient_name"])
	}
	if len(driver.uploads) != 1 || driver.uploads[0] != "/images/bill.jpg" {
		t.Errorf("Expected bill image uploaded, got %v", driver.uploads)
	}
	if !driver.closed {
		t.Error("Expected session closed")
	}
}

// TestSubmitWithoutImage tests that claims without a bill photo skip the upload
func TestSubmitWithoutImage(t *testing.T) {
	driver := newFakeDriver(
		"Welcome to your dashboard",
		"Claim #NOIMG1 filed",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{driver}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)

	number, err := c.Submit(context.Background(), testBill(), "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if number != "NOIMG1" {
		t.Errorf("Expected NOIMG1, got %s", number)
	}
	if len(driver.uploads) != 0 {
		t.Errorf("Expected no upload without an image, got %v", driver.uploads)
	}
}

// TestSubmitFallbackNumber tests the synthesized number when the confirmation
// page shows nothing recognizable
func TestSubmitFallbackNumber(t *testing.T) {
	driver := newFakeDriver(
		"Welcome to your dashboard",
		"Thank you for your submission.",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{driver}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)
	c.now = func() time.Time { return time.Date(2024, 3, 7, 14, 30, 25, 0, time.UTC) }

	number, err := c.Submit(context.Background(), testBill(), "/images/bill.jpg")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if number != "CL20240307143025" {
		t.Errorf("Expected fallback CL20240307143025, got %s", number)
	}
}

// TestSubmitLoginFailed tests that a credential rejection fails fast without
// retrying
func TestSubmitLoginFailed(t *testing.T) {
	driver := newFakeDriver("Invalid username or password")
	f := &scriptedFactory{
		drivers: []*fakeDriver{driver, newFakeDriver(""), newFakeDriver("")},
	}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)

	_, err := c.Submit(context.Background(), testBill(), "/images/bill.jpg")
	if !errors.Is(err, ErrLoginFailed) {
		t.Fatalf("Expected login failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "invalid") {
		t.Errorf("Expected rejection reason in error, got %v", err)
	}
	if f.opened != 1 {
		t.Errorf("Expected no retry on login failure, opened %d sessions", f.opened)
	}
	if !driver.closed {
		t.Error("Expected failed session closed")
	}
}

// TestSubmitRetriesAfterSessionExpiry tests that a mid-operation logout gets a
// fresh session and login
func TestSubmitRetriesAfterSessionExpiry(t *testing.T) {
	expired := newFakeDriver(
		"Welcome to your dashboard",
		"Session expired. Please log in again.",
	)
	fresh := newFakeDriver(
		"Welcome to your dashboard",
		"Claim #RETRY99 filed",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{expired, fresh}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)

	number, err := c.Submit(context.Background(), testBill(), "/images/bill.jpg")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if number != "RETRY99" {
		t.Errorf("Expected RETRY99 from second session, got %s", number)
	}
	if f.opened != 2 {
		t.Errorf("Expected 2 sessions, got %d", f.opened)
	}
	if !expired.closed || !fresh.closed {
		t.Error("Expected both sessions closed")
	}
	if fresh.fills["username"] != "agent" {
		t.Error("Expected a fresh login on the retried session")
	}
}

// TestThrottleSpacesRetriedAttempts tests that every attempt acquires the
// shared throttle, so a retry keeps the configured spacing instead of
// re-contacting the portal after only the backoff delay
func TestThrottleSpacesRetriedAttempts(t *testing.T) {
	f := &scriptedFactory{drivers: []*fakeDriver{
		newFakeDriver("Welcome to your dashboard", "Session expired. Please log in again."),
		newFakeDriver("Welcome to your dashboard", "Session expired. Please log in again."),
		newFakeDriver("Welcome to your dashboard", "Claim #SPACED1 filed"),
	}}
	const period = 40 * time.Millisecond
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), NewThrottle(period), nil)

	number, err := c.Submit(context.Background(), testBill(), "")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if number != "SPACED1" {
		t.Errorf("Expected SPACED1, got %s", number)
	}
	if f.opened != 3 {
		t.Fatalf("Expected 3 attempts, got %d", f.opened)
	}
	for i := 1; i < len(f.openTimes); i++ {
		gap := f.openTimes[i].Sub(f.openTimes[i-1])
		if gap < period-10*time.Millisecond {
			t.Errorf("Attempt %d came %s after attempt %d, want at least %s", i+1, gap, i, period)
		}
	}
}

// TestCheckStatus tests the status lookup flow
func TestCheckStatus(t *testing.T) {
	driver := newFakeDriver(
		"Welcome to your dashboard",
		"Claim ABC123 approved. Settled: USD 180.50",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{driver}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)

	report, err := c.CheckStatus(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if report.Keyword != "approved" {
		t.Errorf("Expected approved, got %q", report.Keyword)
	}
	if report.SettlementAmount == nil || *report.SettlementAmount != 180.50 {
		t.Error("Expected settlement amount 180.50")
	}
	if driver.fills["claim_search"] != "ABC123" {
		t.Errorf("Expected claim number searched, got %q", driver.fills["claim_search"])
	}
}

// TestCheckStatusUnknown tests that an unrecognizable page yields an explicit
// unknown report, not an error
func TestCheckStatusUnknown(t *testing.T) {
	driver := newFakeDriver(
		"Welcome to your dashboard",
		"No results found for that number.",
	)
	f := &scriptedFactory{drivers: []*fakeDriver{driver}}
	c := NewClient(testPortalConfig(), f.factory, nil, testRetryPolicy(), nil, nil)

	report, err := c.CheckStatus(context.Background(), "MISSING1")
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !report.Unknown {
		t.Error("Expected unknown report")
	}
}

// TestCircuitOpenRefusesCalls tests that an open breaker blocks operations
// before any session opens
func TestCircuitOpenRefusesCalls(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	b.RecordFailure()

	f := &scriptedFactory{}
	c := NewClient(testPortalConfig(), f.factory, b, testRetryPolicy(), nil, nil)

	_, err := c.Submit(context.Background(), testBill(), "/images/bill.jpg")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected circuit open error, got %v", err)
	}
	if f.opened != 0 {
		t.Errorf("Expected no session opened, got %d", f.opened)
	}
}

// TestBreakerRecordsOutcomes tests that operation results drive the breaker
func TestBreakerRecordsOutcomes(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	fail := &scriptedFactory{} // empty: open_session fails every attempt
	c := NewClient(testPortalConfig(), fail.factory, b, RetryPolicy{MaxAttempts: 1}, nil, nil)

	c.Submit(context.Background(), testBill(), "")
	if b.Open() {
		t.Fatal("Expected breaker still closed after one failure")
	}
	c.Submit(context.Background(), testBill(), "")
	if !b.Open() {
		t.Error("Expected breaker open after reaching threshold")
	}
}
