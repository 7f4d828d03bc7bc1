package portal

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/config"
	"github.com/clearclaim/agent/internal/shared/metrics"
)

// Client is the session adapter for the insurer portal. Each top-level
// operation opens a fresh driver session, logs in, does its work, and closes
// the session on every exit path. Concurrent operations therefore never share
// portal state; only the circuit breaker and the throttle are shared.
type Client struct {
	cfg      config.PortalConfig
	factory  DriverFactory
	breaker  *Breaker
	retry    RetryPolicy
	throttle *Throttle
	logger   *log.Logger
	now      func() time.Time
}

// NewClient creates a portal client around a driver factory. throttle may be
// nil, in which case operations are not rate limited.
func NewClient(cfg config.PortalConfig, factory DriverFactory, breaker *Breaker, retry RetryPolicy, throttle *Throttle, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		cfg:      cfg,
		factory:  factory,
		breaker:  breaker,
		retry:    retry,
		throttle: throttle,
		logger:   logger,
		now:      time.Now,
	}
}

// session is one authenticated browsing session. It is owned by exactly one
// operation and discarded afterwards.
type session struct {
	driver   Driver
	cfg      config.PortalConfig
	logger   *log.Logger
	loggedIn bool
}

// Submit files a claim on the portal and returns the external claim number.
func (c *Client) Submit(ctx context.Context, bill claim.MedicalBill, imagePath string) (string, error) {
	var number string
	err := c.withSession(ctx, "submit", func(s *session) error {
		n, err := s.submitClaim(ctx, bill, imagePath, c.now())
		if err != nil {
			return err
		}
		number = n
		return nil
	})
	if err != nil {
		return "", err
	}
	return number, nil
}

// CheckStatus looks up an existing claim and scans the result page for a
// recognized status keyword.
func (c *Client) CheckStatus(ctx context.Context, claimNumber string) (StatusReport, error) {
	var report StatusReport
	err := c.withSession(ctx, "check_status", func(s *session) error {
		r, err := s.checkStatus(ctx, claimNumber, c.now())
		if err != nil {
			return err
		}
		report = r
		return nil
	})
	if err != nil {
		return StatusReport{}, err
	}
	return report, nil
}

// withSession runs one operation under the breaker and the retry policy with
// a scoped driver session. A session expiry inside op triggers a retry with a
// fresh login rather than failing the operation.
func (c *Client) withSession(ctx context.Context, op string, fn func(*session) error) error {
	if c.breaker != nil && !c.breaker.Allow() {
		metrics.PortalRequest(op, "circuit_open")
		return operationErr(op, "", ErrCircuitOpen)
	}

	err := c.retry.Do(ctx, func() error {
		// The throttle is acquired per attempt, not per operation: a retry
		// contacts the portal again and must keep the same spacing.
		if c.throttle != nil {
			if err := c.throttle.Wait(ctx); err != nil {
				return err
			}
		}

		driver, err := c.factory(ctx)
		if err != nil {
			return operationErr(op, "open_session", err)
		}
		// Close on every exit path; thousands of claims over the agent's
		// lifetime must not leak sessions.
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
			defer cancel()
			if cerr := driver.Close(closeCtx); cerr != nil {
				c.logger.Printf("portal: failed to close %s session: %v", op, cerr)
			}
		}()

		s := &session{driver: driver, cfg: c.cfg, logger: c.logger}
		if err := s.ensureLoggedIn(ctx); err != nil {
			return err
		}
		return fn(s)
	})

	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	if err != nil {
		metrics.PortalRequest(op, "error")
		return err
	}
	metrics.PortalRequest(op, "ok")
	return nil
}

// ensureLoggedIn logs in if the session is not yet authenticated. Operations
// call it again transparently when they detect a mid-operation logout.
func (s *session) ensureLoggedIn(ctx context.Context) error {
	if s.loggedIn {
		return nil
	}

	loginURL := s.cfg.LoginURL
	if loginURL == "" {
		loginURL = strings.TrimRight(s.cfg.BaseURL, "/") + "/login"
	}
	if err := s.driver.Navigate(ctx, loginURL); err != nil {
		return operationErr("login", "navigate", err)
	}

	if err := s.driver.Fill(ctx, s.target("username", []Locator{
		{Kind: LocatorName, Value: "username"},
		{Kind: LocatorCSS, Value: `input[type="email"]`},
		{Kind: LocatorPlaceholder, Value: "username"},
		{Kind: LocatorPlaceholder, Value: "email"},
	}), s.cfg.Username); err != nil {
		return operationErr("login", "username", fmt.Errorf("%w: %v", ErrLoginFailed, err))
	}

	if err := s.driver.Fill(ctx, s.target("password", []Locator{
		{Kind: LocatorName, Value: "password"},
		{Kind: LocatorCSS, Value: `input[type="password"]`},
	}), s.cfg.Password); err != nil {
		return operationErr("login", "password", fmt.Errorf("%w: %v", ErrLoginFailed, err))
	}

	if err := s.driver.Click(ctx, s.target("login_button", []Locator{
		{Kind: LocatorCSS, Value: `button[type="submit"]`},
		{Kind: LocatorCSS, Value: `input[type="submit"]`},
		{Kind: LocatorText, Value: "Log in"},
		{Kind: LocatorText, Value: "Sign in"},
	})); err != nil {
		return operationErr("login", "submit", fmt.Errorf("%w: %v", ErrLoginFailed, err))
	}

	text, err := s.driver.PageText(ctx)
	if err != nil {
		return operationErr("login", "verify", err)
	}
	if !loginSucceeded(text) {
		if reason := loginErrorText(text); reason != "" {
			return operationErr("login", "verify", fmt.Errorf("%w: %s", ErrLoginFailed, reason))
		}
		return operationErr("login", "verify", ErrLoginFailed)
	}

	s.loggedIn = true
	return nil
}

// submitClaim navigates to the claims section, fills the form, attaches the
// bill image, submits, and parses the confirmation number.
func (s *session) submitClaim(ctx context.Context, bill claim.MedicalBill, imagePath string, now time.Time) (string, error) {
	if err := s.navigateToClaims(ctx); err != nil {
		return "", err
	}

	if err := s.driver.Click(ctx, s.target("new_claim", []Locator{
		{Kind: LocatorText, Value: "New Claim"},
		{Kind: LocatorText, Value: "Submit Claim"},
		{Kind: LocatorCSS, Value: ".new-claim"},
		{Kind: LocatorCSS, Value: `[data-testid="new-claim"]`},
	})); err != nil {
		return "", operationErr("submit", "new_claim", err)
	}

	// Form fields degrade gracefully: the portal tolerates sparse forms
	// better than we can tolerate a hard failure per missing field.
	s.fillOptional(ctx, "patient_name", []Locator{
		{Kind: LocatorName, Value: "patient"},
		{Kind: LocatorPlaceholder, Value: "patient"},
	}, bill.PatientName)
	s.fillOptional(ctx, "provider_name", []Locator{
		{Kind: LocatorName, Value: "provider"},
		{Kind: LocatorPlaceholder, Value: "provider"},
	}, bill.ProviderName)
	s.fillOptional(ctx, "service_date", []Locator{
		{Kind: LocatorCSS, Value: `input[type="date"]`},
		{Kind: LocatorName, Value: "date"},
	}, bill.ServiceDate.Time().Format("01/02/2006"))
	s.fillOptional(ctx, "amount", []Locator{
		{Kind: LocatorName, Value: "amount"},
		{Kind: LocatorPlaceholder, Value: "amount"},
	}, fmt.Sprintf("%.2f", bill.TotalAmount))
	s.fillOptional(ctx, "treatment", []Locator{
		{Kind: LocatorCSS, Value: "textarea"},
		{Kind: LocatorName, Value: "description"},
	}, bill.TreatmentDescription)

	// The upload is load-bearing when a bill image exists: a photo claim
	// without its image will be bounced by the insurer. Claims imported
	// straight from clinic billing systems carry no image and skip it.
	if imagePath != "" {
		if err := s.driver.Upload(ctx, s.target("bill_image", []Locator{
			{Kind: LocatorCSS, Value: `input[type="file"]`},
			{Kind: LocatorCSS, Value: `[data-testid="file-upload"]`},
			{Kind: LocatorCSS, Value: ".file-upload input"},
		}), imagePath); err != nil {
			return "", operationErr("submit", "upload", err)
		}
	}

	if err := s.driver.Click(ctx, s.target("submit_button", []Locator{
		{Kind: LocatorCSS, Value: `button[type="submit"]`},
		{Kind: LocatorText, Value: "Submit"},
		{Kind: LocatorCSS, Value: `input[type="submit"]`},
	})); err != nil {
		return "", operationErr("submit", "submit_button", err)
	}

	text, err := s.driver.PageText(ctx)
	if err != nil {
		return "", operationErr("submit", "confirmation", err)
	}
	if sessionExpired(text) {
		s.loggedIn = false
		return "", operationErr("submit", "confirmation", ErrSessionExpired)
	}

	if number, ok := parseClaimNumber(text); ok {
		return number, nil
	}
	number := fallbackClaimNumber(now)
	s.logger.Printf("portal: no claim number on confirmation page, using fallback %s", number)
	return number, nil
}

// checkStatus searches for a claim and scans the result page.
func (s *session) checkStatus(ctx context.Context, claimNumber string, now time.Time) (StatusReport, error) {
	if err := s.navigateToClaims(ctx); err != nil {
		return StatusReport{}, err
	}

	if err := s.driver.Fill(ctx, s.target("claim_search", []Locator{
		{Kind: LocatorName, Value: "search"},
		{Kind: LocatorPlaceholder, Value: "search"},
		{Kind: LocatorCSS, Value: `input[type="search"]`},
	}), claimNumber); err != nil {
		return StatusReport{}, operationErr("check_status", "search", err)
	}
	if err := s.driver.Click(ctx, s.target("search_submit", []Locator{
		{Kind: LocatorCSS, Value: `button[type="submit"]`},
		{Kind: LocatorText, Value: "Search"},
	})); err != nil {
		return StatusReport{}, operationErr("check_status", "search_submit", err)
	}

	text, err := s.driver.PageText(ctx)
	if err != nil {
		return StatusReport{}, operationErr("check_status", "page_text", err)
	}
	if sessionExpired(text) {
		s.loggedIn = false
		return StatusReport{}, operationErr("check_status", "page_text", ErrSessionExpired)
	}

	report := scanStatus(text, now)
	if report.Unknown {
		s.logger.Printf("portal: no recognizable status for claim %s", claimNumber)
	}
	return report, nil
}

// navigateToClaims opens the claims section from wherever the session is.
func (s *session) navigateToClaims(ctx context.Context) error {
	if err := s.driver.Click(ctx, s.target("claims_nav", []Locator{
		{Kind: LocatorText, Value: "Claims"},
		{Kind: LocatorCSS, Value: `a[href*="claims"]`},
		{Kind: LocatorCSS, Value: ".nav-claims"},
		{Kind: LocatorCSS, Value: `[data-testid="claims"]`},
	})); err != nil {
		return operationErr("navigate", "claims_nav", err)
	}
	return nil
}

// fillOptional fills a non-load-bearing form field, logging and continuing
// when no locator matches.
func (s *session) fillOptional(ctx context.Context, name string, locators []Locator, value string) {
	if err := s.driver.Fill(ctx, s.target(name, locators), value); err != nil {
		s.logger.Printf("portal: could not fill %s, continuing: %v", name, err)
	}
}

func (s *session) target(name string, locators []Locator) Target {
	return Target{Name: name, Locators: locators, Wait: s.cfg.ElementWait}
}

var loginSuccessMarkers = []string{"dashboard", "welcome", "my account", "claims"}

func loginSucceeded(pageText string) bool {
	lower := strings.ToLower(pageText)
	for _, marker := range loginSuccessMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var loginErrorMarkers = []string{"invalid", "incorrect", "locked", "error"}

func loginErrorText(pageText string) string {
	lower := strings.ToLower(pageText)
	for _, marker := range loginErrorMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

var sessionExpiredMarkers = []string{"session expired", "please log in", "sign in to continue"}

func sessionExpired(pageText string) bool {
	lower := strings.ToLower(pageText)
	for _, marker := range sessionExpiredMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
