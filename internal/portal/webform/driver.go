// Package webform implements the portal driver over plain HTTP. It treats
// the portal as server-rendered forms: navigating fetches a page, filling
// stages field values, and clicking posts the staged form. Portals that
// require a real browser need a different driver behind the same interface.
package webform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/clearclaim/agent/internal/portal"
	"github.com/clearclaim/agent/internal/shared/config"
)

var (
	formActionPattern = regexp.MustCompile(`(?is)<form[^>]*\baction\s*=\s*["']([^"']*)["']`)
	tagPattern        = regexp.MustCompile(`(?s)<(script|style)[^>]*>.*?</(script|style)>|<[^>]+>`)
	spacePattern      = regexp.MustCompile(`[ \t]+`)
)

// Driver is a cookie-aware HTTP form driver
type Driver struct {
	client  *http.Client
	baseURL string

	// Staged form state, flushed by Click.
	fields map[string]string
	files  map[string]string

	pageURL  string
	pageBody string
}

// New creates a webform driver. The cookie jar carries the portal session
// across requests.
func New(cfg config.PortalConfig) (*Driver, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Driver{
		client: &http.Client{
			Jar:     jar,
			Timeout: cfg.RequestTimeout,
		},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		fields:  make(map[string]string),
		files:   make(map[string]string),
	}, nil
}

// NewFactory returns a portal.DriverFactory producing webform drivers.
func NewFactory(cfg config.PortalConfig) portal.DriverFactory {
	return func(ctx context.Context) (portal.Driver, error) {
		return New(cfg)
	}
}

// Navigate fetches a page and resets any staged form state.
func (d *Driver) Navigate(ctx context.Context, rawURL string) error {
	if strings.HasPrefix(rawURL, "/") {
		rawURL = d.baseURL + rawURL
	}

	req, err := http.NewRequestWithContext(ctx, "GET", rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("navigation to %s returned status %d", rawURL, resp.StatusCode)
	}

	return d.capturePage(resp)
}

// Fill stages a field value under the first locator the page knows.
func (d *Driver) Fill(ctx context.Context, target portal.Target, value string) error {
	name, err := d.resolveFieldName(target)
	if err != nil {
		return err
	}
	d.fields[name] = value
	return nil
}

// Upload stages a file field.
func (d *Driver) Upload(ctx context.Context, target portal.Target, path string) error {
	name, err := d.resolveFieldName(target)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("bill image not readable: %w", err)
	}
	d.files[name] = path
	return nil
}

// Click submits the staged form when the target looks like a submit control,
// or follows the target's link otherwise.
func (d *Driver) Click(ctx context.Context, target portal.Target) error {
	if href := d.linkFor(target); href != "" {
		return d.Navigate(ctx, href)
	}
	return d.submitForm(ctx)
}

// PageText returns the visible text of the current page.
func (d *Driver) PageText(ctx context.Context) (string, error) {
	if d.pageBody == "" {
		return "", fmt.Errorf("no page loaded")
	}
	text := tagPattern.ReplaceAllString(d.pageBody, " ")
	text = spacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}

// Close releases the session state.
func (d *Driver) Close(ctx context.Context) error {
	d.fields = make(map[string]string)
	d.files = make(map[string]string)
	d.pageBody = ""
	return nil
}

// resolveFieldName maps a locator list onto a form field name present on the
// current page, in the order the locators are listed.
func (d *Driver) resolveFieldName(target portal.Target) (string, error) {
	for _, loc := range target.Locators {
		name := fieldName(loc)
		if name == "" {
			continue
		}
		if d.pageHasField(name) {
			return name, nil
		}
	}
	// Fall back to the first locator that yields any name at all; some
	// portals render fields with script after load.
	for _, loc := range target.Locators {
		if name := fieldName(loc); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("%s: %w", target.Name, portal.ErrElementNotFound)
}

func (d *Driver) pageHasField(name string) bool {
	return strings.Contains(d.pageBody, fmt.Sprintf(`name="%s"`, name)) ||
		strings.Contains(d.pageBody, fmt.Sprintf(`name='%s'`, name))
}

// fieldName derives a form field name from a locator. Name locators map
// directly; CSS locators only when they select by name or id.
func fieldName(loc portal.Locator) string {
	switch loc.Kind {
	case portal.LocatorName:
		return loc.Value
	case portal.LocatorPlaceholder:
		return strings.ToLower(strings.ReplaceAll(loc.Value, " ", "_"))
	case portal.LocatorCSS:
		if m := regexp.MustCompile(`\[name=["']?([^"'\]]+)["']?\]`).FindStringSubmatch(loc.Value); m != nil {
			return m[1]
		}
		if strings.HasPrefix(loc.Value, "#") && !strings.ContainsAny(loc.Value[1:], " >[.:") {
			return loc.Value[1:]
		}
	}
	return ""
}

// linkFor finds an anchor matching a text locator on the current page.
func (d *Driver) linkFor(target portal.Target) string {
	for _, loc := range target.Locators {
		if loc.Kind != portal.LocatorText {
			continue
		}
		pattern := regexp.MustCompile(`(?is)<a[^>]*\bhref\s*=\s*["']([^"']+)["'][^>]*>\s*` + regexp.QuoteMeta(loc.Value))
		if m := pattern.FindStringSubmatch(d.pageBody); m != nil {
			return m[1]
		}
	}
	return ""
}

// submitForm posts the staged fields to the current page's form action.
func (d *Driver) submitForm(ctx context.Context) error {
	action := d.pageURL
	if m := formActionPattern.FindStringSubmatch(d.pageBody); m != nil && m[1] != "" {
		resolved, err := d.resolveURL(m[1])
		if err == nil {
			action = resolved
		}
	}

	var (
		req *http.Request
		err error
	)
	if len(d.files) > 0 {
		req, err = d.multipartRequest(ctx, action)
	} else {
		form := url.Values{}
		for k, v := range d.fields {
			form.Set(k, v)
		}
		req, err = http.NewRequestWithContext(ctx, "POST", action, strings.NewReader(form.Encode()))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("form submission failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("form submission returned status %d", resp.StatusCode)
	}

	d.fields = make(map[string]string)
	d.files = make(map[string]string)
	return d.capturePage(resp)
}

func (d *Driver) multipartRequest(ctx context.Context, action string) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range d.fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	for field, path := range d.files {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			f.Close()
			return nil, err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return nil, err
		}
		f.Close()
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", action, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (d *Driver) resolveURL(ref string) (string, error) {
	base, err := url.Parse(d.pageURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(u).String(), nil
}

func (d *Driver) capturePage(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read page body: %w", err)
	}
	d.pageURL = resp.Request.URL.String()
	d.pageBody = string(body)
	return nil
}

var _ portal.Driver = (*Driver)(nil)
