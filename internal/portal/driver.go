// Package portal wraps the insurer's web portal behind a session adapter.
// The portal has no documented API; everything here works against simulated
// UI interactions and treats partial failure as the common case.
package portal

import (
	"context"
	"time"
)

// LocatorKind tags how a locator string should be interpreted by a driver.
type LocatorKind string

const (
	// LocatorCSS matches by CSS selector.
	LocatorCSS LocatorKind = "css"
	// LocatorName matches a form control by its name attribute.
	LocatorName LocatorKind = "name"
	// LocatorPlaceholder matches an input by placeholder substring.
	LocatorPlaceholder LocatorKind = "placeholder"
	// LocatorText matches an element by visible text substring.
	LocatorText LocatorKind = "text"
)

// Locator is one strategy for finding an element.
type Locator struct {
	Kind  LocatorKind
	Value string
}

// Target describes one logical UI action as an ordered list of locator
// strategies. Drivers try each in order with a bounded wait; first success
// wins. The portal's markup changes without notice, so every action carries
// fallbacks.
type Target struct {
	// Name of the logical action, used in logs and errors
	Name string
	// Locators in priority order
	Locators []Locator
	// Wait bounds how long each locator may be retried before moving on
	Wait time.Duration
}

// Driver is the low-level browsing capability consumed by the session
// adapter. One driver instance is one portal session; drivers are not safe
// for concurrent use and each concurrent unit of work must open its own.
type Driver interface {
	// Navigate loads a page.
	Navigate(ctx context.Context, url string) error
	// Fill locates an input via the target's strategies and types a value.
	Fill(ctx context.Context, target Target, value string) error
	// Click locates an element and clicks it.
	Click(ctx context.Context, target Target) error
	// Upload attaches a local file to a file input.
	Upload(ctx context.Context, target Target, path string) error
	// PageText returns the visible text of the current page.
	PageText(ctx context.Context) (string, error)
	// Close releases the session's resources.
	Close(ctx context.Context) error
}

// DriverFactory opens a fresh driver session. The session adapter acquires
// one per top-level operation and guarantees Close on every exit path.
type DriverFactory func(ctx context.Context) (Driver, error)
