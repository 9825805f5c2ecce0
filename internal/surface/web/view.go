// Package web drives chat apps through their web clients in a headless
// browser.
package web

import (
	"context"
	"fmt"
	"strings"
)

// Settings configure the browser backing a view. They apply when the view
// starts its browser on the first Load.
type Settings struct {
	UserDataDir string
	Headless    bool
}

// View is one long-lived browser page.
type View interface {
	// Load navigates to url and returns once the document has loaded.
	Load(ctx context.Context, url, userAgent string, s Settings) error
	// WaitReady blocks until selector matches an element.
	WaitReady(ctx context.Context, selector string) error
	// Evaluate runs a JS expression, awaiting promises, and returns the
	// result encoded as JSON.
	Evaluate(ctx context.Context, expr string) (string, error)
	// SetFiles attaches files to the file input matched by selector.
	SetFiles(ctx context.Context, selector string, files []string) error
	ClearCache(ctx context.Context) error
	Close() error
}

// NewView returns a View for the named driver, "chromedp" or "rod".
func NewView(driver string) (View, error) {
	switch strings.ToLower(driver) {
	case "", "chromedp", "chrome":
		return NewChromeView(), nil
	case "rod":
		return NewRodView(), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q", driver)
	}
}

// jsonResult wraps expr so that it always resolves to a JSON string.
func jsonResult(expr string) string {
	return fmt.Sprintf("Promise.resolve(%s).then((v) => JSON.stringify(v === undefined ? null : v))", expr)
}
