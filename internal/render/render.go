// Package render is the narrow browser contract the escalation tier needs:
// launch, open a page with cookies, wait for selectors and read from the DOM.
package render

import (
	"context"
	"errors"
	"time"
)

// ErrElementNotFound is returned by the query methods when nothing matches.
var ErrElementNotFound = errors.New("element not found")

type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
	Secure bool
	// SameSite is one of "Strict", "Lax" or "None".
	SameSite string
}

// Engine starts rendering sessions.
//
// note: fault injection point
type Engine interface {
	Launch(ctx context.Context) (Handle, error)
}

// Handle is one running browser. It must not be shared between concurrent fetches.
type Handle interface {
	// NewPage opens a page with the given cookies already set and navigates to url.
	NewPage(ctx context.Context, cookies []Cookie, url string) (Page, error)
	// Close tears the browser down, it is safe to call more than once.
	Close() error
}

type Page interface {
	// URL is the location after redirects.
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	QueryText(ctx context.Context, selector string) (string, error)
	QueryAttribute(ctx context.Context, selector, attribute string) (string, error)
	QueryInnerHTML(ctx context.Context, selector string) (string, error)
}
