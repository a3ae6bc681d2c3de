// Package engine abstracts the browser-automation engine behind a small
// interface so the session and dispatch layers never touch an engine
// handle directly. Two adapters exist: Playwright (default) and raw CDP
// via chromedp.
package engine

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors wrapped by adapters so callers can classify engine
// faults without knowing which engine produced them.
var (
	ErrTimeout          = errors.New("operation timed out")
	ErrSelectorNotFound = errors.New("no element matches selector")
	ErrScript           = errors.New("script raised in page context")
)

// Config configures a browser launch.
type Config struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int

	// DefaultTimeout applies to operations invoked without an explicit
	// timeout.
	DefaultTimeout time.Duration
}

// ConsoleEvent is a console message emitted by the page.
type ConsoleEvent struct {
	Type string // engine-reported type, e.g. "log", "warning", "error"
	Text string
	Time time.Time
}

// RequestEvent is emitted when the page sends a network request.
type RequestEvent struct {
	ID     string
	Method string
	URL    string
	Time   time.Time
}

// ResponseEvent is emitted when a response arrives for an earlier request.
type ResponseEvent struct {
	RequestID string
	Status    int
	Time      time.Time
}

// EventSink receives page events. Callbacks are invoked from engine
// goroutines and must not block.
type EventSink interface {
	OnConsole(ConsoleEvent)
	OnRequest(RequestEvent)
	OnResponse(ResponseEvent)
}

// Cookie is a browser cookie in engine-neutral form.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Engine launches browsers.
type Engine interface {
	Name() string
	Launch(ctx context.Context, cfg Config) (Browser, error)
}

// Browser is a live browser process owning pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// Page is a single tab. All operations settle before returning; timeouts
// abandon the wait, not the underlying navigation.
type Page interface {
	// Subscribe attaches an event sink for console and network events.
	// Unsubscribe detaches it; events arriving afterwards are dropped.
	Subscribe(sink EventSink)
	Unsubscribe()

	Navigate(ctx context.Context, url, waitUntil string, timeout time.Duration) error
	Click(ctx context.Context, selector string, timeout time.Duration) error
	Type(ctx context.Context, selector, text string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	SetChecked(ctx context.Context, selector string, checked bool, timeout time.Duration) error
	SelectOption(ctx context.Context, selector, value string, timeout time.Duration) error
	Evaluate(ctx context.Context, script string) (any, error)
	WaitForSelector(ctx context.Context, selector, state string, timeout time.Duration) error
	ElementState(ctx context.Context, selector, check string) (bool, error)
	Screenshot(ctx context.Context, fullPage bool, selector string) ([]byte, error)
	Content(ctx context.Context, selector string) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	URL() string
}
