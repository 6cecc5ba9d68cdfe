// Package browser is the browser automation capability the workflows drive. Every
// lookup is expressed as XPath so the same selectors run against a live Chrome
// (RodDriver) and against static documents (browsertest.Driver).
package browser

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned when a bounded wait for an element expires.
	ErrNotFound = errors.New("element not found")
	// ErrIntercepted is returned by Element.Click when the natural click could not
	// reach the element, callers fall back to Element.ForceClick.
	ErrIntercepted = errors.New("click intercepted")
)

// WindowHandle identifies a window or tab.
type WindowHandle string

// Element is a located content node.
type Element interface {
	// Text returns the rendered text of the node and its descendants.
	Text() (string, error)
	// Attribute returns the attribute value and whether it was present.
	Attribute(name string) (string, bool, error)
	// Query evaluates xpath relative to this node without waiting.
	Query(xpath string) ([]Element, error)
	Visible() bool
	Checked() bool

	// Click performs a natural click.
	Click(ctx context.Context) error
	// ForceClick clicks through script, bypassing overlays.
	ForceClick(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error

	// SetValue writes a form value and dispatches input and change events.
	SetValue(ctx context.Context, value string) error
	Value() (string, error)

	// SelectOption selects the option of a <select> whose text equals text.
	SelectOption(ctx context.Context, text string) error
	// Options lists the visible text of every option of a <select>.
	Options() ([]string, error)
}

// Driver is a single browser session with a current window.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)

	// Find waits up to wait for the first node matching xpath, returns ErrNotFound
	// when it never appears. A wait <= 0 is a single immediate lookup.
	Find(ctx context.Context, xpath string, wait time.Duration) (Element, error)
	// FindAll returns every node currently matching xpath.
	FindAll(ctx context.Context, xpath string) ([]Element, error)

	// BodyText returns the rendered text of the whole document.
	BodyText(ctx context.Context) (string, error)
	// HTML returns the serialized document.
	HTML(ctx context.Context) (string, error)
	// Exec runs a script of the form `() => { ... }` against the page.
	Exec(ctx context.Context, script string) error

	// Windows lists open windows in the order they were opened.
	Windows(ctx context.Context) ([]WindowHandle, error)
	CurrentWindow(ctx context.Context) (WindowHandle, error)
	SwitchWindow(ctx context.Context, handle WindowHandle) error
	CloseWindow(ctx context.Context, handle WindowHandle) error

	Screenshot(ctx context.Context, path string) error
	SetDownloadDir(ctx context.Context, dir string) error
	Cookies(ctx context.Context) ([]*http.Cookie, error)

	Close() error
}

// TextOf returns the element text or "" when it cannot be read.
func TextOf(el Element) string {
	if el == nil {
		return ""
	}
	text, err := el.Text()
	if err != nil {
		return ""
	}
	return text
}

// AttrOf returns the attribute value or "".
func AttrOf(el Element, name string) string {
	if el == nil {
		return ""
	}
	value, _, err := el.Attribute(name)
	if err != nil {
		return ""
	}
	return value
}

// Click tries a natural click and falls back to a script click.
func Click(ctx context.Context, el Element) error {
	err := el.Click(ctx)
	if err == nil {
		return nil
	}
	forceErr := el.ForceClick(ctx)
	if forceErr != nil {
		return errors.Join(err, forceErr)
	}
	return nil
}

// Settle blocks for d unless the context ends first.
func Settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
