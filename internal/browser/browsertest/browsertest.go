// Package browsertest provides an in-memory browser.Driver over static HTML, in the
// spirit of net/http/httptest. Pages are routed by URL, XPath is evaluated with
// htmlquery and clicks run scripted handlers.
package browsertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chartwatch/internal/browser"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Page is the response for a routed URL. URL overrides the final location, which
// models redirects.
type Page struct {
	URL  string
	HTML string
}

// Handler runs when a node matching its xpath is clicked.
type Handler func(d *Driver, w *Window) error

type clickHandler struct {
	xpath string
	fn    Handler
}

// Window is an open window or tab.
type Window struct {
	Handle browser.WindowHandle
	URL    string
	doc    *html.Node
}

// Driver implements browser.Driver.
type Driver struct {
	routes   map[string]func(d *Driver) Page
	handlers []clickHandler
	late     map[string]int

	windows []*Window
	current *Window
	nextID  int

	DownloadDir string
	CookieJar   []*http.Cookie

	// FailClose makes CloseWindow fail for the given handles.
	FailClose map[browser.WindowHandle]bool

	Navigations []string
	Clicks      []string
	Scripts     []string
	Screenshots []string
	Values      map[string]string
}

// New returns a driver with a single blank origin window.
func New() *Driver {
	d := &Driver{
		routes:    map[string]func(d *Driver) Page{},
		late:      map[string]int{},
		FailClose: map[browser.WindowHandle]bool{},
		Values:    map[string]string{},
	}
	w := d.newWindow("about:blank", "<html><head></head><body></body></html>")
	d.current = w
	return d
}

// Route serves static html for url.
func (d *Driver) Route(url, document string) {
	d.routes[url] = func(*Driver) Page {
		return Page{HTML: document}
	}
}

// RouteFunc serves a dynamic page for url.
func (d *Driver) RouteFunc(url string, fn func(d *Driver) Page) {
	d.routes[url] = fn
}

// OnClick registers fn for clicks on nodes matching xpath in any window.
func (d *Driver) OnClick(xpath string, fn Handler) {
	d.handlers = append(d.handlers, clickHandler{xpath: xpath, fn: fn})
}

func mustParse(document string) *html.Node {
	doc, err := htmlquery.Parse(strings.NewReader(document))
	if err != nil {
		panic(fmt.Sprintf("browsertest: parse html: %v", err))
	}
	return doc
}

func (d *Driver) newWindow(url, document string) *Window {
	d.nextID++
	w := &Window{
		Handle: browser.WindowHandle(fmt.Sprintf("W%d", d.nextID)),
		URL:    url,
		doc:    mustParse(document),
	}
	d.windows = append(d.windows, w)
	return w
}

func (d *Driver) load(url string) Page {
	route, ok := d.routes[url]
	if !ok {
		return Page{URL: url, HTML: "<html><head><title>Not Found</title></head><body>404</body></html>"}
	}
	page := route(d)
	if page.URL == "" {
		page.URL = url
	}
	return page
}

// OpenWindow opens url in a new window without focusing it, like target=_blank.
func (d *Driver) OpenWindow(url string) *Window {
	page := d.load(url)
	return d.newWindow(page.URL, page.HTML)
}

// Replace swaps the document of w, used by handlers that re-render in place.
func (w *Window) Replace(document string) {
	w.doc = mustParse(document)
}

// Load navigates w to url.
func (d *Driver) Load(w *Window, url string) {
	page := d.load(url)
	w.URL = page.URL
	w.doc = mustParse(page.HTML)
}

// Download writes a finished file into the configured download directory.
func (d *Driver) Download(name, content string) error {
	if d.DownloadDir == "" {
		return errors.New("browsertest: no download directory configured")
	}
	return os.WriteFile(filepath.Join(d.DownloadDir, name), []byte(content), 0644)
}

// Remove deletes every node matching xpath from w.
func (w *Window) Remove(xpath string) {
	for _, n := range htmlquery.Find(w.doc, xpath) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// Current returns the focused window.
func (d *Driver) Current() *Window {
	return d.current
}

// Window returns the window with handle h.
func (d *Driver) Window(h browser.WindowHandle) *Window {
	for _, w := range d.windows {
		if w.Handle == h {
			return w
		}
	}
	return nil
}

func (d *Driver) focused() (*Window, error) {
	if d.current == nil {
		return nil, errors.New("browsertest: no current window")
	}
	return d.current, nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	w, err := d.focused()
	if err != nil {
		return err
	}
	d.Navigations = append(d.Navigations, url)
	d.Load(w, url)
	return nil
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	w, err := d.focused()
	if err != nil {
		return "", err
	}
	return w.URL, nil
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	w, err := d.focused()
	if err != nil {
		return "", err
	}
	title := htmlquery.FindOne(w.doc, "//title")
	if title == nil {
		return "", nil
	}
	return strings.TrimSpace(htmlquery.InnerText(title)), nil
}

// Late hides matches of xpath from the next lookups calls to Find, standing in
// for content the page renders after load.
func (d *Driver) Late(xpath string, lookups int) {
	d.late[xpath] = lookups
}

func (d *Driver) lookup(ctx context.Context, xpath string) (browser.Element, error) {
	if d.late[xpath] > 0 {
		d.late[xpath]--
		return nil, nil
	}
	all, err := d.FindAll(ctx, xpath)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// Find looks once when wait <= 0, otherwise it polls every millisecond until
// wait runs out.
func (d *Driver) Find(ctx context.Context, xpath string, wait time.Duration) (browser.Element, error) {
	deadline := time.Now().Add(wait)
	for {
		el, err := d.lookup(ctx, xpath)
		if err != nil {
			return nil, err
		}
		if el != nil {
			return el, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: %s", browser.ErrNotFound, xpath)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (d *Driver) FindAll(ctx context.Context, xpath string) ([]browser.Element, error) {
	w, err := d.focused()
	if err != nil {
		return nil, err
	}
	nodes, err := htmlquery.QueryAll(w.doc, xpath)
	if err != nil {
		return nil, fmt.Errorf("browsertest: xpath %q: %w", xpath, err)
	}
	return d.wrap(w, nodes), nil
}

func (d *Driver) wrap(w *Window, nodes []*html.Node) []browser.Element {
	out := make([]browser.Element, len(nodes))
	for i, n := range nodes {
		out[i] = &element{d: d, w: w, n: n}
	}
	return out
}

func (d *Driver) BodyText(ctx context.Context) (string, error) {
	w, err := d.focused()
	if err != nil {
		return "", err
	}
	body := htmlquery.FindOne(w.doc, "//body")
	if body == nil {
		return "", nil
	}
	return renderText(body), nil
}

func (d *Driver) HTML(ctx context.Context) (string, error) {
	w, err := d.focused()
	if err != nil {
		return "", err
	}
	return htmlquery.OutputHTML(w.doc, true), nil
}

func (d *Driver) Exec(ctx context.Context, script string) error {
	d.Scripts = append(d.Scripts, script)
	return nil
}

func (d *Driver) Windows(ctx context.Context) ([]browser.WindowHandle, error) {
	out := make([]browser.WindowHandle, len(d.windows))
	for i, w := range d.windows {
		out[i] = w.Handle
	}
	return out, nil
}

func (d *Driver) CurrentWindow(ctx context.Context) (browser.WindowHandle, error) {
	w, err := d.focused()
	if err != nil {
		return "", err
	}
	return w.Handle, nil
}

func (d *Driver) SwitchWindow(ctx context.Context, handle browser.WindowHandle) error {
	w := d.Window(handle)
	if w == nil {
		return fmt.Errorf("browsertest: no such window %s", handle)
	}
	d.current = w
	return nil
}

func (d *Driver) CloseWindow(ctx context.Context, handle browser.WindowHandle) error {
	if d.FailClose[handle] {
		return fmt.Errorf("browsertest: close %s refused", handle)
	}
	for i, w := range d.windows {
		if w.Handle != handle {
			continue
		}
		d.windows = append(d.windows[:i], d.windows[i+1:]...)
		if d.current == w {
			d.current = nil
		}
		return nil
	}
	return fmt.Errorf("browsertest: no such window %s", handle)
}

func (d *Driver) Screenshot(ctx context.Context, path string) error {
	if _, err := d.focused(); err != nil {
		return err
	}
	var buf bytes.Buffer
	err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1)))
	if err != nil {
		return err
	}
	err = os.WriteFile(path, buf.Bytes(), 0644)
	if err != nil {
		return err
	}
	d.Screenshots = append(d.Screenshots, path)
	return nil
}

func (d *Driver) SetDownloadDir(ctx context.Context, dir string) error {
	d.DownloadDir = dir
	return nil
}

func (d *Driver) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return d.CookieJar, nil
}

func (d *Driver) Close() error {
	return nil
}

func (d *Driver) runHandlers(w *Window, n *html.Node) error {
	d.Clicks = append(d.Clicks, describe(n))
	if n.Data == "input" && htmlquery.SelectAttr(n, "type") == "checkbox" {
		toggleAttr(n, "checked")
	}
	var errs []error
	for _, h := range d.handlers {
		matches, err := htmlquery.QueryAll(w.doc, h.xpath)
		if err != nil {
			return fmt.Errorf("browsertest: handler xpath %q: %w", h.xpath, err)
		}
		for _, m := range matches {
			if m == n {
				errs = append(errs, h.fn(d, w))
				break
			}
		}
	}
	return errors.Join(errs...)
}

func describe(n *html.Node) string {
	if id := htmlquery.SelectAttr(n, "id"); id != "" {
		return "#" + id
	}
	text := strings.Join(strings.Fields(htmlquery.InnerText(n)), " ")
	return fmt.Sprintf("%s(%s)", n.Data, text)
}
