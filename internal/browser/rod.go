package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"time"

	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	report_rod_launch   = "rod.launch"
	report_rod_viewport = "rod.viewport"
	report_rod_click    = "rod.click"
	report_rod_windows  = "rod.windows"
)

// Config controls how the browser session is bootstrapped.
type Config struct {
	// ControlURL connects to an already running Chrome instead of launching one.
	ControlURL     string `json:"control_url"`
	Bin            string `json:"bin"`
	Headless       *bool  `json:"headless"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	UserAgent      string `json:"user_agent"`
	// NavigationTimeoutMs bounds a single page load.
	NavigationTimeoutMs int `json:"navigation_timeout_ms"`
}

func (c Config) IsHeadless() bool {
	return c.Headless == nil || *c.Headless
}

func (c Config) viewport() (int, int) {
	w, h := c.ViewportWidth, c.ViewportHeight
	if w == 0 {
		w = 1920
	}
	if h == 0 {
		h = 1200
	}
	return w, h
}

func (c Config) navigationTimeout() time.Duration {
	if c.NavigationTimeoutMs == 0 {
		return 60 * time.Second
	}
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// clickTimeout bounds the natural click, rod keeps retrying while the element is
// covered so an overlay would otherwise block until the run deadline.
const clickTimeout = 2 * time.Second

// RodDriver implements Driver on top of a Chrome DevTools session.
type RodDriver struct {
	cfg     Config
	tel     telemetry.API
	browser *rod.Browser
	page    *rod.Page
	// order keeps target ids in the order they were first seen, Chrome does not
	// report pages in opening order.
	order []proto.TargetTargetID
}

// Launch starts (or connects to) Chrome and opens the origin window.
func Launch(ctx context.Context, cfg Config, tel telemetry.API) (*RodDriver, error) {
	assert.NotNil(tel)
	tel = telemetry.NewScopedAPI("browser", tel)

	controlURL := cfg.ControlURL
	if controlURL == "" {
		w, h := cfg.viewport()
		l := launcher.New().
			Headless(cfg.IsHeadless()).
			Set("window-size", fmt.Sprintf("%d,%d", w, h)).
			Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("no-sandbox").
			Set("disable-gpu")
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			tel.ReportBroken(report_rod_launch, err)
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL).Context(ctx)
	err := b.Connect()
	if err != nil {
		tel.ReportBroken(report_rod_launch, err)
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	w, h := cfg.viewport()
	err = proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1,
	}.Call(page)
	if err != nil {
		tel.ReportWarning(report_rod_viewport, err)
	}

	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua})
	if err != nil {
		tel.ReportWarning(report_rod_viewport, fmt.Errorf("user agent: %w", err))
	}

	d := &RodDriver{
		cfg:     cfg,
		tel:     tel,
		browser: b,
		page:    page,
		order:   []proto.TargetTargetID{page.TargetID},
	}
	return d, nil
}

func (d *RodDriver) current(ctx context.Context) (*rod.Page, error) {
	if d.page == nil {
		return nil, errors.New("no current window")
	}
	return d.page.Context(ctx), nil
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	page = page.Timeout(d.cfg.navigationTimeout())
	err = page.Navigate(url)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	err = page.WaitLoad()
	if err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

func (d *RodDriver) info(ctx context.Context) (*proto.TargetTargetInfo, error) {
	page, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	return page.Info()
}

func (d *RodDriver) URL(ctx context.Context) (string, error) {
	info, err := d.info(ctx)
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (d *RodDriver) Title(ctx context.Context) (string, error) {
	info, err := d.info(ctx)
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (d *RodDriver) Find(ctx context.Context, xpath string, wait time.Duration) (Element, error) {
	page, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	if wait <= 0 {
		// a zero timeout context is already expired, so look once instead
		els, err := page.ElementsX(xpath)
		if err != nil {
			return nil, err
		}
		if len(els) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, xpath)
		}
		return rodElement{el: els.First()}, nil
	}
	el, err := page.Timeout(wait).ElementX(xpath)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, xpath)
	}
	if err != nil {
		return nil, err
	}
	return rodElement{el: el.CancelTimeout()}, nil
}

func (d *RodDriver) FindAll(ctx context.Context, xpath string) ([]Element, error) {
	page, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	els, err := page.ElementsX(xpath)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (d *RodDriver) eval(ctx context.Context, js string) (string, error) {
	page, err := d.current(ctx)
	if err != nil {
		return "", err
	}
	res, err := page.Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (d *RodDriver) BodyText(ctx context.Context) (string, error) {
	return d.eval(ctx, `() => document.body ? document.body.innerText : ""`)
}

func (d *RodDriver) HTML(ctx context.Context) (string, error) {
	page, err := d.current(ctx)
	if err != nil {
		return "", err
	}
	return page.HTML()
}

func (d *RodDriver) Exec(ctx context.Context, script string) error {
	_, err := d.eval(ctx, script)
	return err
}

// Windows lists page targets, new targets are appended in discovery order.
func (d *RodDriver) Windows(ctx context.Context) ([]WindowHandle, error) {
	pages, err := d.browser.Context(ctx).Pages()
	if err != nil {
		d.tel.ReportBroken(report_rod_windows, err)
		return nil, err
	}

	alive := make(map[proto.TargetTargetID]struct{}, len(pages))
	for _, p := range pages {
		alive[p.TargetID] = struct{}{}
		if !slices.Contains(d.order, p.TargetID) {
			d.order = append(d.order, p.TargetID)
		}
	}

	var handles []WindowHandle
	kept := d.order[:0]
	for _, id := range d.order {
		if _, ok := alive[id]; !ok {
			continue
		}
		kept = append(kept, id)
		handles = append(handles, WindowHandle(id))
	}
	d.order = kept
	return handles, nil
}

func (d *RodDriver) CurrentWindow(ctx context.Context) (WindowHandle, error) {
	if d.page == nil {
		return "", errors.New("no current window")
	}
	return WindowHandle(d.page.TargetID), nil
}

func (d *RodDriver) SwitchWindow(ctx context.Context, handle WindowHandle) error {
	page, err := d.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("switch to %s: %w", handle, err)
	}
	_, err = page.Activate()
	if err != nil {
		return fmt.Errorf("activate %s: %w", handle, err)
	}
	d.page = page.Context(context.Background())
	return nil
}

func (d *RodDriver) CloseWindow(ctx context.Context, handle WindowHandle) error {
	page, err := d.browser.Context(ctx).PageFromTarget(proto.TargetTargetID(handle))
	if err != nil {
		return fmt.Errorf("close %s: %w", handle, err)
	}
	err = page.Close()
	if err != nil {
		return fmt.Errorf("close %s: %w", handle, err)
	}
	if d.page != nil && d.page.TargetID == proto.TargetTargetID(handle) {
		d.page = nil
	}
	return nil
}

func (d *RodDriver) Screenshot(ctx context.Context, path string) error {
	page, err := d.current(ctx)
	if err != nil {
		return err
	}
	img, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return fmt.Errorf("capture screenshot: %w", err)
	}
	return os.WriteFile(path, img, 0644)
}

func (d *RodDriver) SetDownloadDir(ctx context.Context, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	return proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllow,
		DownloadPath:  abs,
		EventsEnabled: true,
	}.Call(d.browser.Context(ctx))
}

func (d *RodDriver) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	page, err := d.current(ctx)
	if err != nil {
		return nil, err
	}
	cookies, err := page.Cookies(nil)
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		}
	}
	return out, nil
}

func (d *RodDriver) Close() error {
	return d.browser.Close()
}

type rodElement struct {
	el *rod.Element
}

func wrapElements(els rod.Elements) []Element {
	out := make([]Element, len(els))
	for i, el := range els {
		out[i] = rodElement{el: el}
	}
	return out
}

func (e rodElement) Text() (string, error) {
	return e.el.Text()
}

func (e rodElement) Attribute(name string) (string, bool, error) {
	v, err := e.el.Attribute(name)
	if err != nil {
		return "", false, err
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e rodElement) Query(xpath string) ([]Element, error) {
	els, err := e.el.ElementsX(xpath)
	if err != nil {
		return nil, err
	}
	return wrapElements(els), nil
}

func (e rodElement) Visible() bool {
	visible, err := e.el.Visible()
	return err == nil && visible
}

func (e rodElement) Checked() bool {
	prop, err := e.el.Property("checked")
	return err == nil && prop.Bool()
}

func (e rodElement) Click(ctx context.Context) error {
	err := e.el.Context(ctx).Timeout(clickTimeout).Click(proto.InputMouseButtonLeft, 1)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntercepted, err)
	}
	return nil
}

func (e rodElement) ForceClick(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (e rodElement) ScrollIntoView(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.scrollIntoView({block: "center"})`)
	return err
}

func (e rodElement) SetValue(ctx context.Context, value string) error {
	_, err := e.el.Context(ctx).Eval(`(v) => {
		this.value = v;
		this.dispatchEvent(new Event("input", {bubbles: true}));
		this.dispatchEvent(new Event("change", {bubbles: true}));
	}`, value)
	return err
}

func (e rodElement) Value() (string, error) {
	prop, err := e.el.Property("value")
	if err != nil {
		return "", err
	}
	return prop.Str(), nil
}

func (e rodElement) SelectOption(ctx context.Context, text string) error {
	_, err := e.el.Context(ctx).Eval(`(text) => {
		for (const opt of this.options) {
			if (opt.text.trim() === text.trim()) {
				this.value = opt.value;
				opt.selected = true;
				this.dispatchEvent(new Event("change", {bubbles: true}));
				return true;
			}
		}
		throw new Error("option not found: " + text);
	}`, text)
	return err
}

func (e rodElement) Options() ([]string, error) {
	opts, err := e.el.ElementsX("./option")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		text, err := o.Text()
		if err != nil {
			continue
		}
		out = append(out, text)
	}
	return out, nil
}
