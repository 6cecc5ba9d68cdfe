// Package research reads the chartlist sections of the members site. After a
// login every configured section is located by its name aliases, the fields
// around it are extracted and its spreadsheet is downloaded when the update
// date differs from the last known one.
package research

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/download"
	"chartwatch/internal/extract"
	"chartwatch/internal/locator"
	"chartwatch/internal/result"

	"go.opentelemetry.io/otel/attribute"
)

const (
	report_login    = "login"
	report_open     = "open-chartlists"
	report_section  = "section"
	report_download = "download"
)

var tracer = telemetry.Tracer("chartwatch/research")

// ErrAuthentication ends the run: nothing on the members site is readable
// without a session.
var ErrAuthentication = errors.New("members site login failed")

// UnknownDate is the known date of a section that was never seen before.
const UnknownDate = "none"

// Section is one named chartlist on the members page.
type Section struct {
	Key string `json:"key"`
	// Names are the heading texts the section has been published under, most
	// likely first.
	Names []string `json:"names"`
	// KnownDate is the update date seen on the previous run.
	KnownDate string `json:"known_date"`
}

func DefaultSections() []Section {
	return []Section{
		{
			Key:       "leading_stocks",
			Names:     []string{"Leading Stocks ChartList", "Leading Stocks"},
			KnownDate: UnknownDate,
		},
		{
			Key:       "hot_stocks",
			Names:     []string{"Matt's Hot Stocks ChartList", "Hot Stocks ChartList", "Hot Stocks"},
			KnownDate: UnknownDate,
		},
	}
}

type Timing struct {
	ElementWait     time.Duration
	LocateWait      time.Duration
	Settle          time.Duration
	PageSettle      time.Duration
	DownloadTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ElementWait:     30 * time.Second,
		LocateWait:      5 * time.Second,
		Settle:          time.Second,
		PageSettle:      3 * time.Second,
		DownloadTimeout: 30 * time.Second,
	}
}

type Config struct {
	LoginURL      string
	ChartlistsURL string
	Username      string
	Password      string
	// MembersPath is a path segment every authenticated location contains.
	MembersPath string
	// DownloadDir holds one subdirectory per section key.
	DownloadDir string
	Sections    []Section
	Timing      Timing
}

func DefaultConfig() Config {
	return Config{
		LoginURL:      "https://www.earningsbeats.com/members/login.cfm",
		ChartlistsURL: "https://www.earningsbeats.com/members/chartlists.cfm",
		MembersPath:   "/members",
		Sections:      DefaultSections(),
		Timing:        DefaultTiming(),
	}
}

var (
	loginUser = browser.Candidates{
		browser.ByID("UserID"),
		browser.ByName("input", "UserID"),
	}
	loginPassword = browser.Candidates{
		browser.ByID("Password"),
		browser.ByName("input", "Password"),
		browser.ByAttr("input", "type", "password"),
	}
	loginSubmit = browser.Candidates{
		browser.ByID("btnLogin"),
		browser.ByAttr("input", "type", "submit"),
		browser.ByAttr("button", "type", "submit"),
	}
	acceptCookies = browser.Candidates{
		browser.ByXPath(`//button[contains(text(), 'Accept')] | //a[contains(text(), 'Accept')]`),
	}
)

// Outcome is what was learned about one section.
type Outcome struct {
	Key string
	// Located is false when only the degraded whole-page date scan ran.
	Located     bool
	Date        string
	IsNew       bool
	Credential  string
	ResourceURL string
	FilePath    string
}

// Entry is the section's shape in the emitted run result.
func (o Outcome) Entry() result.Research {
	return result.Research{
		DateOnPage:  result.Str(o.Date),
		IsNew:       o.IsNew,
		FilePath:    result.Str(o.FilePath),
		Credential:  result.Str(o.Credential),
		ResourceURL: result.Str(o.ResourceURL),
	}
}

type Runner struct {
	d         browser.Driver
	tel       telemetry.API
	loc       locator.Locator
	x         extract.Extractor
	downloads download.Coordinator
	fetcher   download.Fetcher
	cfg       Config
}

func NewRunner(
	d browser.Driver,
	tel telemetry.API,
	loc locator.Locator,
	x extract.Extractor,
	downloads download.Coordinator,
	fetcher download.Fetcher,
	cfg Config,
) *Runner {
	assert.NotNil(d)
	assert.NotNil(tel)
	assert.NotEmptyStr(cfg.LoginURL)
	assert.NotEmptyStr(cfg.ChartlistsURL)
	assert.NotEmptyStr(cfg.MembersPath)
	assert.NotEmptyStr(cfg.DownloadDir)
	assert.NotEmpty(cfg.Sections)
	return &Runner{
		d:         d,
		tel:       telemetry.NewScopedAPI("research", tel),
		loc:       loc,
		x:         x,
		downloads: downloads,
		fetcher:   fetcher,
		cfg:       cfg,
	}
}

// authenticated is true inside the members area but not on its login page.
func (r *Runner) authenticated(ctx context.Context) bool {
	location, err := r.d.URL(ctx)
	if err != nil {
		return false
	}
	location = strings.ToLower(location)
	return strings.Contains(location, strings.ToLower(r.cfg.MembersPath)) &&
		!strings.Contains(location, "login")
}

func (r *Runner) Login(ctx context.Context) error {
	loginError := func(err error) error {
		r.tel.ReportBroken(report_login, err)
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	t := r.cfg.Timing

	err := r.d.Navigate(ctx, r.cfg.LoginURL)
	if err != nil {
		return loginError(err)
	}
	if r.authenticated(ctx) {
		r.tel.ReportDebug(report_login, "session still valid")
		return nil
	}

	user, _, err := loginUser.Find(ctx, r.d, t.ElementWait)
	if err != nil {
		return loginError(fmt.Errorf("username field: %w", err))
	}
	err = user.SetValue(ctx, r.cfg.Username)
	if err != nil {
		return loginError(err)
	}
	password, _, err := loginPassword.Find(ctx, r.d, 0)
	if err != nil {
		return loginError(fmt.Errorf("password field: %w", err))
	}
	err = password.SetValue(ctx, r.cfg.Password)
	if err != nil {
		return loginError(err)
	}
	submit, _, err := loginSubmit.Find(ctx, r.d, 0)
	if err != nil {
		return loginError(fmt.Errorf("login button: %w", err))
	}
	err = browser.Click(ctx, submit)
	if err != nil {
		return loginError(err)
	}
	browser.Settle(ctx, t.PageSettle)

	if !r.authenticated(ctx) {
		location, _ := r.d.URL(ctx)
		return loginError(fmt.Errorf("still outside the members area at %s", location))
	}
	r.tel.ReportDebug(report_login, "logged in")
	return nil
}

// Open loads the chartlists page and dismisses the cookie notice if one shows.
func (r *Runner) Open(ctx context.Context) error {
	err := r.d.Navigate(ctx, r.cfg.ChartlistsURL)
	if err != nil {
		return fmt.Errorf("open chartlists: %w", err)
	}
	browser.Settle(ctx, r.cfg.Timing.PageSettle)

	accept, _, err := acceptCookies.FindVisible(ctx, r.d, 0)
	if err != nil {
		return nil
	}
	err = browser.Click(ctx, accept)
	if err != nil {
		r.tel.ReportDebug(report_open, "cookie notice", err)
		return nil
	}
	browser.Settle(ctx, r.cfg.Timing.Settle)
	return nil
}

// Section reads one section off the currently open page. It never fails, a
// missing field is left empty.
func (r *Runner) Section(ctx context.Context, s Section) Outcome {
	ctx, span := tracer.Start(ctx, "Section")
	defer span.End()
	span.SetAttributes(attribute.String("key", s.Key))

	out := Outcome{Key: s.Key}
	known := s.KnownDate
	if known == "" {
		known = UnknownDate
	}

	spec, err := locator.NewSearchSpec(s.Names...)
	if err != nil {
		r.tel.ReportWarning(report_section, s.Key, err)
		return out
	}

	var meta extract.SectionMetadata
	anchor, ok := r.loc.Locate(ctx, spec)
	if ok {
		out.Located = true
		meta = r.x.Extract(ctx, anchor)
	} else {
		r.tel.ReportWarning(report_section, "not located, scanning whole page for a date", s.Key)
		meta.Date = r.x.DateOnly(ctx)
	}
	out.Date = meta.Date
	out.Credential = meta.Credential
	out.ResourceURL = meta.ResourceLink
	out.IsNew = extract.IsNew(meta.Date, known)
	r.tel.ReportDebug(report_section, s.Key, out.Date, known, out.IsNew)

	if !out.IsNew {
		return out
	}
	if meta.DownloadLink == nil && meta.DownloadHref == "" {
		r.tel.ReportWarning(report_download, "no download link", s.Key)
		return out
	}
	out.FilePath = r.download(ctx, s.Key, meta)
	return out
}

func (r *Runner) download(ctx context.Context, key string, meta extract.SectionMetadata) string {
	t := r.cfg.Timing
	dir := filepath.Join(r.cfg.DownloadDir, key)
	exts := download.SpreadsheetExtensions

	err := r.downloads.Purge(dir, exts)
	if err != nil {
		r.tel.ReportWarning(report_download, "purge", err)
	}
	err = r.d.SetDownloadDir(ctx, dir)
	if err != nil {
		r.tel.ReportWarning(report_download, "set download dir", err)
	}

	if meta.DownloadLink != nil {
		err = meta.DownloadLink.ScrollIntoView(ctx)
		if err != nil {
			r.tel.ReportDebug(report_download, "scroll", err)
		}
		browser.Settle(ctx, t.Settle)
		err = browser.Click(ctx, meta.DownloadLink)
		if err != nil {
			r.tel.ReportWarning(report_download, "click", key, err)
		} else {
			browser.Settle(ctx, 2*t.Settle)
			path, ok := r.downloads.WaitForCompleted(ctx, download.Target{
				Dir:        dir,
				Extensions: exts,
				Timeout:    t.DownloadTimeout,
			})
			if ok {
				r.tel.ReportDebug(report_download, key, path)
				return path
			}
		}
	}

	if meta.DownloadHref == "" {
		return ""
	}
	link, err := r.absolute(ctx, meta.DownloadHref)
	if err != nil {
		r.tel.ReportWarning(report_download, "resolve link", meta.DownloadHref, err)
		return ""
	}
	cookies, err := r.d.Cookies(ctx)
	if err != nil {
		r.tel.ReportDebug(report_download, "cookies", err)
	}
	path, err := r.fetcher.Fetch(ctx, link, dir, cookies)
	if err != nil {
		r.tel.ReportWarning(report_download, "direct fetch", key, err)
		return ""
	}
	r.tel.ReportDebug(report_download, "fetched directly", key, path)
	return path
}

// absolute resolves href against the current page location.
func (r *Runner) absolute(ctx context.Context, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	location, err := r.d.URL(ctx)
	if err != nil {
		return "", err
	}
	base, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Run logs in and reads every configured section in order. Only a failed login
// or an unreachable chartlists page is returned as an error.
func (r *Runner) Run(ctx context.Context) ([]Outcome, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	err := r.Login(ctx)
	if err != nil {
		return nil, err
	}
	err = r.Open(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]Outcome, 0, len(r.cfg.Sections))
	for _, s := range r.cfg.Sections {
		outcomes = append(outcomes, r.Section(ctx, s))
	}
	return outcomes, nil
}
