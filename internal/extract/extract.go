// Package extract pulls the fields of a located section out of the unstructured
// text and links around it. Each field has its own ordered chain of proximity
// strategies and degrades to empty instead of failing.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/fallback"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/locator"
	"chartwatch/lib/htmlutil"
)

const (
	report_date       = "date"
	report_credential = "credential"
	report_resource   = "resource-link"
	report_download   = "download-link"
	report_body       = "body-text"
)

var (
	dateRegex       = regexp.MustCompile(`(?i)last\s+update[\s:\-]*(\d{1,2}/\d{1,2}/\d{2,4})`)
	credentialRegex = regexp.MustCompile(`(?i)\(\s*password:\s*([A-Za-z0-9]+)\s*\)`)
)

const (
	// forwardWindow bounds scans to the section that starts at the anchor.
	forwardWindow = 800
	// aroundWindow is the radius of the last resort date scan.
	aroundWindow     = 500
	followingNodes   = 15
	dateLevels       = 4
	credentialLevels = 2
	resourceLevels   = 5
	downloadLevels   = 4
	domainLinks      = 3
)

// ParseDate returns the first "last update" date in text.
func ParseDate(text string) (string, bool) {
	m := dateRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ParseCredential returns the first "(password: ...)" value in text.
func ParseCredential(text string) (string, bool) {
	m := credentialRegex.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// IsNew reports whether a date read from the page differs from the known one. A
// missing date is never new.
func IsNew(date, known string) bool {
	return date != "" && date != known
}

type Config struct {
	// ResourceMarker is a substring of the links that open a shared resource.
	ResourceMarker string
	// SiteDomain is the broader domain resource links live on.
	SiteDomain string
	// ExcludedPaths are SiteDomain paths that never point at content.
	ExcludedPaths []string
	// AppName is the exact label of the download link.
	AppName string
	// Keyword is a looser, case-insensitive label match for the download link.
	Keyword string
	// Extensions are the file kinds a download link may point at.
	Extensions []string
}

func DefaultConfig() Config {
	return Config{
		ResourceMarker: "stockcharts.com/sc3/ui",
		SiteDomain:     "stockcharts.com",
		ExcludedPaths:  []string{"/checkout", "/trial"},
		AppName:        "Microsoft Excel",
		Keyword:        "excel",
		Extensions:     []string{".xls", ".xlsx", ".csv"},
	}
}

// SectionMetadata holds the fields found near a section. Empty means not found,
// every field is independent of the others.
type SectionMetadata struct {
	Date         string
	Credential   string
	ResourceLink string
	// DownloadLink is the element to click to download, nil when not found.
	DownloadLink browser.Element
	DownloadHref string
}

type Extractor struct {
	d   browser.Driver
	tel telemetry.API
	cfg Config
}

func New(d browser.Driver, tel telemetry.API, cfg Config) Extractor {
	assert.NotNil(d)
	assert.NotNil(tel)
	assert.NotEmptyStr(cfg.ResourceMarker)
	assert.NotEmptyStr(cfg.Keyword)
	return Extractor{
		d:   d,
		tel: telemetry.NewScopedAPI("extract", tel),
		cfg: cfg,
	}
}

// section is the state shared by the field chains of one extraction.
type section struct {
	anchor locator.AnchorMatch
	body   string
	// offset is the byte offset of the anchor in body, -1 when unknown.
	offset int
}

// Extract runs every field chain relative to anchor.
func (x Extractor) Extract(ctx context.Context, anchor locator.AnchorMatch) SectionMetadata {
	body, err := x.d.BodyText(ctx)
	if err != nil {
		x.tel.ReportWarning(report_body, err)
	}
	s := section{
		anchor: anchor,
		body:   body,
		offset: AnchorOffset(body, anchor),
	}

	meta := SectionMetadata{
		Date:       x.date(ctx, s),
		Credential: x.credential(ctx, s),
	}
	meta.ResourceLink = x.resourceLink(ctx, s, meta.Credential)
	meta.DownloadLink, meta.DownloadHref = x.downloadLink(ctx, s)
	return meta
}

// DateOnly scans the whole document for a date, used when the section itself
// could not be located.
func (x Extractor) DateOnly(ctx context.Context) string {
	body, err := x.d.BodyText(ctx)
	if err != nil {
		x.tel.ReportWarning(report_body, err)
		return ""
	}
	date, ok := ParseDate(body)
	if !ok {
		x.tel.ReportDebug(report_date, "no date anywhere in document")
	}
	return date
}

// AnchorOffset finds where the anchor's own line starts in the document text,
// falling back to the first occurrence of the matched candidate.
func AnchorOffset(body string, anchor locator.AnchorMatch) int {
	for _, line := range strings.Split(anchor.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.Contains(line, anchor.Candidate) {
			continue
		}
		if i := strings.Index(body, line); i >= 0 {
			return i
		}
	}
	if anchor.Candidate == "" {
		return -1
	}
	if i := strings.Index(body, anchor.Candidate); i >= 0 {
		return i
	}
	return strings.Index(strings.ToLower(body), strings.ToLower(anchor.Candidate))
}

// window returns the text from before characters ahead of offset up to after
// characters past it.
func window(body string, offset, before, after int) string {
	if offset < 0 || offset > len(body) {
		return ""
	}
	start := offset
	for i := 0; i < before && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(body[:start])
		start -= size
	}
	end := offset
	for i := 0; i < after && end < len(body); i++ {
		_, size := utf8.DecodeRuneInString(body[end:])
		end += size
	}
	return body[start:end]
}

func (x Extractor) textAttempt(name string, text func() string, parse func(string) (string, bool)) fallback.Attempt[string] {
	return fallback.Attempt[string]{
		Name: name,
		Try: func(context.Context) (string, bool) {
			return parse(text())
		},
	}
}

// ancestorText is the rendered text of the level-th enclosing element.
func ancestorText(el browser.Element, level int) string {
	if el == nil {
		return ""
	}
	found, err := el.Query(fmt.Sprintf("ancestor::*[%d]", level))
	if err != nil || len(found) == 0 {
		return ""
	}
	return browser.TextOf(found[0])
}

func (x Extractor) date(ctx context.Context, s section) string {
	attempts := fallback.Chain(
		[]fallback.Attempt[string]{
			x.textAttempt("forward-window", func() string {
				return window(s.body, s.offset, 0, forwardWindow)
			}, ParseDate),
		},
		fallback.Levels("ancestor", 1, dateLevels, func(_ context.Context, level int) (string, bool) {
			return ParseDate(ancestorText(s.anchor.Element, level))
		}),
		[]fallback.Attempt[string]{
			{
				Name: "following-nodes",
				Try: func(context.Context) (string, bool) {
					nodes, err := s.anchor.Element.Query(fmt.Sprintf("following::*[position() <= %d]", followingNodes))
					if err != nil {
						return "", false
					}
					for _, n := range nodes {
						if date, ok := ParseDate(browser.TextOf(n)); ok {
							return date, true
						}
					}
					return "", false
				},
			},
			x.textAttempt("around-window", func() string {
				return window(s.body, s.offset, aroundWindow, aroundWindow)
			}, ParseDate),
		},
	)
	date, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		x.tel.ReportDebug(report_date, "exhausted", s.anchor.Candidate, out.Tried)
		return ""
	}
	x.tel.ReportDebug(report_date, s.anchor.Candidate, date, out.Name)
	return date
}

func (x Extractor) credential(ctx context.Context, s section) string {
	attempts := fallback.Chain(
		[]fallback.Attempt[string]{
			x.textAttempt("forward-window", func() string {
				return window(s.body, s.offset, 0, forwardWindow)
			}, ParseCredential),
		},
		fallback.Levels("ancestor", 1, credentialLevels, func(_ context.Context, level int) (string, bool) {
			return ParseCredential(ancestorText(s.anchor.Element, level))
		}),
	)
	credential, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		x.tel.ReportDebug(report_credential, "exhausted", s.anchor.Candidate)
		return ""
	}
	x.tel.ReportDebug(report_credential, s.anchor.Candidate, out.Name)
	return credential
}

// link is a located anchor element and its target.
type link struct {
	el   browser.Element
	href string
}

// firstLink queries xpath relative to el and returns the first result whose href
// is accepted by keep, or simply the first result when keep is nil.
func firstLink(el browser.Element, xpath string, keep func(href string) bool) (link, bool) {
	if el == nil {
		return link{}, false
	}
	found, err := el.Query(xpath)
	if err != nil {
		return link{}, false
	}
	for _, a := range found {
		href := browser.AttrOf(a, "href")
		if keep == nil || keep(href) {
			return link{el: a, href: href}, true
		}
	}
	return link{}, false
}

func (x Extractor) excluded(href string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return true
	}
	for _, p := range x.cfg.ExcludedPaths {
		if strings.HasPrefix(strings.ToLower(u.Path), p) {
			return true
		}
	}
	return false
}

func (x Extractor) resourceLink(ctx context.Context, s section, credential string) string {
	marker := fmt.Sprintf("contains(@href, %s)", htmlutil.XPathLiteral(x.cfg.ResourceMarker))
	attempt := func(name string, find func() (link, bool)) fallback.Attempt[link] {
		return fallback.Attempt[link]{Name: name, Try: func(context.Context) (link, bool) { return find() }}
	}

	attempts := fallback.Chain(
		[]fallback.Attempt[link]{
			attempt("following-marker", func() (link, bool) {
				return firstLink(s.anchor.Element, fmt.Sprintf("following::a[%s][1]", marker), nil)
			}),
			attempt("near-credential", func() (link, bool) {
				if credential == "" {
					return link{}, false
				}
				holder := x.credentialHolder(ctx, s.anchor.Element, credential)
				if holder == nil {
					return link{}, false
				}
				for _, xpath := range []string{
					fmt.Sprintf("preceding-sibling::a[%s][1]", marker),
					fmt.Sprintf("preceding-sibling::*//a[%s]", marker),
					fmt.Sprintf("parent::*//a[%s]", marker),
				} {
					if l, ok := firstLink(holder, xpath, nil); ok {
						return l, true
					}
				}
				return link{}, false
			}),
		},
		fallback.Levels("ancestor", 1, resourceLevels, func(_ context.Context, level int) (link, bool) {
			return firstLink(s.anchor.Element, fmt.Sprintf("ancestor::*[%d]//a[%s]", level, marker), nil)
		}),
		[]fallback.Attempt[link]{
			attempt("following-domain", func() (link, bool) {
				xpath := fmt.Sprintf(
					"following::a[contains(@href, %s)][position() <= %d]",
					htmlutil.XPathLiteral(x.cfg.SiteDomain), domainLinks,
				)
				return firstLink(s.anchor.Element, xpath, func(href string) bool {
					return !x.excluded(href)
				})
			}),
		},
	)
	l, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		x.tel.ReportDebug(report_resource, "exhausted", s.anchor.Candidate)
		return ""
	}
	x.tel.ReportDebug(report_resource, s.anchor.Candidate, l.href, out.Name)
	return l.href
}

// credentialHolder is the element showing the credential, searched after the
// anchor first so a shared credential of an earlier section is not picked.
func (x Extractor) credentialHolder(ctx context.Context, anchor browser.Element, credential string) browser.Element {
	pred := fmt.Sprintf("[text()[contains(., %s)]]", htmlutil.XPathLiteral(credential))
	if anchor != nil {
		found, err := anchor.Query("following::*" + pred)
		if err == nil && len(found) > 0 {
			return found[0]
		}
	}
	found, err := x.d.FindAll(ctx, "//body//*"+pred)
	if err != nil || len(found) == 0 {
		return nil
	}
	return found[0]
}

func (x Extractor) downloadLink(ctx context.Context, s section) (browser.Element, string) {
	label := htmlutil.XPathLower("normalize-space(.)")
	href := htmlutil.XPathLower("@href")
	keyword := htmlutil.XPathLiteral(strings.ToLower(x.cfg.Keyword))

	var extConds []string
	for _, ext := range x.cfg.Extensions {
		extConds = append(extConds, fmt.Sprintf("contains(%s, %s)", href, htmlutil.XPathLiteral(strings.ToLower(ext))))
	}
	query := func(name, xpath string) fallback.Attempt[link] {
		return fallback.Attempt[link]{
			Name: name,
			Try: func(context.Context) (link, bool) {
				return firstLink(s.anchor.Element, xpath, nil)
			},
		}
	}

	var attempts []fallback.Attempt[link]
	if x.cfg.AppName != "" {
		attempts = append(attempts, query("following-app-name", fmt.Sprintf(
			"following::a[%s = %s][1]", label, htmlutil.XPathLiteral(strings.ToLower(x.cfg.AppName)),
		)))
	}
	attempts = append(attempts, query("following-keyword", fmt.Sprintf(
		"following::a[contains(%s, %s)][1]", label, keyword,
	)))
	if len(extConds) > 0 {
		attempts = append(attempts, query("following-extension", fmt.Sprintf(
			"following::a[%s][1]", strings.Join(extConds, " or "),
		)))
	}
	attempts = fallback.Chain(attempts, fallback.Levels("ancestor", 1, downloadLevels, func(_ context.Context, level int) (link, bool) {
		return firstLink(s.anchor.Element, fmt.Sprintf(
			"ancestor::*[%d]//a[contains(%s, %s)]", level, label, keyword,
		), nil)
	}))

	l, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		x.tel.ReportDebug(report_download, "exhausted", s.anchor.Candidate)
		return nil, ""
	}
	x.tel.ReportDebug(report_download, s.anchor.Candidate, l.href, out.Name)
	return l.el, l.href
}
