// Package locator finds a named section among many similar ones on a page whose
// markup changes from run to run.
package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/fallback"
	"chartwatch/internal/components/telemetry"
	"chartwatch/lib/htmlutil"

	"go.opentelemetry.io/otel/attribute"
)

const (
	report_locate   = "locate"
	report_notfound = "not-found"
)

var tracer = telemetry.Tracer("chartwatch/locator")

// ErrEmptySpec is returned for a search spec without any usable candidate.
var ErrEmptySpec = errors.New("search spec has no candidates")

// SearchSpec is an ordered list of names for one section, highest priority first.
type SearchSpec struct {
	candidates []string
}

// NewSearchSpec drops blank names and fails when nothing is left.
func NewSearchSpec(names ...string) (SearchSpec, error) {
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return SearchSpec{}, ErrEmptySpec
	}
	return SearchSpec{candidates: out}, nil
}

func (s SearchSpec) Candidates() []string {
	return append([]string(nil), s.candidates...)
}

// Primary is the highest priority name.
func (s SearchSpec) Primary() string {
	if len(s.candidates) == 0 {
		return ""
	}
	return s.candidates[0]
}

type Tier int

const (
	// TierAnyNode matched a text node of any element.
	TierAnyNode Tier = 1
	// TierContent matched the most specific content-bearing element.
	TierContent Tier = 2
)

func (t Tier) String() string {
	switch t {
	case TierAnyNode:
		return "any-node"
	case TierContent:
		return "content"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// AnchorMatch is the located section heading.
type AnchorMatch struct {
	Element   browser.Element
	Candidate string
	Text      string
	Tier      Tier
}

// contentKinds are the element kinds that carry section titles.
var contentKinds = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"strong", "b", "em", "p", "td", "th",
	"a", "li", "label", "span", "div",
}

// AnyNodeXPath matches any element outside script and style with a direct text
// node containing text.
func AnyNodeXPath(text string) string {
	return fmt.Sprintf(
		"//body//*[not(self::script) and not(self::style)][text()[contains(., %s)]]",
		htmlutil.XPathLiteral(text),
	)
}

// ContentXPath matches content-bearing elements whose text contains text.
func ContentXPath(text string) string {
	kinds := make([]string, len(contentKinds))
	for i, k := range contentKinds {
		kinds[i] = "self::" + k
	}
	return fmt.Sprintf(
		"//body//*[%s][contains(normalize-space(.), %s)]",
		strings.Join(kinds, " or "),
		htmlutil.XPathLiteral(text),
	)
}

type Locator struct {
	d    browser.Driver
	tel  telemetry.API
	wait time.Duration
}

// New returns a locator that waits up to wait for the first tier of each
// candidate.
func New(d browser.Driver, tel telemetry.API, wait time.Duration) Locator {
	assert.NotNil(d)
	assert.NotNil(tel)
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return Locator{
		d:    d,
		tel:  telemetry.NewScopedAPI("locator", tel),
		wait: wait,
	}
}

func (l Locator) anyNode(candidate string) fallback.Attempt[AnchorMatch] {
	return fallback.Attempt[AnchorMatch]{
		Name: TierAnyNode.String(),
		Try: func(ctx context.Context) (AnchorMatch, bool) {
			el, err := l.d.Find(ctx, AnyNodeXPath(candidate), l.wait)
			if err != nil {
				return AnchorMatch{}, false
			}
			return AnchorMatch{
				Element:   el,
				Candidate: candidate,
				Text:      browser.TextOf(el),
				Tier:      TierAnyNode,
			}, true
		},
	}
}

func (l Locator) content(candidate string) fallback.Attempt[AnchorMatch] {
	return fallback.Attempt[AnchorMatch]{
		Name: TierContent.String(),
		Try: func(ctx context.Context) (AnchorMatch, bool) {
			all, err := l.d.FindAll(ctx, ContentXPath(candidate))
			if err != nil || len(all) == 0 {
				return AnchorMatch{}, false
			}
			var best AnchorMatch
			found := false
			for _, el := range all {
				text := browser.TextOf(el)
				if !found || len(text) < len(best.Text) {
					best = AnchorMatch{Element: el, Candidate: candidate, Text: text, Tier: TierContent}
					found = true
				}
			}
			return best, found
		},
	}
}

// Locate resolves spec to at most one anchor. Both tiers are tried for a
// candidate before moving on to the next one, so an earlier candidate always
// wins over a later one.
func (l Locator) Locate(ctx context.Context, spec SearchSpec) (AnchorMatch, bool) {
	ctx, span := tracer.Start(ctx, "Locate")
	defer span.End()
	span.SetAttributes(attribute.String("primary", spec.Primary()))

	var attempts []fallback.Attempt[AnchorMatch]
	for _, candidate := range spec.candidates {
		attempts = append(attempts, l.anyNode(candidate), l.content(candidate))
	}
	match, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		l.tel.ReportDebug(report_notfound, spec.candidates)
		l.suggest(ctx, spec)
		return AnchorMatch{}, false
	}
	l.tel.ReportDebug(report_locate, match.Candidate, match.Tier.String())
	span.SetAttributes(
		attribute.String("candidate", match.Candidate),
		attribute.Int("tier", int(match.Tier)),
	)
	return match, true
}
