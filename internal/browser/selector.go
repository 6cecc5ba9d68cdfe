package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chartwatch/internal/components/fallback"
	"chartwatch/lib/htmlutil"
)

// Selector is one way of finding an element.
type Selector struct {
	Desc  string
	XPath string
}

func (s Selector) String() string {
	return s.Desc
}

// Relative rewrites an absolute selector so it evaluates under another node.
func (s Selector) Relative() Selector {
	if strings.HasPrefix(s.XPath, ".") {
		return s
	}
	return Selector{Desc: s.Desc, XPath: "." + s.XPath}
}

func ByXPath(xpath string) Selector {
	return Selector{Desc: xpath, XPath: xpath}
}

func ByID(id string) Selector {
	return Selector{
		Desc:  "#" + id,
		XPath: fmt.Sprintf("//*[@id=%s]", htmlutil.XPathLiteral(id)),
	}
}

func ByName(tag, name string) Selector {
	return Selector{
		Desc:  fmt.Sprintf("%s[name=%s]", tag, name),
		XPath: fmt.Sprintf("//%s[@name=%s]", tag, htmlutil.XPathLiteral(name)),
	}
}

func ByAttr(tag, attr, value string) Selector {
	return Selector{
		Desc:  fmt.Sprintf("%s[%s=%s]", tag, attr, value),
		XPath: fmt.Sprintf("//%s[@%s=%s]", tag, attr, htmlutil.XPathLiteral(value)),
	}
}

// ByClass matches tag elements carrying every class.
func ByClass(tag string, classes ...string) Selector {
	conds := make([]string, len(classes))
	for i, c := range classes {
		conds[i] = htmlutil.XPathHasClass(c)
	}
	return Selector{
		Desc:  tag + "." + strings.Join(classes, "."),
		XPath: fmt.Sprintf("//%s[%s]", tag, strings.Join(conds, " and ")),
	}
}

// ByText matches tag elements whose normalized text contains text.
func ByText(tag, text string) Selector {
	return Selector{
		Desc:  fmt.Sprintf("%s:contains(%q)", tag, text),
		XPath: fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, htmlutil.XPathLiteral(text)),
	}
}

// ByExactText matches tag elements whose normalized text equals text.
func ByExactText(tag, text string) Selector {
	return Selector{
		Desc:  fmt.Sprintf("%s:text(%q)", tag, text),
		XPath: fmt.Sprintf("//%s[normalize-space(.) = %s]", tag, htmlutil.XPathLiteral(text)),
	}
}

// Candidates is an ordered list of alternative selectors for the same control,
// the first that matches wins.
type Candidates []Selector

// Find tries each selector with its own bounded wait.
func (c Candidates) Find(ctx context.Context, d Driver, wait time.Duration) (Element, Selector, error) {
	attempts := make([]fallback.Attempt[Element], len(c))
	for i, sel := range c {
		attempts[i] = fallback.Attempt[Element]{
			Name: sel.Desc,
			Try: func(ctx context.Context) (Element, bool) {
				el, err := d.Find(ctx, sel.XPath, wait)
				return el, err == nil
			},
		}
	}
	el, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		return nil, Selector{}, fmt.Errorf("%w: tried %s", ErrNotFound, c)
	}
	return el, c[out.Index], nil
}

// FindVisible is Find but skips matches that are present and hidden.
func (c Candidates) FindVisible(ctx context.Context, d Driver, wait time.Duration) (Element, Selector, error) {
	attempts := make([]fallback.Attempt[Element], len(c))
	for i, sel := range c {
		attempts[i] = fallback.Attempt[Element]{
			Name: sel.Desc,
			Try: func(ctx context.Context) (Element, bool) {
				el, err := d.Find(ctx, sel.XPath, wait)
				if err != nil {
					return nil, false
				}
				if el.Visible() {
					return el, true
				}
				// the first match may be a hidden template, look at the rest
				all, err := d.FindAll(ctx, sel.XPath)
				if err != nil {
					return nil, false
				}
				for _, candidate := range all {
					if candidate.Visible() {
						return candidate, true
					}
				}
				return nil, false
			},
		}
	}
	el, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		return nil, Selector{}, fmt.Errorf("%w: no visible match for %s", ErrNotFound, c)
	}
	return el, c[out.Index], nil
}

// FindWithin evaluates every selector relative to scope, without waiting.
func (c Candidates) FindWithin(ctx context.Context, scope Element) (Element, Selector, error) {
	attempts := make([]fallback.Attempt[Element], len(c))
	for i, sel := range c {
		rel := sel.Relative()
		attempts[i] = fallback.Attempt[Element]{
			Name: rel.Desc,
			Try: func(context.Context) (Element, bool) {
				found, err := scope.Query(rel.XPath)
				if err != nil || len(found) == 0 {
					return nil, false
				}
				return found[0], true
			},
		}
	}
	el, out := fallback.First(ctx, attempts...)
	if !out.Found() {
		return nil, Selector{}, fmt.Errorf("%w: tried %s within scope", ErrNotFound, c)
	}
	return el, c[out.Index], nil
}

func (c Candidates) String() string {
	descs := make([]string, len(c))
	for i, s := range c {
		descs[i] = s.Desc
	}
	return "[" + strings.Join(descs, ", ") + "]"
}

// IsNotFound reports whether err came from an expired lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
