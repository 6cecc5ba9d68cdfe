package browsertest

import (
	"context"
	"fmt"
	"strings"

	"chartwatch/internal/browser"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

type element struct {
	d *Driver
	w *Window
	n *html.Node
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "figure": true,
	"footer": true, "form": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "header": true, "hr": true, "li": true, "main": true,
	"nav": true, "ol": true, "p": true, "pre": true, "section": true, "table": true,
	"tr": true, "ul": true,
}

// renderText approximates innerText: hidden and script content is skipped and
// block elements are separated by newlines.
func renderText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			collapsed := strings.Join(strings.Fields(n.Data), " ")
			if collapsed == "" {
				b.WriteString(" ")
				return
			}
			if strings.TrimLeft(n.Data, " \t\r\n") != n.Data {
				b.WriteString(" ")
			}
			b.WriteString(collapsed)
			if strings.TrimRight(n.Data, " \t\r\n") != n.Data {
				b.WriteString(" ")
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" || n.Data == "head" || hidden(n) {
				return
			}
		}
		block := n.Type == html.ElementNode && blockTags[n.Data]
		if block {
			b.WriteString("\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteString("\n")
		}
	}
	walk(n)

	var lines []string
	for _, line := range strings.Split(b.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func hidden(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if n.Data == "input" && htmlquery.SelectAttr(n, "type") == "hidden" {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(htmlquery.SelectAttr(n, "style")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != name {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

func toggleAttr(n *html.Node, name string) {
	if _, ok := attr(n, name); ok {
		removeAttr(n, name)
		return
	}
	setAttr(n, name, name)
}

func (e *element) Text() (string, error) {
	return renderText(e.n), nil
}

func (e *element) Attribute(name string) (string, bool, error) {
	v, ok := attr(e.n, name)
	return v, ok, nil
}

func (e *element) Query(xpath string) ([]browser.Element, error) {
	nodes, err := htmlquery.QueryAll(e.n, xpath)
	if err != nil {
		return nil, fmt.Errorf("browsertest: xpath %q: %w", xpath, err)
	}
	return e.d.wrap(e.w, nodes), nil
}

func (e *element) Visible() bool {
	for n := e.n; n != nil; n = n.Parent {
		if hidden(n) {
			return false
		}
	}
	return true
}

func (e *element) Checked() bool {
	_, ok := attr(e.n, "checked")
	return ok
}

// Click fails with browser.ErrIntercepted on nodes marked data-intercept, which
// stands in for an overlay swallowing the click.
func (e *element) Click(ctx context.Context) error {
	if _, ok := attr(e.n, "data-intercept"); ok {
		return fmt.Errorf("%w: %s covered", browser.ErrIntercepted, describe(e.n))
	}
	return e.d.runHandlers(e.w, e.n)
}

func (e *element) ForceClick(ctx context.Context) error {
	return e.d.runHandlers(e.w, e.n)
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	return nil
}

func (e *element) SetValue(ctx context.Context, value string) error {
	switch e.n.Data {
	case "textarea":
		for c := e.n.FirstChild; c != nil; {
			next := c.NextSibling
			e.n.RemoveChild(c)
			c = next
		}
		e.n.AppendChild(&html.Node{Type: html.TextNode, Data: value})
	case "input":
		setAttr(e.n, "value", value)
	default:
		return fmt.Errorf("browsertest: cannot set value on <%s>", e.n.Data)
	}
	if key := htmlquery.SelectAttr(e.n, "name"); key != "" {
		e.d.Values[key] = value
	} else if key := htmlquery.SelectAttr(e.n, "id"); key != "" {
		e.d.Values[key] = value
	}
	return nil
}

func (e *element) Value() (string, error) {
	if e.n.Data == "textarea" {
		return htmlquery.InnerText(e.n), nil
	}
	return htmlquery.SelectAttr(e.n, "value"), nil
}

func (e *element) options() []*html.Node {
	return htmlquery.Find(e.n, ".//option")
}

func (e *element) SelectOption(ctx context.Context, text string) error {
	if e.n.Data != "select" {
		return fmt.Errorf("browsertest: <%s> is not a select", e.n.Data)
	}
	var match *html.Node
	for _, o := range e.options() {
		if strings.TrimSpace(htmlquery.InnerText(o)) == text {
			match = o
			break
		}
	}
	if match == nil {
		return fmt.Errorf("%w: option %q", browser.ErrNotFound, text)
	}
	for _, o := range e.options() {
		removeAttr(o, "selected")
	}
	setAttr(match, "selected", "selected")
	if key := htmlquery.SelectAttr(e.n, "name"); key != "" {
		e.d.Values[key] = text
	} else if key := htmlquery.SelectAttr(e.n, "id"); key != "" {
		e.d.Values[key] = text
	}
	return nil
}

func (e *element) Options() ([]string, error) {
	var out []string
	for _, o := range e.options() {
		out = append(out, strings.TrimSpace(htmlquery.InnerText(o)))
	}
	return out, nil
}
