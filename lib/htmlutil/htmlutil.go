package htmlutil

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// GetText concatenates every text node under node in document order.
func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style") {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s+`)

// CleanText removes non-printable characters and collapses whitespace runs
// into single spaces.
func CleanText(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			b.WriteRune(c)
		}
	}
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(b.String(), " "))
}

// XPathLiteral returns an XPath 1.0 expression that evaluates to exactly s.
//
// XPath 1.0 has no escape sequences, so text holding both quote characters is
// split on the apostrophe and rebuilt with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	fragments := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			fragments = append(fragments, `"'"`)
		}
		fragments = append(fragments, "'"+p+"'")
	}
	return "concat(" + strings.Join(fragments, ", ") + ")"
}

const (
	upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlphabet = "abcdefghijklmnopqrstuvwxyz"
)

// XPathLower wraps an XPath string expression so it evaluates lowercased.
func XPathLower(expr string) string {
	return fmt.Sprintf("translate(%s, '%s', '%s')", expr, upperAlphabet, lowerAlphabet)
}

// XPathHasClass matches elements whose class attribute contains class as a whole token.
func XPathHasClass(class string) string {
	return fmt.Sprintf(
		"contains(concat(' ', normalize-space(@class), ' '), %s)",
		XPathLiteral(" "+class+" "),
	)
}
