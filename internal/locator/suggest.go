package locator

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

const report_suggest = "suggest"

// minSimilarity is the Jaro-Winkler score under which headings are not worth
// suggesting.
const minSimilarity = 0.7

// ClosestHeading returns the heading-like text on the page most similar to any
// of the candidates.
func ClosestHeading(document string, candidates []string) (string, float64) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(document))
	if err != nil {
		return "", 0
	}
	var best string
	var bestScore float64
	doc.Find("h1, h2, h3, h4, h5, h6, strong, b").Each(func(_ int, s *goquery.Selection) {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" {
			return
		}
		for _, c := range candidates {
			score := matchr.JaroWinkler(strings.ToLower(text), strings.ToLower(c), false)
			if score > bestScore {
				best = text
				bestScore = score
			}
		}
	})
	return best, bestScore
}

// suggest reports the closest heading when nothing matched, which is usually a
// renamed section.
func (l Locator) suggest(ctx context.Context, spec SearchSpec) {
	document, err := l.d.HTML(ctx)
	if err != nil {
		return
	}
	heading, score := ClosestHeading(document, spec.candidates)
	if heading == "" || score < minSimilarity {
		return
	}
	l.tel.ReportDebug(report_suggest, "closest heading", heading, score)
}
