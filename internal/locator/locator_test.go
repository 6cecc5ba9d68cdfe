package locator

import (
	"context"
	"testing"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/browser/browsertest"
	"chartwatch/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const chartlistsPage = `<html><head><title>ChartLists</title></head><body>
<div class="content">
  <div class="section">
    <h3>Hot Stocks ChartList</h3>
    <p>last update: 2/5/26</p>
  </div>
  <div class="section">
    <h3>Matt's Hot Stocks ChartList</h3>
    <p>last update: 2/6/26</p>
  </div>
  <div class="section">
    <h3><span>Leading</span> Stocks ChartList</h3>
    <p>last update: 2/7/26</p>
  </div>
</div>
<script>var title = "Strong Earnings ChartList";</script>
</body></html>`

func newLocator(t *testing.T, page string) (Locator, *telemetry.TestAPI) {
	d := browsertest.New()
	d.Route("https://members.test/chartlists", page)
	require.NoError(t, d.Navigate(context.Background(), "https://members.test/chartlists"))
	tel := telemetry.NewTestAPI(t)
	return New(d, tel, time.Millisecond), tel
}

func mustSpec(t *testing.T, names ...string) SearchSpec {
	spec, err := NewSearchSpec(names...)
	require.NoError(t, err)
	return spec
}

func TestNewSearchSpecRejectsEmpty(t *testing.T) {
	_, err := NewSearchSpec()
	require.ErrorIs(t, err, ErrEmptySpec)
	_, err = NewSearchSpec(" ", "")
	require.ErrorIs(t, err, ErrEmptySpec)

	spec := mustSpec(t, " Leading Stocks ", "", "Leading")
	require.Equal(t, []string{"Leading Stocks", "Leading"}, spec.Candidates())
	require.Equal(t, "Leading Stocks", spec.Primary())
}

func TestLocateApostropheVerbatim(t *testing.T) {
	l, _ := newLocator(t, chartlistsPage)

	match, ok := l.Locate(context.Background(), mustSpec(t, "Matt's Hot Stocks ChartList"))
	require.True(t, ok)
	require.Equal(t, TierAnyNode, match.Tier)
	require.Equal(t, "Matt's Hot Stocks ChartList", match.Text)
}

func TestLocateEarlierCandidateWins(t *testing.T) {
	l, _ := newLocator(t, chartlistsPage)

	// both appear, and the later one appears first in the document
	match, ok := l.Locate(context.Background(), mustSpec(t, "Matt's Hot Stocks ChartList", "Hot Stocks ChartList"))
	require.True(t, ok)
	require.Equal(t, "Matt's Hot Stocks ChartList", match.Candidate)

	match, ok = l.Locate(context.Background(), mustSpec(t, "Hot Stocks ChartList", "Matt's Hot Stocks ChartList"))
	require.True(t, ok)
	require.Equal(t, "Hot Stocks ChartList", match.Candidate)
	require.Equal(t, "Hot Stocks ChartList", match.Text)
}

func TestLocateContentTierPrefersShortest(t *testing.T) {
	l, _ := newLocator(t, chartlistsPage)

	match, ok := l.Locate(context.Background(), mustSpec(t, "Leading Stocks ChartList"))
	require.True(t, ok)
	require.Equal(t, TierContent, match.Tier)
	require.Equal(t, "Leading Stocks ChartList", match.Text)
	name := match.Element
	require.NotNil(t, name)
	kind, err := name.Query("self::h3")
	require.NoError(t, err)
	require.Len(t, kind, 1)
}

func TestLocateIgnoresScripts(t *testing.T) {
	l, tel := newLocator(t, chartlistsPage)

	_, ok := l.Locate(context.Background(), mustSpec(t, "Strong Earnings ChartList"))
	require.False(t, ok)
	require.True(t, tel.Has("debug", report_notfound))
}

func TestLocateSuggestsClosestHeading(t *testing.T) {
	l, tel := newLocator(t, chartlistsPage)

	_, ok := l.Locate(context.Background(), mustSpec(t, "Leading Stock ChartLists"))
	require.False(t, ok)
	require.True(t, tel.Has("debug", report_suggest))
}

func TestClosestHeading(t *testing.T) {
	heading, score := ClosestHeading(chartlistsPage, []string{"Mat's Hot Stocks Chartlist"})
	require.Equal(t, "Matt's Hot Stocks ChartList", heading)
	require.Greater(t, score, minSimilarity)
}

func TestXPathsAreValidForDriver(t *testing.T) {
	d := browsertest.New()
	d.Route("https://x.test/", `<html><body><p>He said "it's"</p></body></html>`)
	require.NoError(t, d.Navigate(context.Background(), "https://x.test/"))

	for _, xpath := range []string{AnyNodeXPath(`"it's"`), ContentXPath(`"it's"`)} {
		el, err := d.Find(context.Background(), xpath, time.Millisecond)
		require.NoError(t, err, xpath)
		require.Equal(t, `He said "it's"`, browser.TextOf(el))
	}
}
