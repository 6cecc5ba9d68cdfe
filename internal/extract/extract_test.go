package extract

import (
	"context"
	"strings"
	"testing"
	"time"

	"chartwatch/internal/browser/browsertest"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/locator"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"
)

const chartlistsPage = `<html><head><title>ChartLists | EarningsBeats</title></head><body>
<nav><a href="/members/chartlists.cfm">ChartLists</a></nav>
<div class="row">
  <div class="col">
    <h3>Leading Stocks ChartList</h3>
    <p>Our strongest names. last update: 2/7/26</p>
    <p>Shared list (password: lead123) <a href="https://stockcharts.com/sc3/ui/?s=lead">View on StockCharts</a></p>
    <p>Download: <a href="/files/leading.xlsx">Microsoft Excel</a> | <a href="/files/leading.pdf">PDF</a></p>
  </div>
  <div class="col">
    <h3>Matt's Hot Stocks ChartList</h3>
    <p>Last Update - 2/6/26</p>
    <p>(Password: hot456)</p>
    <a href="https://stockcharts.com/sc3/ui/?s=hot">Open</a>
    <a href="/files/hot.xls">Excel download</a>
  </div>
</div>
</body></html>`

type fixture struct {
	loc locator.Locator
	x   Extractor
	tel *telemetry.TestAPI
}

func newFixture(t *testing.T, page string) fixture {
	d := browsertest.New()
	d.Route("https://members.test/", page)
	require.NoError(t, d.Navigate(context.Background(), "https://members.test/"))
	tel := telemetry.NewTestAPI(t)
	return fixture{
		loc: locator.New(d, tel, time.Millisecond),
		x:   New(d, tel, DefaultConfig()),
		tel: tel,
	}
}

func (f fixture) extract(t *testing.T, names ...string) SectionMetadata {
	t.Helper()
	spec, err := locator.NewSearchSpec(names...)
	require.NoError(t, err)
	anchor, ok := f.loc.Locate(context.Background(), spec)
	require.True(t, ok, "section %v not located", names)
	return f.x.Extract(context.Background(), anchor)
}

var ignoreElement = cmpopts.IgnoreFields(SectionMetadata{}, "DownloadLink")

func TestExtractSections(t *testing.T) {
	f := newFixture(t, chartlistsPage)

	leading := f.extract(t, "Leading Stocks ChartList")
	require.Empty(t, cmp.Diff(SectionMetadata{
		Date:         "2/7/26",
		Credential:   "lead123",
		ResourceLink: "https://stockcharts.com/sc3/ui/?s=lead",
		DownloadHref: "/files/leading.xlsx",
	}, leading, ignoreElement))
	require.NotNil(t, leading.DownloadLink)

	hot := f.extract(t, "Matt's Hot Stocks ChartList", "Hot Stocks ChartList")
	require.Empty(t, cmp.Diff(SectionMetadata{
		Date:         "2/6/26",
		Credential:   "hot456",
		ResourceLink: "https://stockcharts.com/sc3/ui/?s=hot",
		DownloadHref: "/files/hot.xls",
	}, hot, ignoreElement))
}

func TestLeadingScenarioIsNew(t *testing.T) {
	f := newFixture(t, chartlistsPage)
	meta := f.extract(t, "Leading Stocks ChartList", "Leading Stocks")
	require.True(t, IsNew(meta.Date, "2/6/26"))
	require.False(t, IsNew(meta.Date, "2/7/26"))
	require.NotNil(t, meta.DownloadLink)
}

func TestExtractIsIdempotent(t *testing.T) {
	f := newFixture(t, chartlistsPage)
	first := f.extract(t, "Matt's Hot Stocks ChartList")
	second := f.extract(t, "Matt's Hot Stocks ChartList")
	require.Empty(t, cmp.Diff(first, second, ignoreElement))
}

func TestDateFallbacks(t *testing.T) {
	filler := strings.Repeat("filler text ", 80)

	cases := []struct {
		name string
		page string
		spec string
		want string
	}{
		{
			name: "ancestor when the date precedes the heading",
			page: `<html><body><div><p>last update: 3/1/26</p><h3>Sector ChartList</h3></div></body></html>`,
			spec: "Sector ChartList",
			want: "3/1/26",
		},
		{
			name: "following node past the forward window",
			page: `<html><body><section>
<div><div><div><div><h3>Deep ChartList</h3></div></div></div></div>
<p>` + filler + ` last update: 4/4/26</p>
</section></body></html>`,
			spec: "Deep ChartList",
			want: "4/4/26",
		},
		{
			name: "around window as the last resort",
			page: `<html><body><div id="a"><p>last update: 5/5/26</p></div>
<div><div><div><div><div><h3>Late ChartList</h3></div></div></div></div></div></body></html>`,
			spec: "Late ChartList",
			want: "5/5/26",
		},
		{
			name: "nothing",
			page: `<html><body><h3>Bare ChartList</h3><p>` + filler + `</p></body></html>`,
			spec: "Bare ChartList",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.page)
			meta := f.extract(t, tc.spec)
			require.Equal(t, tc.want, meta.Date)
			if tc.want == "" {
				require.True(t, f.tel.Has("debug", report_date))
				require.Empty(t, f.tel.Reports("broken"))
			}
		})
	}
}

func TestCredentialAndResourceNearCredential(t *testing.T) {
	f := newFixture(t, `<html><body>
<div class="card">
  <div class="links"><a href="https://stockcharts.com/sc3/ui/?s=q">Shared</a> <span>(password: qq1)</span></div>
  <h4>Quiet ChartList</h4>
</div></body></html>`)

	meta := f.extract(t, "Quiet ChartList")
	require.Equal(t, "qq1", meta.Credential)
	require.Equal(t, "https://stockcharts.com/sc3/ui/?s=q", meta.ResourceLink)
}

func TestResourceLinkFallbacks(t *testing.T) {
	t.Run("ancestor", func(t *testing.T) {
		f := newFixture(t, `<html><body><div><a href="https://stockcharts.com/sc3/ui/?s=anc">x</a><h4>Anc ChartList</h4></div></body></html>`)
		meta := f.extract(t, "Anc ChartList")
		require.Equal(t, "https://stockcharts.com/sc3/ui/?s=anc", meta.ResourceLink)
		require.Empty(t, meta.Credential)
	})
	t.Run("site domain skips checkout", func(t *testing.T) {
		f := newFixture(t, `<html><body><h4>Dom ChartList</h4>
<a href="https://stockcharts.com/checkout/buy">Buy</a>
<a href="https://stockcharts.com/public/list/123">List</a></body></html>`)
		meta := f.extract(t, "Dom ChartList")
		require.Equal(t, "https://stockcharts.com/public/list/123", meta.ResourceLink)
	})
	t.Run("only excluded links", func(t *testing.T) {
		f := newFixture(t, `<html><body><h4>Trial ChartList</h4>
<a href="https://stockcharts.com/trial/start">Try</a></body></html>`)
		meta := f.extract(t, "Trial ChartList")
		require.Empty(t, meta.ResourceLink)
	})
}

func TestDownloadLinkFallbacks(t *testing.T) {
	t.Run("extension", func(t *testing.T) {
		f := newFixture(t, `<html><body><h4>Ext ChartList</h4><a href="/get/file.CSV">Get it</a></body></html>`)
		meta := f.extract(t, "Ext ChartList")
		require.Equal(t, "/get/file.CSV", meta.DownloadHref)
	})
	t.Run("ancestor keyword", func(t *testing.T) {
		f := newFixture(t, `<html><body><div><a href="#" id="dl">EXCEL</a><h4>Up ChartList</h4></div></body></html>`)
		meta := f.extract(t, "Up ChartList")
		require.NotNil(t, meta.DownloadLink)
		require.Equal(t, "#", meta.DownloadHref)
	})
	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, `<html><body><h4>None ChartList</h4><a href="/doc.pdf">PDF</a></body></html>`)
		meta := f.extract(t, "None ChartList")
		require.Nil(t, meta.DownloadLink)
		require.Empty(t, meta.DownloadHref)
		require.True(t, f.tel.Has("debug", report_download))
	})
}

func TestDateOnly(t *testing.T) {
	f := newFixture(t, chartlistsPage)
	require.Equal(t, "2/7/26", f.x.DateOnly(context.Background()))
}

func TestIsNew(t *testing.T) {
	cases := []struct {
		date, known string
		want        bool
	}{
		{"2/7/26", "2/6/26", true},
		{"2/7/26", "2/7/26", false},
		{"2/7/26", "none", true},
		{"", "2/6/26", false},
		{"", "", false},
		{"2/7/26", "", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsNew(tc.date, tc.known), "%q vs %q", tc.date, tc.known)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]string{
		"last update: 2/7/26":          "2/7/26",
		"Last Update: 2/9/2026":        "2/9/2026",
		"LAST   UPDATE 12/31/25 extra": "12/31/25",
		"last update-1/2/26":           "1/2/26",
		"updated 2/7/26":               "",
	}
	for text, want := range cases {
		got, ok := ParseDate(text)
		require.Equal(t, want != "", ok, text)
		require.Equal(t, want, got, text)
	}
}

func TestParseCredential(t *testing.T) {
	got, ok := ParseCredential("Shared list ( Password:  Ab12 )")
	require.True(t, ok)
	require.Equal(t, "Ab12", got)
	_, ok = ParseCredential("password: Ab12")
	require.False(t, ok)
}

func TestWindowIsRuneSafe(t *testing.T) {
	body := "ééé anchor ééé"
	off := strings.Index(body, "anchor")
	require.Equal(t, "é anchor é", window(body, off, 2, 8))
	require.Equal(t, "", window(body, -1, 2, 2))
}

func TestAnchorOffset(t *testing.T) {
	body := "Menu\nLeading Stocks\nLeading Stocks ChartList\nlast update: 1/1/26"
	anchor := locator.AnchorMatch{Candidate: "Leading Stocks ChartList", Text: "Leading Stocks ChartList"}
	require.Equal(t, strings.Index(body, "Leading Stocks ChartList"), AnchorOffset(body, anchor))

	anchor = locator.AnchorMatch{Candidate: "leading stocks chartlist", Text: "nope"}
	require.Equal(t, strings.Index(body, "Leading Stocks ChartList"), AnchorOffset(body, anchor))
}
