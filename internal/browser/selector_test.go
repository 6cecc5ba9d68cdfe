package browser_test

import (
	"context"
	"testing"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/browser/browsertest"

	"github.com/stretchr/testify/require"
)

const modalPage = `<html><head><title>Scan | StockCharts</title></head><body>
<div class="modal fade" style="display:none"><button class="btn btn-primary">Unlock</button></div>
<div class="modal fade in" role="dialog">
  <input type="password" id="pw">
  <button class="btn btn-primary" data-intercept>Unlock</button>
</div>
<p>Matt's "quoted" list</p>
</body></html>`

func newModalDriver(t *testing.T) *browsertest.Driver {
	d := browsertest.New()
	d.Route("https://example.test/", modalPage)
	require.NoError(t, d.Navigate(context.Background(), "https://example.test/"))
	return d
}

func TestCandidatesFindReportsWinningSelector(t *testing.T) {
	ctx := context.Background()
	d := newModalDriver(t)

	cands := browser.Candidates{
		browser.ByID("password-modal"),
		browser.ByClass("div", "modal", "in"),
	}
	el, sel, err := cands.Find(ctx, d, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "div.modal.in", sel.Desc)
	require.Equal(t, "dialog", browser.AttrOf(el, "role"))
}

func TestCandidatesFindNotFound(t *testing.T) {
	d := newModalDriver(t)
	_, _, err := browser.Candidates{browser.ByID("nope"), browser.ByName("input", "nope")}.
		Find(context.Background(), d, time.Millisecond)
	require.Error(t, err)
	require.True(t, browser.IsNotFound(err))
}

func TestFindVisibleSkipsHiddenTemplate(t *testing.T) {
	ctx := context.Background()
	d := newModalDriver(t)

	el, _, err := browser.Candidates{browser.ByClass("div", "modal")}.FindVisible(ctx, d, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, "dialog", browser.AttrOf(el, "role"))
}

func TestFindWithinAndClickFallback(t *testing.T) {
	ctx := context.Background()
	d := newModalDriver(t)

	clicked := 0
	d.OnClick(`//div[@role="dialog"]//button`, func(*browsertest.Driver, *browsertest.Window) error {
		clicked++
		return nil
	})

	modal, _, err := browser.Candidates{browser.ByAttr("div", "role", "dialog")}.Find(ctx, d, time.Millisecond)
	require.NoError(t, err)

	btn, sel, err := browser.Candidates{
		browser.ByText("button", "Nope"),
		browser.ByText("button", "Unlock"),
	}.FindWithin(ctx, modal)
	require.NoError(t, err)
	require.Contains(t, sel.XPath, "Unlock")

	require.ErrorIs(t, btn.Click(ctx), browser.ErrIntercepted)
	require.NoError(t, browser.Click(ctx, btn))
	require.Equal(t, 1, clicked)
}

func TestByTextHandlesMixedQuotes(t *testing.T) {
	d := newModalDriver(t)
	el, err := d.Find(context.Background(), browser.ByText("p", `Matt's "quoted"`).XPath, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, `Matt's "quoted" list`, browser.TextOf(el))
}

func TestSettleStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	browser.Settle(ctx, time.Hour)
	require.Less(t, time.Since(start), time.Second)
}
