//go:build integration

package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chartwatch/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

const smokePage = `<html><head><title>Smoke | Test</title></head><body>
<h3>Leading Stocks ChartList</h3>
<p>last update: 2/7/26</p>
<input id="name" value="">
<select id="lists"><option>One</option><option>Two</option></select>
<button id="go" onclick="document.getElementById('out').textContent='clicked'">Go</button>
<p id="out"></p>
</body></html>`

func TestRodDriverSmoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "CFID", Value: "42"})
		fmt.Fprint(w, smokePage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d, err := Launch(ctx, Config{}, telemetry.NewTestAPI(t))
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Navigate(ctx, srv.URL))
	title, err := d.Title(ctx)
	require.NoError(t, err)
	require.Equal(t, "Smoke | Test", title)

	el, err := d.Find(ctx, "//h3[contains(., 'Leading')]", time.Second)
	require.NoError(t, err)
	require.Equal(t, "Leading Stocks ChartList", TextOf(el))

	el, err = d.Find(ctx, "//h3[contains(., 'Leading')]", 0)
	require.NoError(t, err)
	require.Equal(t, "Leading Stocks ChartList", TextOf(el))
	_, err = d.Find(ctx, "//h3[contains(., 'Lagging')]", 0)
	require.ErrorIs(t, err, ErrNotFound)

	input, err := d.Find(ctx, "//input[@id='name']", time.Second)
	require.NoError(t, err)
	require.NoError(t, input.SetValue(ctx, "hello"))
	v, err := input.Value()
	require.NoError(t, err)
	require.Equal(t, "hello", v)

	sel, err := d.Find(ctx, "//select[@id='lists']", time.Second)
	require.NoError(t, err)
	require.NoError(t, sel.SelectOption(ctx, "Two"))

	btn, err := d.Find(ctx, "//button[@id='go']", time.Second)
	require.NoError(t, err)
	require.NoError(t, Click(ctx, btn))
	out, err := d.Find(ctx, "//p[@id='out'][text()='clicked']", 2*time.Second)
	require.NoError(t, err)
	require.True(t, out.Visible())

	_, err = d.Find(ctx, "//div[@id='missing']", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrNotFound)

	cookies, err := d.Cookies(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, cookies)

	shot := filepath.Join(t.TempDir(), "page.png")
	require.NoError(t, d.Screenshot(ctx, shot))
	require.FileExists(t, shot)
}
