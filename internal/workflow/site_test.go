package workflow

import (
	"fmt"
	"strings"

	"chartwatch/internal/browser/browsertest"
)

const (
	loginURL    = "https://stockcharts.com/login"
	membersURL  = "https://stockcharts.com/members"
	workbench   = "https://stockcharts.com/def/servlet/ScanUI"
	testUser    = "me@example.com"
	testSecret  = "hunter2"
	resultsBase = "https://stockcharts.com/def/servlet/SC.scan?list="
)

type sharedList struct {
	url      string
	title    string
	password string
	option   string
	listID   string
	symbols  []string
}

// site scripts the charting platform on top of the in-memory browser.
type site struct {
	d     *browsertest.Driver
	lists []*sharedList

	loggedIn    bool
	noLoginForm bool
	sessionLost bool
	addButton   bool

	saved     []string
	criteria  []string
	loginSeen int
}

func newSite(lists ...*sharedList) *site {
	s := &site{d: browsertest.New(), lists: lists, addButton: true}
	for _, l := range lists {
		l := l
		s.d.RouteFunc(l.url, func(*browsertest.Driver) browsertest.Page {
			if l.password == "" {
				return browsertest.Page{HTML: unlockedPage(l, false)}
			}
			return browsertest.Page{HTML: lockedPage(l)}
		})
		s.d.RouteFunc(resultsBase+l.listID, func(*browsertest.Driver) browsertest.Page {
			return browsertest.Page{HTML: resultsPage(len(l.symbols))}
		})
	}
	s.d.RouteFunc(loginURL, func(*browsertest.Driver) browsertest.Page {
		s.loginSeen++
		if s.loggedIn {
			return browsertest.Page{URL: membersURL, HTML: `<html><head><title>Members</title></head><body>Welcome</body></html>`}
		}
		if s.noLoginForm {
			return browsertest.Page{HTML: `<html><head><title>Log In</title></head><body><div class="captcha">Verify you are human</div></body></html>`}
		}
		return browsertest.Page{HTML: loginPage}
	})
	s.d.Route(membersURL, `<html><head><title>Members</title></head><body>Welcome</body></html>`)
	s.d.RouteFunc(workbench, func(*browsertest.Driver) browsertest.Page {
		if !s.loggedIn || s.sessionLost {
			return browsertest.Page{URL: loginURL + "?next=ScanUI", HTML: loginPage}
		}
		return browsertest.Page{HTML: s.workbenchPage()}
	})

	s.d.OnClick(`//div[@id='password-modal']//button`, func(d *browsertest.Driver, w *browsertest.Window) error {
		l := s.list(w.URL)
		if d.Values["password"] == l.password {
			w.Replace(unlockedPage(l, false))
		}
		return nil
	})
	s.d.OnClick(`//button[normalize-space(.)='Save to ChartList']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		w.Replace(unlockedPage(s.list(w.URL), true))
		return nil
	})
	s.d.OnClick(`//*[@id='save-chartlist']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		s.saved = append(s.saved, s.list(w.URL).title)
		w.Replace(unlockedPage(s.list(w.URL), false))
		return nil
	})
	s.d.OnClick(`//form[@id='login']//button[@type='submit']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		if d.Values["form_UserID"] == testUser && d.Values["form_UserPassword"] == testSecret {
			s.loggedIn = true
			d.Load(w, membersURL)
		}
		return nil
	})
	s.d.OnClick(`//*[@id='runScan']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		s.criteria = append(s.criteria, d.Values["scantext"])
		for _, l := range s.lists {
			if l.option == d.Values["chartlists"] {
				d.OpenWindow(resultsBase + l.listID)
				return nil
			}
		}
		return fmt.Errorf("run without a selected list")
	})
	s.d.OnClick(`//*[@id='download-csv']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		l := s.list(strings.TrimPrefix(w.URL, resultsBase))
		var b strings.Builder
		b.WriteString("Name,Symbol,Exchange,Close\n")
		for _, sym := range l.symbols {
			fmt.Fprintf(&b, "%s Inc,%s,NASDAQ,10.00\n", sym, sym)
		}
		return d.Download("SC.scan.csv", b.String())
	})
	s.d.OnClick(`//a[normalize-space(.)='CandleGlance']`, func(d *browsertest.Driver, w *browsertest.Window) error {
		w.Replace(`<html><body><div class="candleglance">thumbnails</div></body></html>`)
		return nil
	})
	return s
}

// list finds a list by its shared url or its list id.
func (s *site) list(key string) *sharedList {
	for _, l := range s.lists {
		if l.url == key || l.listID == key {
			return l
		}
	}
	return &sharedList{}
}

func lockedPage(l *sharedList) string {
	return fmt.Sprintf(`<html><head><title>%s | StockCharts.com</title></head><body>
<div class="modal fade" id="save-modal" style="display: none"></div>
<div class="modal fade in" id="password-modal" role="dialog">
  <p>This ChartList is password protected.</p>
  <input type="password" name="password">
  <button class="btn btn-primary" type="submit">Unlock</button>
</div>
</body></html>`, l.title)
}

func unlockedPage(l *sharedList, saving bool) string {
	dialog := ""
	if saving {
		dialog = `<div class="modal fade in" id="save-modal" role="dialog"><div class="modal-content">
<button id="save-chartlist" class="btn btn-green btn-rounded">Save Results</button></div></div>`
	}
	return fmt.Sprintf(`<html><head><title>%s | StockCharts.com</title></head><body>
<div class="member-actions"><button class="btn btn-success">Save to ChartList</button></div>
<div class="charts">charts</div>%s
</body></html>`, l.title, dialog)
}

const loginPage = `<html><head><title>Log In | StockCharts.com</title></head><body>
<form id="login">
  <input id="form_UserID" name="form_UserID" type="email">
  <input id="form_UserPassword" name="form_UserPassword" type="password">
  <input id="form_RememberMe" type="checkbox">
  <button type="submit">Log In</button>
</form></body></html>`

func (s *site) workbenchPage() string {
	var options strings.Builder
	options.WriteString("<option>Select a ChartList</option>")
	for _, l := range s.lists {
		fmt.Fprintf(&options, "<option>%s</option>", l.option)
	}
	add := ""
	if s.addButton {
		add = `<button class="btn add-component">+</button>`
	}
	return fmt.Sprintf(`<html><head><title>Advanced Scan Workbench</title></head><body>
<div class="cookie-banner"><button>Accept</button></div>
<textarea name="scantext"></textarea>
<ul class="tabs"><li><a href="#components-your-account">YOUR ACCOUNT</a></li></ul>
<div id="components-your-account">
  <select id="chartlists">%s</select>
  %s
</div>
<button id="runScan">Run Scan</button>
</body></html>`, options.String(), add)
}

func resultsPage(count int) string {
	return fmt.Sprintf(`<html><head><title>Scan Results</title></head><body>
<div class="results-header">Matching Results: %d</div>
<a href="#" id="download-csv">Download CSV</a>
<ul class="views"><li><a href="#list">List</a></li><li><a href="#cg">CandleGlance</a></li></ul>
</body></html>`, count)
}
