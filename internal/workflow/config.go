package workflow

import (
	"time"

	"chartwatch/internal/browser"
	"chartwatch/lib/htmlutil"
)

// DefaultCriteria is the 20 day EMA pullback scan, sent verbatim.
const DefaultCriteria = "[SCTR >75]\n" +
	"AND [Daily Open > Daily EMA(20,Daily Close)]\n" +
	"AND [Daily Low < Daily EMA(20,Daily Close)]\n" +
	"AND [Daily Close > Daily EMA(20,Daily Close)]"

type Timing struct {
	// ElementWait bounds lookups of controls a step cannot do without.
	ElementWait time.Duration
	// ProbeWait bounds each alternative when probing for optional dialogs.
	ProbeWait time.Duration
	// Settle follows clicks that re-render part of the page.
	Settle time.Duration
	// PageSettle follows navigations and logins.
	PageSettle time.Duration
	// ResultsSettle follows running the scan and switching views.
	ResultsSettle   time.Duration
	DownloadTimeout time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		ElementWait:     10 * time.Second,
		ProbeWait:       5 * time.Second,
		Settle:          2 * time.Second,
		PageSettle:      5 * time.Second,
		ResultsSettle:   8 * time.Second,
		DownloadTimeout: 30 * time.Second,
	}
}

type Config struct {
	LoginURL string
	ScanURL  string
	Username string
	Password string
	// Domain is where result windows must live.
	Domain   string
	Criteria string
	// OutputDir is the dated directory artifacts are written to.
	OutputDir   string
	DownloadDir string
	Timing      Timing
}

func DefaultConfig() Config {
	return Config{
		LoginURL: "https://stockcharts.com/login",
		ScanURL:  "https://stockcharts.com/def/servlet/ScanUI",
		Domain:   "stockcharts.com",
		Criteria: DefaultCriteria,
		Timing:   DefaultTiming(),
	}
}

var (
	passwordModal = browser.Candidates{
		browser.ByClass("div", "modal", "in"),
		browser.ByClass("div", "modal", "show"),
		browser.ByAttr("div", "role", "dialog"),
		browser.ByID("password-modal"),
		browser.ByXPath(`//div[contains(@class, 'modal') and contains(@style, 'display: block')]`),
	}
	passwordInput = browser.Candidates{
		browser.ByAttr("input", "type", "password"),
		browser.ByName("input", "password"),
	}
	unlockButton = browser.Candidates{
		browser.ByText("button", "Unlock"),
		browser.ByClass("button", "btn-primary"),
		browser.ByAttr("button", "type", "submit"),
		browser.ByID("button-password"),
	}
	relockedModal  = browser.Candidates{browser.ByID("password-modal")}
	resubmitButton = browser.Candidates{
		browser.ByAttr("button", "type", "submit"),
		browser.ByID("button-password"),
	}

	openSaveModal = browser.Candidates{browser.ByID("save-modal")}
	saveTrigger   = browser.Candidates{
		browser.ByText("button", "Save to ChartList"),
		browser.ByClass("button", "btn-success"),
		browser.ByClass("a", "btn-success"),
		browser.ByXPath(`//div[contains(@class, 'member-actions')]//button[contains(normalize-space(.), 'Save')]`),
	}
	saveDialog = browser.Candidates{
		browser.ByClass("div", "modal-content"),
		browser.ByAttr("div", "role", "dialog"),
	}
	saveResultsButton = browser.Candidates{
		browser.ByID("save-chartlist"),
		browser.ByClass("button", "btn-green", "btn-rounded"),
		browser.ByText("button", "Save Results"),
	}

	loginUser = browser.Candidates{
		browser.ByID("form_UserID"),
		browser.ByName("input", "form_UserID"),
		browser.ByAttr("input", "type", "email"),
	}
	loginPassword = browser.Candidates{
		browser.ByID("form_UserPassword"),
		browser.ByName("input", "form_UserPassword"),
		browser.ByAttr("input", "type", "password"),
	}
	rememberMe  = browser.Candidates{browser.ByID("form_RememberMe")}
	loginSubmit = browser.Candidates{
		browser.ByAttr("button", "type", "submit"),
		browser.ByText("button", "Log In"),
	}

	acceptButton = browser.Candidates{browser.ByText("button", "Accept")}
	criteriaBox  = browser.Candidates{browser.ByName("textarea", "scantext")}
	accountTab   = browser.Candidates{browser.ByAttr("a", "href", "#components-your-account")}
	addButton    = browser.Candidates{
		{
			Desc:  "#components-your-account button.add-component",
			XPath: "//*[@id='components-your-account']//button[" + htmlutil.XPathHasClass("add-component") + "]",
		},
	}
	runButton      = browser.Candidates{browser.ByID("runScan")}
	downloadButton = browser.Candidates{browser.ByID("download-csv")}
	galleryLink    = browser.Candidates{browser.ByExactText("a", "CandleGlance")}
)

// overlayScript hides cookie banners, consent prompts and stray modals that
// intercept clicks on the workbench.
const overlayScript = `() => {
	document.querySelectorAll('[class*="cookie"], [class*="privacy"], .modal-backdrop, [class*="consent"]')
		.forEach((el) => { el.style.display = 'none'; el.remove(); });
	document.querySelectorAll('.modal, [role="dialog"]').forEach((modal) => {
		if (modal.style.display === 'block' || modal.classList.contains('in')) {
			modal.style.display = 'none';
			modal.classList.remove('in');
		}
	});
}`
