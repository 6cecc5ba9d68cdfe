package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/download"
	"chartwatch/internal/records"
	"chartwatch/internal/windows"
)

const (
	report_unlock     = "unlocking"
	report_save       = "saving"
	report_login      = "logging-in"
	report_criteria   = "entering-criteria"
	report_target     = "selecting-target"
	report_constraint = "adding-constraint"
	report_execute    = "executing"
	report_count      = "counting-results"
	report_download   = "downloading-artifact"
	report_view       = "switching-view"
	report_screenshot = "capturing-screenshot"
	report_records    = "extracting-records"
	report_symbols    = "symbols"
	report_overlay    = "overlay"
)

var (
	matchingResultsRegex = regexp.MustCompile(`Matching Results:\s*(\d+)`)
	looseResultsRegex    = regexp.MustCompile(`(?i)(\d+)\s+results?`)
	listIDRegex          = regexp.MustCompile(`list #(\d+)`)
)

// step performs the work of the job's current state and names the next state.
type step func(ctx context.Context, job *ScanJob, lease *windows.Lease) (State, error)

func (r *Runner) stepFor(s State) step {
	switch s {
	case StateInit:
		return func(context.Context, *ScanJob, *windows.Lease) (State, error) {
			return StateUnlocking, nil
		}
	case StateUnlocking:
		return r.unlock
	case StateSaving:
		return r.save
	case StateLoggingIn:
		return r.login
	case StateEnteringCriteria:
		return r.enterCriteria
	case StateSelectingTarget:
		return r.selectTarget
	case StateAddingConstraint:
		return r.addConstraint
	case StateExecuting:
		return r.execute
	case StateResolvingResultWindow:
		return r.resolveWindow
	case StateCountingResults:
		return r.countResults
	case StateEmptyResult:
		return r.emptyResult
	case StateDownloadingArtifact:
		return r.downloadArtifact
	case StateSwitchingView:
		return r.switchView
	case StateCapturingScreenshot:
		return r.captureScreenshot
	case StateExtractingRecords:
		return r.extractRecords
	}
	return nil
}

// TitleName is the part of a page title before the site suffix.
func TitleName(title string) string {
	name, _, _ := strings.Cut(title, " | ")
	return strings.TrimSpace(name)
}

func (r *Runner) fill(ctx context.Context, el browser.Element, value string) error {
	err := el.SetValue(ctx, value)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

func (r *Runner) unlock(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	err := r.d.Navigate(ctx, job.Target.ResourceURL)
	if err != nil {
		return "", fmt.Errorf("open shared list: %w", err)
	}
	browser.Settle(ctx, t.PageSettle)

	modal, sel, err := passwordModal.FindVisible(ctx, r.d, t.ProbeWait)
	if err != nil {
		r.tel.ReportDebug(report_unlock, "no password prompt, list already accessible", job.Target.Key)
	} else {
		r.tel.ReportDebug(report_unlock, "dialog", sel.Desc)
		input, _, err := passwordInput.FindWithin(ctx, modal)
		switch {
		case err != nil:
			// a notice rather than the password prompt
			r.tel.ReportWarning(report_unlock, "dialog without password field, continuing", job.Target.Key)
		case job.Target.Credential == "":
			return "", fmt.Errorf("list %s is locked and no credential is configured", job.Target.Key)
		default:
			err = r.enterCredential(ctx, modal, input, job.Target.Credential)
			if err != nil {
				r.tel.ReportWarning(report_unlock, "could not unlock, continuing", job.Target.Key, err)
			}
			browser.Settle(ctx, t.Settle)
		}
	}

	title, err := r.d.Title(ctx)
	if err != nil {
		r.tel.ReportWarning(report_unlock, "read title", err)
	}
	job.ChartlistTitle = TitleName(title)
	r.tel.ReportDebug(report_unlock, "chartlist", job.ChartlistTitle)
	return StateSaving, nil
}

func (r *Runner) enterCredential(ctx context.Context, modal, input browser.Element, credential string) error {
	err := r.fill(ctx, input, credential)
	if err != nil {
		return err
	}
	button, _, err := unlockButton.FindWithin(ctx, modal)
	if err != nil {
		return fmt.Errorf("unlock button: %w", err)
	}
	err = browser.Click(ctx, button)
	if err != nil {
		return fmt.Errorf("click unlock: %w", err)
	}
	return nil
}

// save never fails the job: the list may already be saved to the account.
func (r *Runner) save(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing

	if modal, _, err := openSaveModal.FindVisible(ctx, r.d, 0); err == nil {
		r.tel.ReportDebug(report_save, "save dialog already open")
		r.confirmSave(ctx, modal)
		return StateLoggingIn, nil
	}

	if modal, _, err := relockedModal.FindVisible(ctx, r.d, 0); err == nil {
		r.tel.ReportDebug(report_save, "password prompt reappeared, unlocking again")
		err := r.resubmit(ctx, modal, job.Target.Credential)
		if err != nil {
			r.tel.ReportWarning(report_save, "unlock again", err)
		}
		browser.Settle(ctx, t.Settle)
	}

	trigger, _, err := saveTrigger.FindVisible(ctx, r.d, t.ProbeWait)
	if err != nil {
		r.tel.ReportWarning(report_save, "no save button, list may already be saved", job.Target.Key)
		return StateLoggingIn, nil
	}
	err = browser.Click(ctx, trigger)
	if err != nil {
		r.tel.ReportWarning(report_save, "click save", err)
		return StateLoggingIn, nil
	}
	browser.Settle(ctx, t.Settle)

	modal, _, err := saveDialog.FindVisible(ctx, r.d, t.ProbeWait)
	if err != nil {
		r.tel.ReportWarning(report_save, "save dialog did not appear")
		return StateLoggingIn, nil
	}
	r.confirmSave(ctx, modal)
	return StateLoggingIn, nil
}

func (r *Runner) resubmit(ctx context.Context, modal browser.Element, credential string) error {
	input, _, err := passwordInput.FindWithin(ctx, modal)
	if err != nil {
		return err
	}
	err = r.fill(ctx, input, credential)
	if err != nil {
		return err
	}
	button, _, err := resubmitButton.FindWithin(ctx, modal)
	if err != nil {
		return err
	}
	return browser.Click(ctx, button)
}

func (r *Runner) confirmSave(ctx context.Context, modal browser.Element) {
	button, _, err := saveResultsButton.FindWithin(ctx, modal)
	if err != nil {
		r.tel.ReportWarning(report_save, "no save results button in dialog")
		return
	}
	err = browser.Click(ctx, button)
	if err != nil {
		r.tel.ReportWarning(report_save, "click save results", err)
		return
	}
	browser.Settle(ctx, r.cfg.Timing.Settle)
	r.tel.ReportDebug(report_save, "saved")
}

func (r *Runner) authenticated(ctx context.Context) bool {
	location, err := r.d.URL(ctx)
	return err == nil && !strings.Contains(strings.ToLower(location), "login")
}

func (r *Runner) login(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	err := r.d.Navigate(ctx, r.cfg.LoginURL)
	if err != nil {
		return "", fmt.Errorf("%w: open login page: %w", ErrAuthentication, err)
	}
	browser.Settle(ctx, t.Settle)

	if r.authenticated(ctx) {
		r.tel.ReportDebug(report_login, "already logged in")
		return StateEnteringCriteria, nil
	}

	user, _, err := loginUser.Find(ctx, r.d, t.ProbeWait)
	if err != nil {
		return "", fmt.Errorf("%w: username field: %w", ErrAuthentication, err)
	}
	err = r.fill(ctx, user, r.cfg.Username)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	password, _, err := loginPassword.Find(ctx, r.d, 0)
	if err != nil {
		return "", fmt.Errorf("%w: password field: %w", ErrAuthentication, err)
	}
	err = r.fill(ctx, password, r.cfg.Password)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	if remember, _, err := rememberMe.Find(ctx, r.d, 0); err == nil && !remember.Checked() {
		err = browser.Click(ctx, remember)
		if err != nil {
			r.tel.ReportDebug(report_login, "remember me", err)
		}
	}

	submit, _, err := loginSubmit.Find(ctx, r.d, 0)
	if err != nil {
		return "", fmt.Errorf("%w: login button: %w", ErrAuthentication, err)
	}
	err = browser.Click(ctx, submit)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %w", ErrAuthentication, err)
	}
	browser.Settle(ctx, t.PageSettle)

	if location, err := r.d.URL(ctx); err == nil {
		r.tel.ReportDebug(report_login, "post-login location", location)
	}
	return StateEnteringCriteria, nil
}

// dismissOverlays is best effort, nothing here may fail the job.
func (r *Runner) dismissOverlays(ctx context.Context) {
	if accept, _, err := acceptButton.FindVisible(ctx, r.d, 0); err == nil {
		err = accept.ForceClick(ctx)
		if err != nil {
			r.tel.ReportDebug(report_overlay, "accept", err)
		}
		browser.Settle(ctx, r.cfg.Timing.Settle/2)
	}
	err := r.d.Exec(ctx, overlayScript)
	if err != nil {
		r.tel.ReportDebug(report_overlay, "hide overlays", err)
	}
}

func (r *Runner) enterCriteria(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	err := r.d.Navigate(ctx, r.cfg.ScanURL)
	if err != nil {
		return "", fmt.Errorf("open scan workbench: %w", err)
	}
	browser.Settle(ctx, t.PageSettle)
	if !r.authenticated(ctx) {
		return "", ErrLoginRedirect
	}
	r.dismissOverlays(ctx)

	box, _, err := criteriaBox.Find(ctx, r.d, t.ElementWait)
	if err != nil {
		return "", fmt.Errorf("criteria box: %w", err)
	}
	err = r.fill(ctx, box, r.cfg.Criteria)
	if err != nil {
		return "", err
	}
	return StateSelectingTarget, nil
}

// SearchTerms splits "105 - Leading Stocks" into the list number and title, a
// name without the separator is used whole.
func SearchTerms(name string) []string {
	parts := strings.Split(name, " - ")
	if len(parts) >= 2 {
		return []string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])}
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	return []string{name}
}

func containsAll(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if !strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}
	return true
}

func (r *Runner) selectTarget(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	if tab, _, err := accountTab.Find(ctx, r.d, t.ElementWait); err == nil {
		err = browser.Click(ctx, tab)
		if err != nil {
			r.tel.ReportWarning(report_target, "click account tab", err)
		}
		browser.Settle(ctx, t.Settle)
	} else {
		r.tel.ReportWarning(report_target, "no account tab")
	}

	terms := SearchTerms(job.TargetName())
	if len(terms) == 0 {
		return "", fmt.Errorf("%w: job %s has no list name to select", ErrNotFound, job.Target.Key)
	}
	r.tel.ReportDebug(report_target, "search terms", terms)

	selects, err := r.d.FindAll(ctx, "//select")
	if err != nil {
		return "", err
	}
	for _, sel := range selects {
		if !sel.Visible() {
			continue
		}
		options, err := sel.Options()
		if err != nil {
			continue
		}
		for _, option := range options {
			if !containsAll(option, terms) {
				continue
			}
			err = sel.SelectOption(ctx, option)
			if err != nil {
				return "", fmt.Errorf("select %q: %w", option, err)
			}
			job.selectedOption = option
			r.tel.ReportDebug(report_target, "selected", option)
			browser.Settle(ctx, t.Settle/2)
			return StateAddingConstraint, nil
		}
	}

	for _, sel := range selects {
		if !sel.Visible() {
			continue
		}
		options, err := sel.Options()
		if err != nil {
			continue
		}
		r.tel.ReportDebug(report_target, "available", options[:min(5, len(options))])
	}
	return "", fmt.Errorf("%w: no list option matches %q", ErrNotFound, terms)
}

// ConstraintClause is the criteria line restricting a scan to a list.
func ConstraintClause(option string) (string, bool) {
	m := listIDRegex.FindStringSubmatch(option)
	if m == nil {
		return "", false
	}
	return fmt.Sprintf("AND [CHARTLIST IS $%s]", m[1]), true
}

func (r *Runner) addConstraint(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	if add, _, err := addButton.Find(ctx, r.d, t.ProbeWait); err == nil {
		err = add.ScrollIntoView(ctx)
		if err != nil {
			r.tel.ReportDebug(report_constraint, "scroll", err)
		}
		err = browser.Click(ctx, add)
		if err == nil {
			browser.Settle(ctx, t.Settle)
			return StateExecuting, nil
		}
		r.tel.ReportWarning(report_constraint, "click add", err)
	}

	clause, ok := ConstraintClause(job.selectedOption)
	if !ok {
		return "", fmt.Errorf("%w: no list id in option %q", ErrParse, job.selectedOption)
	}
	box, _, err := criteriaBox.Find(ctx, r.d, 0)
	if err != nil {
		return "", fmt.Errorf("criteria box: %w", err)
	}
	current, err := box.Value()
	if err != nil {
		return "", err
	}
	err = r.fill(ctx, box, current+"\n"+clause)
	if err != nil {
		return "", err
	}
	r.tel.ReportDebug(report_constraint, "appended", clause)
	return StateExecuting, nil
}

func (r *Runner) execute(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	err := r.d.Exec(ctx, `() => window.scrollTo(0, 0)`)
	if err != nil {
		r.tel.ReportDebug(report_execute, "scroll", err)
	}
	run, _, err := runButton.Find(ctx, r.d, t.ElementWait)
	if err != nil {
		return "", fmt.Errorf("run button: %w", err)
	}
	err = browser.Click(ctx, run)
	if err != nil {
		return "", fmt.Errorf("click run: %w", err)
	}
	browser.Settle(ctx, t.ResultsSettle)
	return StateResolvingResultWindow, nil
}

func (r *Runner) resolveWindow(ctx context.Context, job *ScanJob, lease *windows.Lease) (State, error) {
	_, _, err := lease.ResolveResult(ctx, r.cfg.Domain, "scanui")
	if err != nil {
		return "", err
	}
	browser.Settle(ctx, r.cfg.Timing.PageSettle)
	return StateCountingResults, nil
}

// CountResults reads the number of matches from the results page text, 0 when
// the page does not say.
func CountResults(text string) (int, bool) {
	m := matchingResultsRegex.FindStringSubmatch(text)
	if m == nil {
		m = looseResultsRegex.FindStringSubmatch(text)
	}
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Runner) countResults(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	text, err := r.d.BodyText(ctx)
	if err != nil {
		r.tel.ReportWarning(report_count, "read page", err)
	}
	count, ok := CountResults(text)
	if !ok {
		r.tel.ReportDebug(report_count, ErrParse.Error(), "no result count on page")
	}
	job.Result.StockCount = count
	r.tel.ReportCount(report_count, int64(count))
	if count == 0 {
		return StateEmptyResult, nil
	}
	return StateDownloadingArtifact, nil
}

func (r *Runner) emptyResult(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	job.Result = ScanResult{Symbols: []string{}}
	r.tel.ReportDebug(report_count, "no matches", job.Target.Key)
	return StateCleaningUp, nil
}

func (r *Runner) triggerExport(ctx context.Context, wait time.Duration) error {
	button, _, err := downloadButton.Find(ctx, r.d, wait)
	if err != nil {
		return err
	}
	return browser.Click(ctx, button)
}

func (r *Runner) downloadArtifact(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	dir := r.cfg.DownloadDir
	err := r.d.SetDownloadDir(ctx, dir)
	if err != nil {
		r.tel.ReportWarning(report_download, "set download dir", err)
	}
	err = r.downloads.Purge(dir, []string{".csv"})
	if err != nil {
		r.tel.ReportWarning(report_download, "purge", err)
	}

	err = r.triggerExport(ctx, t.ElementWait)
	if err != nil {
		r.tel.ReportWarning(report_download, "export trigger failed, retrying", err)
		browser.Settle(ctx, t.Settle)
		err = r.triggerExport(ctx, t.ProbeWait)
	}
	if err != nil {
		r.tel.ReportWarning(report_download, fmt.Errorf("%w: %w", ErrDownload, err))
		return StateSwitchingView, nil
	}
	browser.Settle(ctx, t.Settle)

	path, ok := r.downloads.WaitForCompleted(ctx, download.Target{
		Dir:        dir,
		Extensions: []string{".csv"},
		Timeout:    t.DownloadTimeout,
	})
	if !ok {
		r.tel.ReportWarning(report_download, ErrDownload, job.Target.Key)
		return StateSwitchingView, nil
	}
	job.downloaded = path
	return StateSwitchingView, nil
}

// switchView is optional, the screenshot is taken of whatever view is showing.
func (r *Runner) switchView(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	t := r.cfg.Timing
	link, _, err := galleryLink.Find(ctx, r.d, t.ElementWait)
	if err != nil {
		r.tel.ReportWarning(report_view, "no gallery link", job.Target.Key)
		return StateCapturingScreenshot, nil
	}
	err = browser.Click(ctx, link)
	if err != nil {
		r.tel.ReportWarning(report_view, "click gallery link", err)
		return StateCapturingScreenshot, nil
	}
	browser.Settle(ctx, t.ResultsSettle)
	return StateCapturingScreenshot, nil
}

func ImageName(key string) string {
	return key + "_candleglance.png"
}

func RecordsName(key string) string {
	return key + "_scan.csv"
}

func (r *Runner) captureScreenshot(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	err := os.MkdirAll(r.cfg.OutputDir, 0755)
	if err != nil {
		return "", err
	}
	path := filepath.Join(r.cfg.OutputDir, ImageName(job.Target.Key))
	err = r.d.Screenshot(ctx, path)
	if err != nil {
		r.tel.ReportWarning(report_screenshot, err)
		return StateExtractingRecords, nil
	}
	job.Result.ImagePath = path
	return StateExtractingRecords, nil
}

func (r *Runner) extractRecords(ctx context.Context, job *ScanJob, _ *windows.Lease) (State, error) {
	src := job.downloaded
	if src == "" {
		newest, err := download.Newest(r.cfg.DownloadDir, []string{".csv"})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			r.tel.ReportWarning(report_records, "list downloads", err)
		}
		src = newest
	}
	if src == "" {
		r.tel.ReportWarning(report_records, "no exported file", job.Target.Key)
		return StateCleaningUp, nil
	}

	dst := filepath.Join(r.cfg.OutputDir, RecordsName(job.Target.Key))
	err := download.Move(src, dst)
	if err != nil {
		r.tel.ReportWarning(report_records, "move", err)
		return StateCleaningUp, nil
	}
	job.Result.CSVPath = dst

	symbols, err := records.SymbolsFromFile(dst)
	if err != nil {
		r.tel.ReportWarning(report_records, "parse", err)
	}
	if symbols == nil {
		symbols = []string{}
	}
	job.Result.Symbols = symbols
	r.tel.ReportCount(report_symbols, int64(len(symbols)))
	return StateCleaningUp, nil
}
