package workflow

import (
	"errors"

	"chartwatch/internal/browser"
	"chartwatch/internal/download"
)

var (
	// ErrNotFound is a locator miss, recoverable unless the step needs the control.
	ErrNotFound = browser.ErrNotFound
	// ErrTimeout is a bounded wait that expired.
	ErrTimeout = download.ErrTimeout
	// ErrAuthentication fails the whole run.
	ErrAuthentication = errors.New("authentication failed")
	// ErrPrerequisite fails the whole run when no list could be unlocked.
	ErrPrerequisite = errors.New("no chartlists could be unlocked")
	// ErrDownload is an export that never materialised, it only degrades the job.
	ErrDownload = errors.New("download failed")
	// ErrParse is a results page without the expected fields.
	ErrParse = errors.New("unexpected page content")
	// ErrLoginRedirect is the workbench bouncing a job back to the login page.
	ErrLoginRedirect = errors.New("redirected to login")
)

// IsRunFatal reports whether err must end the run rather than a single job.
func IsRunFatal(err error) bool {
	return errors.Is(err, ErrAuthentication) || errors.Is(err, ErrPrerequisite)
}
