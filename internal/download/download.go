// Package download coordinates browser-triggered file downloads: the target
// directory is purged before a trigger so recency alone identifies the new file,
// then polled until a finished file with a recognised extension shows up.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"

	"github.com/fsnotify/fsnotify"
)

const (
	report_purge   = "purge"
	report_wait    = "wait"
	report_watch   = "watch"
	report_timeout = "timeout"
)

var (
	// SpreadsheetExtensions are the file kinds the research site offers.
	SpreadsheetExtensions = []string{".xls", ".xlsx", ".csv"}
	// PartialMarkers are the suffixes browsers give to downloads in progress.
	PartialMarkers = []string{".crdownload", ".part", ".tmp"}
)

// ErrTimeout is returned when no finished download appeared in time.
var ErrTimeout = errors.New("download did not complete in time")

// Target is where a download is expected to land.
type Target struct {
	Dir        string
	Extensions []string
	Timeout    time.Duration
}

type Coordinator struct {
	tel  telemetry.API
	poll time.Duration
}

func NewCoordinator(tel telemetry.API, poll time.Duration) Coordinator {
	assert.NotNil(tel)
	if poll <= 0 {
		poll = time.Second
	}
	return Coordinator{
		tel:  telemetry.NewScopedAPI("download", tel),
		poll: poll,
	}
}

func hasExt(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// Purge removes every file in dir that has one of exts or is a partial download.
// The directory is created when missing.
func (c Coordinator) Purge(dir string, exts []string) error {
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !hasExt(e.Name(), exts) && !hasExt(e.Name(), PartialMarkers) {
			continue
		}
		err := os.Remove(filepath.Join(dir, e.Name()))
		if err != nil && !os.IsNotExist(err) {
			c.tel.ReportWarning(report_purge, e.Name(), err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Newest returns the most recently modified file in dir with one of exts, it
// returns "" when there is none.
func Newest(dir string, exts []string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var newest string
	var newestTime time.Time
	for _, e := range entries {
		if e.IsDir() || !hasExt(e.Name(), exts) || hasExt(e.Name(), PartialMarkers) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, e.Name())
			newestTime = info.ModTime()
		}
	}
	return newest, nil
}

// Completed returns the newest file with one of exts, provided no partial
// download marker remains in dir.
func Completed(dir string, exts []string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	if slices.ContainsFunc(entries, func(e os.DirEntry) bool {
		return hasExt(e.Name(), PartialMarkers)
	}) {
		return "", false
	}
	path, err := Newest(dir, exts)
	if err != nil || path == "" {
		return "", false
	}
	return path, true
}

// watch wakes the poll loop whenever something changes in dir. When the watcher
// cannot be installed the loop simply polls.
func (c Coordinator) watch(dir string, wake chan<- struct{}) (stop func()) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.tel.ReportDebug(report_watch, "watcher unavailable, polling only", err)
		return func() {}
	}
	err = w.Add(dir)
	if err != nil {
		c.tel.ReportDebug(report_watch, "watch failed, polling only", dir, err)
		w.Close()
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case _, ok := <-w.Events:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				c.tel.ReportDebug(report_watch, err)
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
		wg.Wait()
	}
}

// WaitForCompleted blocks until a finished download is present in t.Dir or
// t.Timeout passes. A timeout is not an error for the caller, it returns ok=false.
func (c Coordinator) WaitForCompleted(ctx context.Context, t Target) (string, bool) {
	exts := t.Extensions
	if len(exts) == 0 {
		exts = SpreadsheetExtensions
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	wake := make(chan struct{}, 1)
	stop := c.watch(t.Dir, wake)
	defer stop()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		if path, ok := Completed(t.Dir, exts); ok {
			c.tel.ReportDebug(report_wait, "download completed", path)
			return path, true
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-deadline.C:
			if path, ok := Completed(t.Dir, exts); ok {
				return path, true
			}
			c.tel.ReportWarning(report_timeout, t.Dir, timeout.String())
			return "", false
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Move renames src to dst, copying across filesystems when a rename is not
// possible.
func Move(src, dst string) error {
	err := os.MkdirAll(filepath.Dir(dst), 0755)
	if err != nil {
		return err
	}
	err = os.Rename(src, dst)
	if err == nil {
		return nil
	}

	in, openErr := os.Open(src)
	if openErr != nil {
		return fmt.Errorf("move %s: %w", src, errors.Join(err, openErr))
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil || closeErr != nil {
		return fmt.Errorf("move %s: %w", src, errors.Join(err, closeErr))
	}
	in.Close()
	return os.Remove(src)
}
