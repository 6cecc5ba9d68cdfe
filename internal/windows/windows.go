// Package windows keeps the browser's window set reconciled between jobs: a job
// leases the set, may spawn windows, and on release every window except the
// origin is closed and the origin is focused again.
package windows

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"
)

const (
	report_close   = "close"
	report_resolve = "resolve"
	report_restore = "restore"
)

// ErrLeased is returned when a lease is requested while another is active.
var ErrLeased = errors.New("window set is already leased")

// WindowSet is the window bookkeeping of one job.
type WindowSet struct {
	Origin  browser.WindowHandle
	Spawned []browser.WindowHandle
	// Result is the window the job's results rendered in, empty when they
	// rendered in place.
	Result browser.WindowHandle
}

type Manager struct {
	d      browser.Driver
	tel    telemetry.API
	origin browser.WindowHandle
	active *Lease
}

// NewManager designates the currently focused window as the origin.
func NewManager(ctx context.Context, d browser.Driver, tel telemetry.API) (*Manager, error) {
	assert.NotNil(d)
	assert.NotNil(tel)
	origin, err := d.CurrentWindow(ctx)
	if err != nil {
		return nil, fmt.Errorf("read origin window: %w", err)
	}
	return &Manager{
		d:      d,
		tel:    telemetry.NewScopedAPI("windows", tel),
		origin: origin,
	}, nil
}

func (m *Manager) Origin() browser.WindowHandle {
	return m.origin
}

// Lease is exclusive use of the window set until Release.
type Lease struct {
	m        *Manager
	set      WindowSet
	released bool
}

func (m *Manager) Acquire() (*Lease, error) {
	if m.active != nil {
		return nil, ErrLeased
	}
	l := &Lease{m: m, set: WindowSet{Origin: m.origin}}
	m.active = l
	return l, nil
}

// With runs fn under a lease and always releases it.
func (m *Manager) With(ctx context.Context, fn func(l *Lease) error) error {
	l, err := m.Acquire()
	if err != nil {
		return err
	}
	fnErr := fn(l)
	releaseErr := l.Release(ctx)
	return errors.Join(fnErr, releaseErr)
}

// Set returns a copy of the current bookkeeping.
func (l *Lease) Set() WindowSet {
	out := l.set
	out.Spawned = slices.Clone(l.set.Spawned)
	return out
}

// Refresh records every window other than the origin as spawned, in opening
// order.
func (l *Lease) Refresh(ctx context.Context) ([]browser.WindowHandle, error) {
	handles, err := l.m.d.Windows(ctx)
	if err != nil {
		return nil, err
	}
	var spawned []browser.WindowHandle
	for _, h := range handles {
		if h != l.set.Origin {
			spawned = append(spawned, h)
		}
	}
	l.set.Spawned = spawned
	return slices.Clone(spawned), nil
}

// ResolveResult picks the window results rendered in and focuses it. The first
// spawned window on domain whose location does not contain exclude wins, else the
// most recently opened one. With no spawned window the results are in place and
// ok is false.
func (l *Lease) ResolveResult(ctx context.Context, domain, exclude string) (browser.WindowHandle, bool, error) {
	spawned, err := l.Refresh(ctx)
	if err != nil {
		return "", false, err
	}
	if len(spawned) == 0 {
		l.m.tel.ReportDebug(report_resolve, "no new window, results in place")
		return "", false, nil
	}

	domain = strings.ToLower(domain)
	exclude = strings.ToLower(exclude)
	for _, h := range spawned {
		err := l.m.d.SwitchWindow(ctx, h)
		if err != nil {
			l.m.tel.ReportDebug(report_resolve, "switch failed", h, err)
			continue
		}
		location, err := l.m.d.URL(ctx)
		if err != nil {
			continue
		}
		location = strings.ToLower(location)
		if strings.Contains(location, domain) && (exclude == "" || !strings.Contains(location, exclude)) {
			l.set.Result = h
			l.m.tel.ReportDebug(report_resolve, "result window", h, location)
			return h, true, nil
		}
	}

	last := spawned[len(spawned)-1]
	err = l.m.d.SwitchWindow(ctx, last)
	if err != nil {
		return "", false, fmt.Errorf("switch to newest window: %w", err)
	}
	l.set.Result = last
	l.m.tel.ReportDebug(report_resolve, "falling back to newest window", last)
	return last, true, nil
}

// Release closes every window except the origin and focuses the origin. A window
// that refuses to close is reported and skipped. Release is idempotent.
func (l *Lease) Release(ctx context.Context) error {
	if l.released {
		return nil
	}
	l.released = true
	defer func() {
		l.set.Spawned = nil
		l.set.Result = ""
		if l.m.active == l {
			l.m.active = nil
		}
	}()

	handles, err := l.m.d.Windows(ctx)
	if err != nil {
		l.m.tel.ReportWarning(report_close, "list windows", err)
	}
	for _, h := range handles {
		if h == l.set.Origin {
			continue
		}
		err := l.m.d.CloseWindow(ctx, h)
		if err != nil {
			l.m.tel.ReportWarning(report_close, h, err)
		}
	}

	current, err := l.m.d.CurrentWindow(ctx)
	if err == nil && current == l.set.Origin {
		return nil
	}
	err = l.m.d.SwitchWindow(ctx, l.set.Origin)
	if err != nil {
		l.m.tel.ReportBroken(report_restore, l.set.Origin, err)
		return fmt.Errorf("restore origin window: %w", err)
	}
	return nil
}
