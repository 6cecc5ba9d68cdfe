package telemetry

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// Report is a single recorded call on TestAPI.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

// TestAPI records every report so tests can assert on what was reported. It also
// forwards reports to t.Log so failures come with context.
type TestAPI struct {
	t       testing.TB
	mu      sync.Mutex
	reports []Report
}

func NewTestAPI(t testing.TB) *TestAPI {
	return &TestAPI{t: t}
}

func (a *TestAPI) record(kind, id string, params []any) {
	a.mu.Lock()
	a.reports = append(a.reports, Report{Kind: kind, ID: id, Params: params})
	a.mu.Unlock()
	if a.t != nil {
		a.t.Helper()
		a.t.Log(kind, id, fmt.Sprint(params...))
	}
}

func (a *TestAPI) ReportBroken(id string, params ...any) {
	a.record("broken", id, params)
}

func (a *TestAPI) ReportWarning(id string, params ...any) {
	a.record("warning", id, params)
}

func (a *TestAPI) ReportDebug(msg string, params ...any) {
	a.record("debug", msg, params)
}

func (a *TestAPI) ReportCount(id string, count int64) {
	a.record("count", id, []any{count})
}

// Reports returns a copy of the recorded reports of the given kind, or all
// reports when kind is empty.
func (a *TestAPI) Reports(kind string) []Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Report
	for _, r := range a.reports {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether a report of kind exists whose id contains idPart.
func (a *TestAPI) Has(kind, idPart string) bool {
	for _, r := range a.Reports(kind) {
		if strings.Contains(r.ID, idPart) {
			return true
		}
	}
	return false
}
