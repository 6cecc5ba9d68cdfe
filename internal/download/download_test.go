package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chartwatch/internal/components/telemetry"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func write(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestPurgeKeepsUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	write(t, filepath.Join(dir, "old.xlsx"), "x", now)
	write(t, filepath.Join(dir, "half.crdownload"), "x", now)
	write(t, filepath.Join(dir, "notes.txt"), "x", now)

	c := NewCoordinator(telemetry.NewTestAPI(t), 10*time.Millisecond)
	require.NoError(t, c.Purge(dir, SpreadsheetExtensions))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "notes.txt", entries[0].Name())
}

func TestPurgeCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	c := NewCoordinator(telemetry.NewTestAPI(t), 10*time.Millisecond)
	require.NoError(t, c.Purge(dir, SpreadsheetExtensions))
	_, err := os.Stat(dir)
	require.NoError(t, err)
}

func TestCompletedWaitsForPartials(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	write(t, filepath.Join(dir, "a.csv"), "x", now.Add(-time.Minute))
	write(t, filepath.Join(dir, "b.xls"), "x", now)
	write(t, filepath.Join(dir, "c.xlsx.crdownload"), "x", now)

	_, ok := Completed(dir, SpreadsheetExtensions)
	require.False(t, ok)

	require.NoError(t, os.Remove(filepath.Join(dir, "c.xlsx.crdownload")))
	path, ok := Completed(dir, SpreadsheetExtensions)
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "b.xls"), path)

	path, ok = Completed(dir, []string{".csv"})
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "a.csv"), path)
}

func TestWaitForCompletedSeesLateFile(t *testing.T) {
	dir := t.TempDir()
	c := NewCoordinator(telemetry.NewTestAPI(t), 20*time.Millisecond)

	partial := filepath.Join(dir, "report.xlsx.crdownload")
	write(t, partial, "x", time.Now())

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(50 * time.Millisecond)
		os.Rename(partial, filepath.Join(dir, "report.xlsx"))
	}()

	path, ok := c.WaitForCompleted(context.Background(), Target{Dir: dir, Timeout: 5 * time.Second})
	<-done
	require.True(t, ok)
	require.Equal(t, filepath.Join(dir, "report.xlsx"), path)
}

func TestWaitForCompletedTimesOut(t *testing.T) {
	dir := t.TempDir()
	tel := telemetry.NewTestAPI(t)
	c := NewCoordinator(tel, 10*time.Millisecond)

	_, ok := c.WaitForCompleted(context.Background(), Target{Dir: dir, Timeout: 60 * time.Millisecond})
	require.False(t, ok)
	require.True(t, tel.Has("warning", report_timeout))
}

func TestMove(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	write(t, src, "Symbol\nAAPL\n", time.Now())

	dst := filepath.Join(dir, "out", "leading_stocks_scan.csv")
	require.NoError(t, Move(src, dst))

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "Symbol\nAAPL\n", string(content))
	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))
}

func TestFetchUsesDispositionName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session")
		if err != nil || c.Value != "abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="leading.xlsx"`)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(telemetry.NewTestAPI(t), "")
	path, err := f.Fetch(context.Background(), srv.URL+"/files/export", dir, []*http.Cookie{{Name: "session", Value: "abc"}})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "leading.xlsx"), path)

	_, err = f.Fetch(context.Background(), srv.URL+"/files/export", dir, nil)
	require.Error(t, err)
}

func TestFilenameRejectsDirectoryNames(t *testing.T) {
	cases := []struct {
		disposition, link, want string
	}{
		{`attachment; filename="HotStocks.xls"`, "https://a.test/x", "HotStocks.xls"},
		{`attachment; filename="../../etc/passwd"`, "https://a.test/x", "passwd"},
		{`attachment; filename=".."`, "https://a.test/files/leading.xlsx", "leading.xlsx"},
		{`attachment; filename="/"`, "https://a.test/", "download"},
		{`attachment; filename="."`, "https://a.test/files/..", "download"},
		{"", "https://a.test/files/", "files"},
		{"", "https://a.test", "download"},
	}
	for _, tc := range cases {
		header := http.Header{}
		if tc.disposition != "" {
			header.Set("Content-Disposition", tc.disposition)
		}
		require.Equal(t, tc.want, filename(header, tc.link), "%q %q", tc.disposition, tc.link)
	}
}

func TestFetchWithDotDispositionWritesDefaultName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename=".."`)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := NewFetcher(telemetry.NewTestAPI(t), "").Fetch(context.Background(), srv.URL+"/", dir, nil)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "download"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "data", string(data))
}
