package commands

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/extract"
	"chartwatch/internal/notify"
	"chartwatch/internal/research"
	"chartwatch/internal/workflow"
	"chartwatch/lib/configutil"

	"dario.cat/mergo"
)

type SiteConfig struct {
	BaseURL        string `json:"base_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	LoginPath      string `json:"login_path"`
	ChartlistsPath string `json:"chartlists_path"`
	ScanPath       string `json:"scan_path"`
}

func (s SiteConfig) url(path string) string {
	base, err := url.Parse(s.BaseURL)
	if err != nil {
		return s.BaseURL + path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return s.BaseURL + path
	}
	return base.ResolveReference(ref).String()
}

// ScanConfig is one list to scan when its url is not taken from the members site.
type ScanConfig struct {
	Key         string `json:"key"`
	ResourceURL string `json:"resource_url"`
	Credential  string `json:"credential"`
	// Name overrides the list name read from the shared page.
	Name string `json:"name"`
}

type TimeoutsConfig struct {
	ElementWaitMs   int `json:"element_wait_ms"`
	ProbeWaitMs     int `json:"probe_wait_ms"`
	LocateWaitMs    int `json:"locate_wait_ms"`
	SettleMs        int `json:"settle_ms"`
	PageSettleMs    int `json:"page_settle_ms"`
	ResultsSettleMs int `json:"results_settle_ms"`
	DownloadWaitMs  int `json:"download_wait_ms"`
	DownloadPollMs  int `json:"download_poll_ms"`
}

func ms(v int, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

type Config struct {
	Members  SiteConfig         `json:"members"`
	Charts   SiteConfig         `json:"charts"`
	Sections []research.Section `json:"sections"`
	Scans    []ScanConfig       `json:"scans"`

	OutputDir   string `json:"output_dir"`
	DownloadDir string `json:"download_dir"`
	Timezone    string `json:"timezone"`

	ResourceMarker  string `json:"resource_marker"`
	SiteDomain      string `json:"site_domain"`
	DownloadAppName string `json:"download_app_name"`
	DownloadKeyword string `json:"download_keyword"`
	ScanCriteria    string `json:"scan_criteria"`

	Timeouts  TimeoutsConfig    `json:"timeouts"`
	Browser   browser.Config    `json:"browser"`
	HistoryDB string            `json:"history_db"`
	Notify    notify.SmtpConfig `json:"notify"`
}

func defaultConfig() Config {
	return Config{
		Members: SiteConfig{
			BaseURL:        "https://www.earningsbeats.com",
			LoginPath:      "/members/login.cfm",
			ChartlistsPath: "/members/chartlists.cfm",
		},
		Charts: SiteConfig{
			BaseURL:   "https://stockcharts.com",
			LoginPath: "/login",
			ScanPath:  "/def/servlet/ScanUI",
		},
		Sections:    research.DefaultSections(),
		OutputDir:   "data",
		DownloadDir: filepath.Join(os.TempDir(), "chartwatch_downloads"),
	}
}

// loadConfig reads path (plus its .local override) on top of the defaults, a
// missing file only means the defaults and flags are used.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	file, err := configutil.ReadConfig[Config](path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	return mergeConfig(cfg, file)
}

func mergeConfig(base, file Config) (Config, error) {
	err := mergo.Merge(&base, file, mergo.WithOverride)
	if err != nil {
		return base, err
	}
	return base, nil
}

func (c Config) extractConfig() extract.Config {
	out := extract.DefaultConfig()
	if c.ResourceMarker != "" {
		out.ResourceMarker = c.ResourceMarker
	}
	if c.SiteDomain != "" {
		out.SiteDomain = c.SiteDomain
	}
	if c.DownloadAppName != "" {
		out.AppName = c.DownloadAppName
	}
	if c.DownloadKeyword != "" {
		out.Keyword = c.DownloadKeyword
	}
	return out
}

func (c Config) researchConfig(sections []research.Section) research.Config {
	out := research.DefaultConfig()
	out.LoginURL = c.Members.url(c.Members.LoginPath)
	out.ChartlistsURL = c.Members.url(c.Members.ChartlistsPath)
	out.Username = c.Members.Username
	out.Password = c.Members.Password
	out.DownloadDir = c.DownloadDir
	out.Sections = sections

	t := c.Timeouts
	out.Timing = research.Timing{
		ElementWait:     ms(t.ElementWaitMs, out.Timing.ElementWait),
		LocateWait:      ms(t.LocateWaitMs, out.Timing.LocateWait),
		Settle:          ms(t.SettleMs, out.Timing.Settle),
		PageSettle:      ms(t.PageSettleMs, out.Timing.PageSettle),
		DownloadTimeout: ms(t.DownloadWaitMs, out.Timing.DownloadTimeout),
	}
	return out
}

func (c Config) workflowConfig(dataDir string) workflow.Config {
	out := workflow.DefaultConfig()
	out.LoginURL = c.Charts.url(c.Charts.LoginPath)
	out.ScanURL = c.Charts.url(c.Charts.ScanPath)
	out.Username = c.Charts.Username
	out.Password = c.Charts.Password
	if c.SiteDomain != "" {
		out.Domain = c.SiteDomain
	}
	if c.ScanCriteria != "" {
		out.Criteria = c.ScanCriteria
	}
	out.OutputDir = dataDir
	out.DownloadDir = filepath.Join(c.DownloadDir, "scans")

	t := c.Timeouts
	out.Timing = workflow.Timing{
		ElementWait:     ms(t.ElementWaitMs, out.Timing.ElementWait),
		ProbeWait:       ms(t.ProbeWaitMs, out.Timing.ProbeWait),
		Settle:          ms(t.SettleMs, out.Timing.Settle),
		PageSettle:      ms(t.PageSettleMs, out.Timing.PageSettle),
		ResultsSettle:   ms(t.ResultsSettleMs, out.Timing.ResultsSettle),
		DownloadTimeout: ms(t.DownloadWaitMs, out.Timing.DownloadTimeout),
	}
	return out
}
