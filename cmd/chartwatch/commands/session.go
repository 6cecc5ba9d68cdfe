package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/chrono"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/download"
	"chartwatch/internal/history"
	"chartwatch/internal/notify"
	"chartwatch/internal/result"

	"github.com/spf13/cobra"
)

// session is everything a run command shares: config, clock, the dated output
// directory and a browser that is only launched when first needed.
type session struct {
	cfg     Config
	tel     telemetry.API
	clock   chrono.API
	dataDir string

	driver *browser.RodDriver
	ledger *history.Store
}

func (s *session) browser(ctx context.Context) (*browser.RodDriver, error) {
	if s.driver != nil {
		return s.driver, nil
	}
	d, err := browser.Launch(ctx, s.cfg.Browser, s.tel)
	if err != nil {
		return nil, err
	}
	s.driver = d
	return d, nil
}

func (s *session) downloads() download.Coordinator {
	return download.NewCoordinator(s.tel, ms(s.cfg.Timeouts.DownloadPollMs, time.Second))
}

func (s *session) close() {
	if s.driver != nil {
		err := s.driver.Close()
		if err != nil {
			s.tel.ReportWarning("cli.close-browser", err)
		}
	}
	if s.ledger != nil {
		err := s.ledger.Close()
		if err != nil {
			s.tel.ReportWarning("cli.close-history", err)
		}
	}
}

// bootstrap loads configuration and prepares the dated output directory. The
// returned run is always usable, even alongside an error.
func bootstrap(ctx context.Context) (*session, *result.Run, error) {
	tel := telemetry.SlogAPI{}
	clock, err := chrono.NewStandardImpl("")
	if err != nil {
		return nil, result.NewRun(time.Now().UTC().Format(time.DateOnly), ""), err
	}

	cfg, err := loadConfig(configPath)
	if err == nil && cfg.Timezone != "" {
		clock, err = chrono.NewStandardImpl(cfg.Timezone)
	}
	run := result.NewRun(chrono.RunDate(clock), "")
	if err != nil {
		return nil, run, fmt.Errorf("load config: %w", err)
	}

	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if downloadDir != "" {
		cfg.DownloadDir = downloadDir
	}
	if historyDB != "" {
		cfg.HistoryDB = historyDB
	}

	dataDir, err := filepath.Abs(filepath.Join(cfg.OutputDir, run.Date))
	if err != nil {
		return nil, run, err
	}
	run.DataDir = dataDir
	err = os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, run, fmt.Errorf("create output dir: %w", err)
	}
	err = os.MkdirAll(cfg.DownloadDir, 0755)
	if err != nil {
		return nil, run, fmt.Errorf("create download dir: %w", err)
	}

	s := &session{cfg: cfg, tel: tel, clock: clock, dataDir: dataDir}
	if cfg.HistoryDB != "" {
		s.ledger, err = history.Open(ctx, cfg.HistoryDB, tel, clock)
		if err != nil {
			return nil, run, fmt.Errorf("open history: %w", err)
		}
	}
	return s, run, nil
}

// execute runs body inside a bootstrapped session and always emits exactly one
// result object on stdout.
func execute(cmd *cobra.Command, command string, body func(ctx context.Context, s *session, run *result.Run) error) {
	ctx := cmd.Context()
	telemetry.InitSlog(verbose)

	providers, err := telemetry.SetupFromEnv(ctx, "chartwatch")
	if err != nil {
		slog.WarnContext(ctx, "telemetry setup failed", "err", err)
	}
	defer func() {
		err := providers.Shutdown(context.Background())
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	s, run, err := bootstrap(ctx)
	if err == nil {
		run.Success = true
		err = body(ctx, s, run)
	}
	if err != nil {
		slog.ErrorContext(ctx, command+" failed", "err", err)
		run.Fail(err)
	}

	if s != nil {
		if s.ledger != nil {
			id, err := s.ledger.Record(ctx, command, run)
			if err != nil {
				s.tel.ReportWarning("cli.history", err)
			} else {
				slog.DebugContext(ctx, "recorded run", "id", id)
			}
		}
		err := notify.New(s.cfg.Notify, s.tel).Notify(ctx, run)
		if err != nil {
			s.tel.ReportWarning("cli.notify", err)
		}
		s.close()
	}

	err = result.Emit(os.Stdout, run)
	if err != nil {
		slog.Error("write result", "err", err)
		os.Exit(1)
	}
}
