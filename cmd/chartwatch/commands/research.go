package commands

import (
	"context"
	"fmt"
	"time"

	"chartwatch/internal/download"
	"chartwatch/internal/extract"
	"chartwatch/internal/locator"
	"chartwatch/internal/research"
	"chartwatch/internal/result"

	"github.com/spf13/cobra"
)

var (
	knownDates       map[string]string
	knownFromHistory bool
)

func init() {
	for _, cmd := range []*cobra.Command{researchCmd, runCmd} {
		cmd.Flags().StringToStringVar(&knownDates, "known", nil, "Previously seen update date per section, e.g. leading_stocks=2/6/26.")
		cmd.Flags().BoolVar(&knownFromHistory, "known-from-history", false, "Take missing known dates from the history ledger.")
	}
	rootCmd.AddCommand(researchCmd)
}

var researchCmd = &cobra.Command{
	Use:   "research [--known key=date]...",
	Short: "Check the members site chartlists and download the updated ones.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		execute(cmd, "research", func(ctx context.Context, s *session, run *result.Run) error {
			_, err := runResearch(ctx, s, run)
			return err
		})
	},
}

// sections applies --known and, when asked, the ledger to the configured
// sections.
func (s *session) sections(ctx context.Context) []research.Section {
	var fromHistory map[string]string
	if knownFromHistory && s.ledger != nil {
		var err error
		fromHistory, err = s.ledger.KnownDates(ctx)
		if err != nil {
			s.tel.ReportWarning("cli.known-dates", err)
		}
	}

	out := make([]research.Section, len(s.cfg.Sections))
	for i, sec := range s.cfg.Sections {
		if date, ok := knownDates[sec.Key]; ok {
			sec.KnownDate = date
		}
		if sec.KnownDate == "" || sec.KnownDate == research.UnknownDate {
			if date, ok := fromHistory[sec.Key]; ok {
				sec.KnownDate = date
			}
		}
		out[i] = sec
	}
	return out
}

func runResearch(ctx context.Context, s *session, run *result.Run) ([]research.Outcome, error) {
	sections := s.sections(ctx)
	for _, sec := range sections {
		err := run.Set(sec.Key, result.Research{})
		if err != nil {
			return nil, err
		}
	}

	d, err := s.browser(ctx)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	cfg := s.cfg.researchConfig(sections)
	runner := research.NewRunner(
		d,
		s.tel,
		locator.New(d, s.tel, cfg.Timing.LocateWait),
		extract.New(d, s.tel, s.cfg.extractConfig()),
		s.downloads(),
		download.NewFetcher(s.tel, s.cfg.Browser.UserAgent),
		cfg,
	)

	started := time.Now()
	outcomes, err := runner.Run(ctx)
	for _, o := range outcomes {
		err := run.Set(o.Key, o.Entry())
		if err != nil {
			return outcomes, err
		}
	}
	s.tel.ReportCount("cli.research-seconds", int64(time.Since(started).Seconds()))
	return outcomes, err
}
