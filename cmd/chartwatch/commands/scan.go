package commands

import (
	"context"
	"fmt"
	"slices"

	"chartwatch/internal/result"
	"chartwatch/internal/windows"
	"chartwatch/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	scanURLs        map[string]string
	scanCredentials map[string]string
)

func init() {
	scanCmd.Flags().StringToStringVar(&scanURLs, "target", nil, "Shared list url per job key, e.g. leading_stocks=https://...")
	scanCmd.Flags().StringToStringVar(&scanCredentials, "credential", nil, "Shared list password per job key.")
	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [--target key=url --credential key=password]...",
	Short: "Unlock shared lists on the charting platform and run the scan over each.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		execute(cmd, "scan", func(ctx context.Context, s *session, run *result.Run) error {
			targets := scanTargets(s.cfg.Scans, scanURLs, scanCredentials)
			if len(targets) == 0 {
				return fmt.Errorf("no scan targets configured")
			}
			return runScans(ctx, s, run, targets, "")
		})
	},
}

// scanTargets merges the configured scans with the flag overrides, flag-only
// keys are appended in key order.
func scanTargets(configured []ScanConfig, urls, credentials map[string]string) []workflow.Target {
	var out []workflow.Target
	seen := map[string]bool{}
	for _, sc := range configured {
		t := workflow.Target{Key: sc.Key, ResourceURL: sc.ResourceURL, Credential: sc.Credential, Name: sc.Name}
		if u, ok := urls[sc.Key]; ok {
			t.ResourceURL = u
		}
		if c, ok := credentials[sc.Key]; ok {
			t.Credential = c
		}
		seen[sc.Key] = true
		if t.ResourceURL != "" {
			out = append(out, t)
		}
	}

	var extra []string
	for key := range urls {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	for _, key := range extra {
		out = append(out, workflow.Target{Key: key, ResourceURL: urls[key], Credential: credentials[key]})
	}
	return out
}

func scanEntry(job *workflow.ScanJob) result.Scan {
	symbols := job.Result.Symbols
	if symbols == nil {
		symbols = []string{}
	}
	return result.Scan{
		CSVPath:       result.Str(job.Result.CSVPath),
		ImagePath:     result.Str(job.Result.ImagePath),
		StockCount:    job.Result.StockCount,
		Symbols:       symbols,
		ChartlistName: result.Str(job.ChartlistTitle),
	}
}

// runScans scans targets and stores each job under its key plus suffix.
func runScans(ctx context.Context, s *session, run *result.Run, targets []workflow.Target, suffix string) error {
	for _, t := range targets {
		err := run.Set(t.Key+suffix, result.EmptyScan(""))
		if err != nil {
			return err
		}
	}

	d, err := s.browser(ctx)
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	wm, err := windows.NewManager(ctx, d, s.tel)
	if err != nil {
		return err
	}
	runner := workflow.NewRunner(d, s.tel, wm, s.downloads(), s.cfg.workflowConfig(s.dataDir))

	jobs, err := runner.Run(ctx, targets)
	for _, job := range jobs {
		setErr := run.Set(job.Target.Key+suffix, scanEntry(job))
		if setErr != nil {
			return setErr
		}
	}
	return err
}
