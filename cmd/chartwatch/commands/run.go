package commands

import (
	"context"

	"chartwatch/internal/research"
	"chartwatch/internal/result"
	"chartwatch/internal/workflow"

	"github.com/spf13/cobra"
)

var forceScan bool

func init() {
	runCmd.Flags().BoolVar(&forceScan, "force-scan", false, "Scan every section with a shared link, not only the updated ones.")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [--force-scan]",
	Short: "Check the members site, then scan every updated chartlist.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		execute(cmd, "run", func(ctx context.Context, s *session, run *result.Run) error {
			outcomes, err := runResearch(ctx, s, run)
			if err != nil {
				return err
			}
			targets := targetsFromResearch(outcomes, s.cfg.Scans, forceScan)
			if len(targets) == 0 {
				s.tel.ReportDebug("cli.run", "nothing to scan")
				return nil
			}
			return runScans(ctx, s, run, targets, "_scan")
		})
	},
}

// targetsFromResearch picks the sections that have a shared link and password
// and changed since the known date. A configured scan with the same key may
// name the list explicitly.
func targetsFromResearch(outcomes []research.Outcome, configured []ScanConfig, force bool) []workflow.Target {
	names := map[string]string{}
	for _, sc := range configured {
		names[sc.Key] = sc.Name
	}

	var out []workflow.Target
	for _, o := range outcomes {
		if o.ResourceURL == "" || o.Credential == "" {
			continue
		}
		if !o.IsNew && !force {
			continue
		}
		out = append(out, workflow.Target{
			Key:         o.Key,
			ResourceURL: o.ResourceURL,
			Credential:  o.Credential,
			Name:        names[o.Key],
		})
	}
	return out
}
