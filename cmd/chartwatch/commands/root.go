package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	verbose     bool
	outputDir   string
	downloadDir string
	historyDB   string
)

var rootCmd = &cobra.Command{
	Use:   "chartwatch",
	Short: "chartwatch checks members-site chartlists for updates and scans them on the charting platform.",
	Long: `chartwatch logs into the research members site, reads the update date, password
and shared link of every configured chartlist section, downloads the ones that changed
and runs a fixed scan over each list on the charting platform.

Every run command prints exactly one JSON object to stdout, logs go to stderr.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "chartwatch.json5", "Configuration file, a .local variant next to it overrides it.")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	flags.StringVar(&outputDir, "output-dir", "", "Base directory for dated run output.")
	flags.StringVar(&downloadDir, "download-dir", "", "Directory browser downloads land in.")
	flags.StringVar(&historyDB, "history-db", "", "Record every result in this sqlite ledger.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
