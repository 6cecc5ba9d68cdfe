package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"chartwatch/internal/components/chrono"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/history"
	"chartwatch/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "How many runs to list.")
	rootCmd.AddCommand(historyCmd)
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit n]",
	Short: "List the runs recorded in the history ledger.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)

		path := historyDB
		if path == "" {
			cfg, err := loadConfig(configPath)
			if err != nil {
				serviceutil.Fatal("load config", err)
			}
			path = cfg.HistoryDB
		}
		if path == "" {
			serviceutil.Fatal("open history", fmt.Errorf("no ledger configured, pass --history-db"))
		}

		clock, err := chrono.NewStandardImpl("")
		if err != nil {
			serviceutil.Fatal("load time zone", err)
		}
		store, err := history.Open(cmd.Context(), path, telemetry.SlogAPI{}, clock)
		if err != nil {
			serviceutil.Fatal("open history", err)
		}
		defer store.Close()

		err = printHistory(cmd.Context(), store)
		if err != nil {
			serviceutil.Fatal("list history", err)
		}
	},
}

func printHistory(ctx context.Context, store *history.Store) error {
	entries, err := store.List(ctx, historyLimit)
	if err != nil {
		return err
	}
	known, err := store.KnownDates(ctx)
	if err != nil {
		return err
	}

	t := newTable()
	t.AppendHeader(table.Row{"Run", "Command", "Date", "Recorded", "Success", "Error"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.ID[:8], e.Command, e.RunDate, e.CreatedAt.Format(time.DateTime), e.Success, e.Error})
	}
	t.Render()

	if len(known) == 0 {
		return nil
	}
	dates := newTable()
	dates.AppendHeader(table.Row{"Section", "Last seen update"})
	for key, date := range known {
		dates.AppendRow(table.Row{key, date})
	}
	dates.SortBy([]table.SortBy{{Name: "Section", Mode: table.Asc}})
	dates.Render()
	return nil
}
