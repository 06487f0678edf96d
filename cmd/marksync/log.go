package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/ui"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "data",
	Short:   "Show the sync journal",
	Long: `List past reconciliation drains, newest first.

The --since filter accepts natural language:
  marksync log --since "yesterday"
  marksync log --since "2 hours ago"
  marksync log --since "last monday"`,
	Run: func(cmd *cobra.Command, args []string) {
		out := ui.Stdout()
		sinceArg, _ := cmd.Flags().GetString("since")
		limit, _ := cmd.Flags().GetInt("limit")
		failuresOnly, _ := cmd.Flags().GetBool("failures")

		filter := store.JournalFilter{Limit: limit, FailuresOnly: failuresOnly}
		if sinceArg != "" {
			since, err := parseSince(sinceArg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			filter.Since = since
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		entries, err := db.Journal(context.Background(), filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading journal: %v\n", err)
			os.Exit(1)
		}
		if len(entries) == 0 {
			out.Mutedf("no journal entries")
			return
		}

		for _, e := range entries {
			stamp := e.StartedAt.Local().Format("2006-01-02 15:04:05")
			summary := fmt.Sprintf("%s  %d events, %d applied, %d dropped, %d failed (%v)",
				stamp, e.Events, e.Applied, e.Dropped, e.Failed, e.Duration.Round(time.Millisecond))
			switch {
			case e.SyncError != "":
				out.Errorf("%s", summary)
				out.Mutedf("    sync error: %s", e.SyncError)
			case e.Failed > 0:
				out.Warnf("%s", summary)
			default:
				out.Successf("%s", summary)
			}
		}
	},
}

// parseSince turns a natural-language time expression into a point in
// time using the when parser.
func parseSince(s string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("parse --since %q: not a recognizable time", s)
	}
	return r.Time, nil
}

func init() {
	logCmd.Flags().String("since", "", "Only show drains since this time (natural language)")
	logCmd.Flags().IntP("limit", "n", 20, "Maximum entries to show (0 = all)")
	logCmd.Flags().Bool("failures", false, "Only show drains with failures")
	rootCmd.AddCommand(logCmd)
}
