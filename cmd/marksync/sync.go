package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/native/chromium"
	"github.com/marksync/marksync/internal/reconciler"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/syncengine"
	"github.com/marksync/marksync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one full reconciliation pass now",
	Long: `Reconcile the browser's bookmark file against the canonical tree once.

This performs the same work as one daemon cycle:
  1. Full resync of native tree membership into the canonical tree
  2. One attempt of the configured sync engine
  3. Replay of any remote changes onto the native tree

Useful when the daemon is not running, or from cron.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := ui.Stdout()
		verbose, _ := cmd.Flags().GetBool("verbose")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		logger := log.New(io.Discard, "", 0)
		if verbose {
			logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		host, err := chromium.Open(cfg.BookmarksPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening bookmarks file: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		runner := syncengine.New(syncengine.Config{
			Command: cfg.Sync.Command,
			Args:    cfg.Sync.Args,
			Timeout: cfg.SyncTimeout(),
			Logger:  logger,
		})
		engine := reconciler.New(host, db, runner, reconciler.Config{Logger: logger})

		ctx := context.Background()
		if err := engine.FullResync(ctx); err != nil {
			out.Errorf("resync failed: %v", err)
			os.Exit(1)
		}

		// An empty drain still runs the sync attempt and the container
		// reorder pass, and journals the result.
		engine.Drain(ctx)

		entries, err := db.Journal(ctx, store.JournalFilter{Limit: 1})
		if err != nil || len(entries) == 0 {
			out.Successf("reconciliation complete")
			return
		}
		last := entries[0]
		if last.SyncError != "" {
			out.Errorf("sync failed: %s", last.SyncError)
			os.Exit(1)
		}
		if !runner.Enabled() {
			out.Warnf("no sync command configured, reconciled locally only")
			return
		}
		out.Successf("reconciliation and sync complete in %v", last.Duration)
	},
}

func init() {
	syncCmd.Flags().BoolP("verbose", "v", false, "Log engine activity to stderr")
	rootCmd.AddCommand(syncCmd)
}
