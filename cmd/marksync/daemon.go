package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/metadata"
	"github.com/marksync/marksync/internal/monitor"
	"github.com/marksync/marksync/internal/native/chromium"
	"github.com/marksync/marksync/internal/reconciler"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/syncengine"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Watch the browser and reconcile bookmark changes continuously",
	Long: `Run the reconciliation daemon.

The daemon opens the browser's bookmark file, replays any changes that
happened while it was down (full resync), then watches for native events
and reconciles them into the canonical tree. Every drained batch triggers
one attempt of the configured sync engine.

Logs go to stderr and to a rotated file in the data directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		logWriter := io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogPath(),
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		})
		logger := log.New(logWriter, "[daemon] ", log.LstdFlags)

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		host, err := chromium.Open(cfg.BookmarksPath, log.New(logWriter, "[chromium] ", log.LstdFlags))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening bookmarks file: %v\n", err)
			os.Exit(1)
		}
		defer host.Close()

		var notifier reconciler.Notifier
		if cfg.Monitor.Enabled {
			server := monitor.NewServer(&monitor.Config{
				Addr:   cfg.Monitor.Addr,
				Logger: log.New(logWriter, "[monitor] ", log.LstdFlags),
			})
			if err := server.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Error starting monitor: %v\n", err)
				os.Exit(1)
			}
			defer server.Stop()
			notifier = server
			logger.Printf("monitor on ws://%s/ws", server.Addr())
		}

		runner := syncengine.New(syncengine.Config{
			Command: cfg.Sync.Command,
			Args:    cfg.Sync.Args,
			Timeout: cfg.SyncTimeout(),
			Logger:  log.New(logWriter, "[sync] ", log.LstdFlags),
		})
		if !runner.Enabled() {
			logger.Printf("no sync command configured, running local-only")
		}

		engine := reconciler.New(host, db, runner, reconciler.Config{
			Debounce: cfg.Debounce(),
			Metadata: metadata.New(metadata.Config{Logger: log.New(logWriter, "[metadata] ", log.LstdFlags)}),
			Notifier: notifier,
			Logger:   log.New(logWriter, "[engine] ", log.LstdFlags),
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Catch up on changes made while the daemon was down before the
		// watch starts delivering live events.
		logger.Printf("startup resync of %s", cfg.BookmarksPath)
		if err := engine.FullResync(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error during startup resync: %v\n", err)
			os.Exit(1)
		}

		if err := host.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "Error watching bookmarks file: %v\n", err)
			os.Exit(1)
		}

		logger.Printf("daemon running, debounce %v", cfg.Debounce())
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger.Printf("daemon stopped")
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
