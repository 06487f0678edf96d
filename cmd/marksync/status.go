package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/tree"
	"github.com/marksync/marksync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show canonical tree and sync state",
	Run: func(cmd *cobra.Command, args []string) {
		out := ui.Stdout()

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

		ctx := context.Background()
		settings, err := db.Settings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading settings: %v\n", err)
			os.Exit(1)
		}
		tr, err := db.Tree(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading canonical tree: %v\n", err)
			os.Exit(1)
		}
		mappings, err := db.Mappings(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading mappings: %v\n", err)
			os.Exit(1)
		}

		out.Headerf("marksync status")
		out.KeyValue("database", cfg.DBPath())
		out.KeyValue("bookmarks file", cfg.BookmarksPath)
		out.KeyValue("sync enabled", strconv.FormatBool(settings.SyncEnabled))
		out.KeyValue("sync toolbar", strconv.FormatBool(settings.SyncToolbar))
		out.KeyValue("metadata lookups", strconv.FormatBool(settings.MetadataEnabled))
		if cfg.Sync.Command != "" {
			out.KeyValue("sync command", cfg.Sync.Command)
		} else {
			out.KeyValue("sync command", "(none, local-only)")
		}

		bookmarks, folders := countNodes(tr)
		out.KeyValue("bookmarks", strconv.Itoa(bookmarks))
		out.KeyValue("folders", strconv.Itoa(folders))
		out.KeyValue("native mappings", strconv.Itoa(mappings.Len()))

		entries, err := db.Journal(ctx, store.JournalFilter{Limit: 1})
		if err == nil && len(entries) > 0 {
			last := entries[0]
			summary := fmt.Sprintf("%s (%d events, %d applied)",
				last.StartedAt.Local().Format(time.RFC822), last.Events, last.Applied)
			out.KeyValue("last drain", summary)
			if last.SyncError != "" {
				out.Errorf("last sync failed: %s", last.SyncError)
			}
		} else {
			out.KeyValue("last drain", "(never)")
		}
	},
}

// countNodes tallies bookmarks and folders below the containers.
// Containers themselves and separators are not counted.
func countNodes(t *tree.Tree) (bookmarks, folders int) {
	var walk func(b *tree.Bookmark)
	walk = func(b *tree.Bookmark) {
		for _, child := range b.Children {
			switch {
			case child.URL != "":
				bookmarks++
			case child.IsFolder():
				folders++
			}
			walk(child)
		}
	}
	for _, name := range tree.ContainerNames {
		if c := t.Container(name); c != nil {
			walk(c)
		}
	}
	return bookmarks, folders
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
