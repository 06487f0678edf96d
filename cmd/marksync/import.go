package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/netscape"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import a Netscape bookmark file into the canonical tree",
	Long: `Import bookmarks exported from a browser (the Netscape HTML format).

The imported entries are appended under the chosen container of the
canonical tree. They reach the browser on the next daemon resync or
"marksync sync" run.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		out := ui.Stdout()
		container, _ := cmd.Flags().GetString("container")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		f, err := os.Open(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", args[0], err)
			os.Exit(1)
		}
		defer f.Close()

		items, err := netscape.Parse(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", args[0], err)
			os.Exit(1)
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()

		ctx := context.Background()
		tr, err := db.Tree(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading canonical tree: %v\n", err)
			os.Exit(1)
		}

		tr, added, err := netscape.Graft(tr, container, items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
			os.Exit(1)
		}
		if err := db.CommitTree(ctx, tr); err != nil {
			fmt.Fprintf(os.Stderr, "Error committing tree: %v\n", err)
			os.Exit(1)
		}

		out.Successf("imported %d bookmark(s) under %q", added, container)
		out.Mutedf("run 'marksync sync' to push them to the browser")
	},
}

func init() {
	importCmd.Flags().StringP("container", "c", "other", "Container to import under (menu, mobile, other, toolbar)")
	rootCmd.AddCommand(importCmd)
}
