package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/ui"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "sync",
	Short:   "Interactively configure marksync",
	Long: `Set up marksync for this machine.

Walks through the bookmarks file location and the sync preferences,
writes the config file into the data directory and stores the
preferences in the database.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := ui.Stdout()

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		bookmarksPath := cfg.BookmarksPath
		syncCommand := cfg.Sync.Command
		settings := store.DefaultSettings

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Bookmarks file").
					Description("Path to the browser's Bookmarks JSON file").
					Value(&bookmarksPath).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("path must not be empty")
						}
						return nil
					}),
				huh.NewInput().
					Title("Sync command").
					Description("External sync engine executable (empty for local-only)").
					Value(&syncCommand),
			),
			huh.NewGroup(
				huh.NewConfirm().
					Title("Enable syncing?").
					Value(&settings.SyncEnabled),
				huh.NewConfirm().
					Title("Sync the bookmarks toolbar?").
					Value(&settings.SyncToolbar),
				huh.NewConfirm().
					Title("Fetch page titles for new bookmarks?").
					Value(&settings.MetadataEnabled),
			),
		)
		if err := form.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if err := writeConfigFile(cfg, bookmarksPath, syncCommand); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
			os.Exit(1)
		}

		db, err := store.Open(cfg.DBPath())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.SetSettings(context.Background(), settings); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
			os.Exit(1)
		}

		out.Successf("config written to %s", filepath.Join(cfg.DataDir, "config.yaml"))
		out.Successf("settings saved to %s", cfg.DBPath())
		out.Mutedf("start the daemon with: marksync daemon")
	},
}

// writeConfigFile persists the file-backed half of the configuration.
// Runtime preferences live in the store instead.
func writeConfigFile(cfg *config.Config, bookmarksPath, syncCommand string) error {
	doc := map[string]interface{}{
		"bookmarks_path": bookmarksPath,
		"debounce_ms":    cfg.DebounceMs,
		"monitor": map[string]interface{}{
			"enabled": cfg.Monitor.Enabled,
			"addr":    cfg.Monitor.Addr,
		},
		"sync": map[string]interface{}{
			"command":     syncCommand,
			"args":        cfg.Sync.Args,
			"timeout_sec": cfg.Sync.TimeoutSec,
		},
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cfg.DataDir, "config.yaml"), data, 0644)
}

func init() {
	rootCmd.AddCommand(initCmd)
}
