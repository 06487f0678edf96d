package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/marksync/marksync/internal/config"
	"github.com/marksync/marksync/internal/store"
	"github.com/marksync/marksync/internal/tree"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export the canonical tree as YAML or JSON",
	Long: `Write the canonical bookmark tree to stdout or a file.

The export reflects the synced state, not the browser's current file;
run "marksync sync" first if the two may have drifted.`,
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

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

		tr, err := db.Tree(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading canonical tree: %v\n", err)
			os.Exit(1)
		}

		var w io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", output, err)
				os.Exit(1)
			}
			defer f.Close()
			w = f
		}

		if err := writeTree(w, tr, format); err != nil {
			fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
			os.Exit(1)
		}
	},
}

func writeTree(w io.Writer, tr *tree.Tree, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tr); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tr)
	default:
		return fmt.Errorf("unknown format %q (yaml or json)", format)
	}
}

func init() {
	exportCmd.Flags().StringP("format", "f", "yaml", "Output format: yaml or json")
	exportCmd.Flags().StringP("output", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
