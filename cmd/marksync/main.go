// marksync keeps a browser's native bookmark tree and a canonical synced
// tree consistent. The daemon watches the browser's bookmark file,
// reconciles changes into a local SQLite database and hands the canonical
// tree to an external sync engine.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "marksync",
	Short: "Bookmark reconciliation between a browser and a synced store",
	Long: `marksync mirrors bookmark changes between the browser's native tree
and a canonical synced tree.

The daemon watches the browser profile, debounces native events, applies
them to the canonical tree and triggers the configured sync engine. The
remaining commands inspect and manage the canonical state.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
