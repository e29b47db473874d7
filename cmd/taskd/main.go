// Command taskd is an offline-first task store that reconciles its local
// changes with a remote authority.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "taskd",
	Short: "Offline-first task store with background sync",
	Long: `taskd keeps tasks in a local SQLite database and records every change in a
sync queue. Queued changes are pushed to an authority server in batches when
it is reachable.

Configuration is read from taskd.yaml or taskd.toml (working directory, then
the user config directory), TASKD_* environment variables, and flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			ui.SetColor(false)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default: search for taskd.yaml/taskd.toml)")
	rootCmd.PersistentFlags().String("db", "", "Path to the local task database")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this rotating file")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
