package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/loadtest"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "sync",
	Short:   "Load-test concurrent edits with sync running",
	Long: `Run concurrent writers against a scratch task store while reconciliation
runs against an in-process authority, then verify both stores converged.

The scratch databases live in a temporary directory and are removed
afterwards; the configured store is not touched.

Examples:
  taskd bench
  taskd bench --writers 50 --ops 200 --batch-size 10
  taskd bench --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := loadtest.DefaultOptions()
		opts.Writers, _ = cmd.Flags().GetInt("writers")
		opts.OpsPerWriter, _ = cmd.Flags().GetInt("ops")
		opts.SyncEvery, _ = cmd.Flags().GetDuration("sync-every")
		opts.Seed, _ = cmd.Flags().GetInt64("seed")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		jsonOut, _ := cmd.Flags().GetBool("json")

		if opts.Writers <= 0 || opts.OpsPerWriter <= 0 {
			return errors.New("--writers and --ops must be positive")
		}

		dir, err := os.MkdirTemp("", "taskd-bench-")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		cfg := reconcile.DefaultConfig()
		cfg.BatchSize = batchSize
		h, err := loadtest.NewHarness(dir, cfg, nil)
		if err != nil {
			return err
		}
		defer h.Close()

		out := cmd.OutOrStdout()
		if !jsonOut {
			fmt.Fprintf(out, "%s %d writers x %d ops, batch size %d...\n",
				ui.RenderAccent("→"), opts.Writers, opts.OpsPerWriter, batchSize)
		}

		report, err := h.Run(cmd.Context(), opts)
		if err != nil {
			return err
		}

		if jsonOut {
			if err := printJSON(out, report); err != nil {
				return err
			}
		} else {
			report.Print(out)
		}
		if !report.Converged {
			return fmt.Errorf("stores did not converge (%d mismatches)", len(report.Mismatches))
		}
		if !jsonOut {
			fmt.Fprintf(out, "%s Converged\n", ui.RenderPass("✓"))
		}
		return nil
	},
}

func init() {
	benchCmd.Flags().Int("writers", 10, "Number of concurrent writers")
	benchCmd.Flags().Int("ops", 50, "Mutations per writer")
	benchCmd.Flags().Duration("sync-every", 20*time.Millisecond, "Interval between sync runs during the load")
	benchCmd.Flags().Int64("seed", 42, "Seed for the mutation mix")
	benchCmd.Flags().Int("batch-size", reconcile.DefaultBatchSize, "Entries per submitted batch")
	benchCmd.Flags().Bool("json", false, "Output the report as JSON")

	rootCmd.AddCommand(benchCmd)
}
