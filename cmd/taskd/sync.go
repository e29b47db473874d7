package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push queued changes to the authority once",
	Long: `Run one reconciliation against the authority.

The authority is probed first; when it is unreachable nothing is sent and
the command fails. Otherwise queued changes are submitted in batches and
the outcome of each batch is applied to the local store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := checkFormat(format, "text", "json", "yaml"); err != nil {
			return err
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		engine, client, err := e.engine()
		if err != nil {
			return err
		}
		if engine == nil {
			return errors.New("sync is disabled (no authority URL configured)")
		}

		start := time.Now()
		res, err := engine.Reconcile(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			err = printJSON(out, res)
		case "yaml":
			err = printYAML(out, res)
		default:
			printResult(out, res, client.BaseURL(), time.Since(start))
		}
		if err != nil {
			return err
		}

		if res.Offline {
			return fmt.Errorf("authority %s is unreachable", client.BaseURL())
		}
		if !res.Success() {
			return fmt.Errorf("%d item(s) failed to sync", res.Failed)
		}
		return nil
	},
}

func printResult(w io.Writer, res *reconcile.Result, authority string, elapsed time.Duration) {
	if res.Offline {
		fmt.Fprintf(w, "%s Authority offline (%s), nothing sent\n", ui.RenderWarn("⚠"), authority)
		return
	}

	mark := ui.RenderPass("✓")
	if !res.Success() {
		mark = ui.RenderFail("✗")
	}
	fmt.Fprintf(w, "%s Sync complete in %v\n", mark, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "   Batches: %d\n", res.Batches)
	fmt.Fprintf(w, "   Synced: %d\n", res.Synced)
	fmt.Fprintf(w, "   Failed: %d\n", res.Failed)

	for _, d := range res.Errors {
		retry := ""
		if d.Retryable {
			retry = ui.RenderMuted(" (will retry)")
		}
		fmt.Fprintf(w, "   %s %s %s: %s%s\n", ui.RenderFail("•"), d.Operation, d.TaskID, d.Message, retry)
	}
}

// statusView is the printable status report.
type statusView struct {
	IsOnline          bool       `json:"is_online" yaml:"is_online"`
	Authority         string     `json:"authority" yaml:"authority"`
	PendingSyncCount  int        `json:"pending_sync_count" yaml:"pending_sync_count"`
	ErrorCount        int        `json:"error_count" yaml:"error_count"`
	SyncQueueSize     int        `json:"sync_queue_size" yaml:"sync_queue_size"`
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp" yaml:"last_sync_timestamp"`
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the sync backlog and authority reachability",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		if err := checkFormat(format, "text", "json", "yaml"); err != nil {
			return err
		}

		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.tasks.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get sync status: %w", err)
		}
		view := statusView{
			PendingSyncCount:  report.PendingSyncCount,
			ErrorCount:        report.ErrorCount,
			SyncQueueSize:     report.SyncQueueSize,
			LastSyncTimestamp: report.LastSyncTimestamp,
		}

		client, err := e.authority()
		if err != nil {
			return err
		}
		if client != nil {
			view.Authority = client.BaseURL()
			view.IsOnline = client.Probe(cmd.Context())
		}

		out := cmd.OutOrStdout()
		switch format {
		case "json":
			return printJSON(out, view)
		case "yaml":
			return printYAML(out, view)
		}

		fmt.Fprintf(out, "\n%s\n", ui.RenderBold("Sync Status"))
		switch {
		case view.Authority == "":
			fmt.Fprintf(out, "   Authority: %s\n", ui.RenderMuted("not configured"))
		case view.IsOnline:
			fmt.Fprintf(out, "   Authority: %s %s\n", view.Authority, ui.RenderPass("online"))
		default:
			fmt.Fprintf(out, "   Authority: %s %s\n", view.Authority, ui.RenderWarn("offline"))
		}
		fmt.Fprintf(out, "   Pending tasks: %d\n", view.PendingSyncCount)
		fmt.Fprintf(out, "   Errored tasks: %d\n", view.ErrorCount)
		fmt.Fprintf(out, "   Queue size: %d\n", view.SyncQueueSize)
		if view.LastSyncTimestamp != nil {
			fmt.Fprintf(out, "   Last sync: %s\n", view.LastSyncTimestamp.Local().Format(time.RFC3339))
		} else {
			fmt.Fprintf(out, "   Last sync: %s\n", ui.RenderMuted("never"))
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	syncCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	syncCmd.Flags().String("authority", "", "Authority API base URL")
	syncCmd.Flags().Int("batch-size", reconcile.DefaultBatchSize, "Entries per submitted batch")
	syncCmd.Flags().Int("max-retries", reconcile.DefaultMaxRetries, "Failed attempts before an entry is marked error")
	syncCmd.Flags().Duration("timeout", 5*time.Second, "Per-request timeout against the authority")

	statusCmd.Flags().StringP("output", "o", "text", "Output format: text, json or yaml")
	statusCmd.Flags().String("authority", "", "Authority API base URL")

	rootCmd.AddCommand(syncCmd, statusCmd)
}
