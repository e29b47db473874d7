package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/config"
	"github.com/samridh-111/backend-interview-challenge/internal/daemon"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/server"
	"github.com/samridh-111/backend-interview-challenge/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Serve the task API and sync in the background",
	Long: `Start the HTTP API and the background sync daemon.

Routes:
  /api/tasks          Task CRUD (GET, POST; GET/PUT/DELETE /api/tasks/{id})
  /api/sync           Run a sync now
  /api/status         Queue backlog and authority reachability
  /api/batch          Apply a batch as the authority (--accept-batches)
  /ws                 Live task and sync events

The daemon syncs on the configured schedule and shortly after every local
change. Edits to the config file adjust the batch size, retry limit and
schedule without a restart.

Example usage:
  taskd serve                                    # API on :3000
  taskd serve --port 8080 --authority http://authority:3000/api
  taskd serve --accept-batches --authority ""    # act as the authority`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd)
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		engine, client, err := e.engine()
		if err != nil {
			return err
		}

		deps := server.Deps{Tasks: e.tasks}
		if engine != nil {
			deps.Engine = engine
			deps.Authority = client
		}
		if e.cfg.Server.AcceptBatches {
			deps.Applier = authority.NewApplier(e.db, e.logs.Logger("authority"))
		}

		var d *daemon.Daemon
		var srv *server.Server
		if engine != nil {
			dcfg := daemon.DefaultConfig()
			dcfg.Schedule = e.cfg.Sync.Schedule
			dcfg.Logger = e.logs.Logger("daemon")
			dcfg.OnResult = func(res *reconcile.Result) {
				if srv != nil {
					srv.BroadcastSync(res)
				}
			}
			d, err = daemon.NewWithConfig(engine, dcfg)
			if err != nil {
				return err
			}
			deps.OnMutation = d.Trigger
		}

		srv, err = server.New(&server.Config{
			Host:   e.cfg.Server.Host,
			Port:   e.cfg.Server.Port,
			Logger: e.logs.Logger("server"),
		}, deps)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Serving on http://%s/api\n", ui.RenderPass("✓"), srv.GetAddr())
		fmt.Fprintf(out, "   Database: %s\n", e.db.Path())
		if engine != nil {
			fmt.Fprintf(out, "   Authority: %s (schedule %s)\n", client.BaseURL(), d.Schedule())
		} else {
			fmt.Fprintf(out, "   %s\n", ui.RenderWarn("Sync disabled (no authority URL)"))
		}
		if deps.Applier != nil {
			fmt.Fprintf(out, "   Accepting batches at /api/batch\n")
		}
		if e.loader.Watch(reloader(engine, d, e.logs.Logger("config"))) {
			fmt.Fprintf(out, "   Watching %s\n", e.loader.ConfigFile())
		}
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		if d != nil {
			err = d.Start(ctx)
		} else {
			<-ctx.Done()
		}

		fmt.Fprintln(out, "\nShutting down...")
		return err
	},
}

type printfLogger interface {
	Printf(format string, v ...any)
}

// reloader applies config file edits to a running engine and daemon.
func reloader(engine *reconcile.Engine, d *daemon.Daemon, logger printfLogger) func(*config.Config) {
	return func(cfg *config.Config) {
		if engine == nil {
			return
		}
		engine.SetLimits(limitsOf(cfg))
		if d != nil && cfg.Sync.Schedule != d.Schedule() {
			if err := d.Reschedule(cfg.Sync.Schedule); err != nil {
				logger.Printf("Keeping schedule %s: %v", d.Schedule(), err)
			}
		}
	}
}

func init() {
	serveCmd.Flags().String("host", "", "Host to bind (default: all interfaces)")
	serveCmd.Flags().IntP("port", "p", 3000, "Port to listen on")
	serveCmd.Flags().Bool("accept-batches", false, "Serve POST /api/batch as the authority")
	serveCmd.Flags().String("authority", "", "Authority API base URL (\"\" disables sync)")
	serveCmd.Flags().Int("batch-size", reconcile.DefaultBatchSize, "Entries per submitted batch")
	serveCmd.Flags().Int("max-retries", reconcile.DefaultMaxRetries, "Failed attempts before an entry is marked error")
	serveCmd.Flags().Duration("timeout", authority.DefaultTimeout, "Per-request timeout against the authority")
	serveCmd.Flags().String("schedule", daemon.DefaultSchedule, "Sync schedule (cron spec or @every)")

	rootCmd.AddCommand(serveCmd)
}
