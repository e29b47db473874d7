package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/reconcile"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/server"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
	"github.com/samridh-111/backend-interview-challenge/internal/tasks"
)

// resetFlags restores every flag to its default between runs of rootCmd.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--no-color"))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("taskd %s failed: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

// startAuthority serves /api/batch and /api/health from a separate store.
func startAuthority(t *testing.T) (*store.DB, string) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "authority.db"))
	if err != nil {
		t.Fatalf("failed to open authority database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	quiet := log.New(io.Discard, "", 0)
	srv, err := server.New(&server.Config{Logger: quiet}, server.Deps{
		Tasks:   tasks.NewRepository(db),
		Applier: authority.NewApplier(db, quiet),
	})
	if err != nil {
		t.Fatalf("server.New() failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	return db, ts.URL + "/api"
}

func TestTasksLifecycle(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "local.db")

	out := mustRun(t, "tasks", "add", "Write docs", "-d", "for v1", "--json", "--db", db)
	var created schema.Task
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("failed to decode created task: %v\n%s", err, out)
	}
	if created.Title != "Write docs" || created.SyncStatus != schema.SyncPending {
		t.Errorf("created = %+v", created)
	}

	out = mustRun(t, "tasks", "list", "--db", db)
	if !strings.Contains(out, "Write docs") || !strings.Contains(out, "pending") {
		t.Errorf("list output:\n%s", out)
	}

	mustRun(t, "tasks", "update", created.ID, "--completed", "--db", db)
	out = mustRun(t, "tasks", "get", created.ID, "--json", "--db", db)
	var got schema.Task
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("failed to decode task: %v", err)
	}
	if !got.Completed || got.Description != "for v1" {
		t.Errorf("after update = %+v", got)
	}

	if _, err := run(t, "tasks", "update", created.ID, "--db", db); err == nil {
		t.Error("update with no fields succeeded")
	}
	if _, err := run(t, "tasks", "requeue", created.ID, "--db", db); err == nil {
		t.Error("requeue of a pending task succeeded")
	}

	mustRun(t, "tasks", "delete", created.ID, "--db", db)
	if _, err := run(t, "tasks", "get", created.ID, "--db", db); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("get after delete = %v, want not found", err)
	}
	if out := mustRun(t, "tasks", "list", "--json", "--db", db); strings.TrimSpace(out) != "[]" {
		t.Errorf("list after delete = %s", out)
	}
}

func TestSyncAgainstAuthority(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "local.db")
	remote, url := startAuthority(t)

	out := mustRun(t, "tasks", "add", "Ship it", "--json", "--db", db)
	var created schema.Task
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("failed to decode created task: %v", err)
	}
	mustRun(t, "tasks", "update", created.ID, "--title", "Ship it today", "--db", db)

	out = mustRun(t, "sync", "-o", "json", "--authority", url, "--db", db)
	var res reconcile.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("failed to decode result: %v\n%s", err, out)
	}
	if res.Offline || res.Failed != 0 || res.Synced == 0 {
		t.Errorf("result = %+v", res)
	}

	mirrored, err := tasks.NewRepository(remote).Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("authority Get() failed: %v", err)
	}
	if mirrored.Title != "Ship it today" {
		t.Errorf("authority title = %q", mirrored.Title)
	}

	out = mustRun(t, "status", "-o", "json", "--authority", url, "--db", db)
	var status statusView
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if !status.IsOnline || status.SyncQueueSize != 0 || status.PendingSyncCount != 0 || status.LastSyncTimestamp == nil {
		t.Errorf("status = %+v", status)
	}
}

func TestSync_Offline(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "local.db")

	// a closed server leaves an address nothing listens on
	ts := httptest.NewServer(nil)
	url := ts.URL + "/api"
	ts.Close()

	mustRun(t, "tasks", "add", "Queued", "--db", db)
	out, err := run(t, "sync", "--authority", url, "--timeout", "500ms", "--db", db)
	if err == nil || !strings.Contains(err.Error(), "unreachable") {
		t.Errorf("sync error = %v, want unreachable", err)
	}
	if !strings.Contains(out, "offline") {
		t.Errorf("sync output:\n%s", out)
	}

	out = mustRun(t, "status", "-o", "yaml", "--authority", url, "--db", db)
	if !strings.Contains(out, "is_online: false") || !strings.Contains(out, "sync_queue_size: 1") {
		t.Errorf("status output:\n%s", out)
	}
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	t.Setenv("TASKD_SYNC_BATCH_SIZE", "7")

	out := mustRun(t, "config", "show", "--format", "yaml", "--db", "/tmp/flag.db")
	for _, want := range []string{"batch_size: 7", "path: /tmp/flag.db", "max_retries: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}

	if _, err := run(t, "config", "show", "--format", "ini"); err == nil {
		t.Error("config show --format ini succeeded")
	}
}
