package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "test.db")
}

// openTestDB opens a database with the schema initialized.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func newTask(id string, at time.Time) *schema.Task {
	return &schema.Task{
		ID:         id,
		Title:      "Task " + id,
		SyncStatus: schema.SyncPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func newEntry(id, taskID string, at time.Time) *schema.MutationEntry {
	return &schema.MutationEntry{
		ID:        id,
		TaskID:    taskID,
		Operation: schema.OpDelete,
		Payload:   schema.DeletePayload{},
		CreatedAt: at,
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("Open(\"\") succeeded, want error")
	}
}

// TestInitSchema_Success tests schema creation
func TestInitSchema_Success(t *testing.T) {
	db := openTestDB(t)

	for _, table := range []string{"tasks", "mutation_queue"} {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

// TestInitSchema_Idempotent tests that schema initialization is idempotent
func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()

	now := time.Now()
	task := newTask("t-1", now)
	task.Description = "desc"

	if err := q.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask() failed: %v", err)
	}

	got, err := q.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.Title != task.Title || got.Description != "desc" {
		t.Errorf("got %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
	if got.LastSyncedAt != nil || got.ServerID != nil {
		t.Errorf("server fields should be nil before sync: %+v", got)
	}

	got.IsDeleted = true
	got.Completed = true
	if err := q.UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask() failed: %v", err)
	}

	again, err := q.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if !again.IsDeleted || !again.Completed {
		t.Errorf("update not persisted: %+v", again)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Queries().GetTask(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTask() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	db := openTestDB(t)

	err := db.Queries().UpdateTask(context.Background(), newTask("ghost", time.Now()))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateTask() error = %v, want ErrNotFound", err)
	}
}

func TestListTasks_Filter(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()
	now := time.Now()

	live := newTask("live", now)
	gone := newTask("gone", now.Add(time.Second))
	gone.IsDeleted = true
	failed := newTask("failed", now.Add(2*time.Second))
	failed.SyncStatus = schema.SyncError
	synced := newTask("synced", now.Add(3*time.Second))
	synced.SyncStatus = schema.SyncSynced

	for _, task := range []*schema.Task{live, gone, failed, synced} {
		if err := q.InsertTask(ctx, task); err != nil {
			t.Fatalf("InsertTask(%s) failed: %v", task.ID, err)
		}
	}

	visible, err := q.ListTasks(ctx, TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(visible) != 3 {
		t.Errorf("visible tasks = %d, want 3", len(visible))
	}

	needing, err := q.ListTasks(ctx, TaskFilter{
		IncludeDeleted: true,
		Statuses:       []schema.SyncStatus{schema.SyncPending, schema.SyncError},
	})
	if err != nil {
		t.Fatalf("ListTasks() failed: %v", err)
	}
	if len(needing) != 3 {
		t.Fatalf("needing sync = %d, want 3", len(needing))
	}
	if needing[0].ID != "live" || needing[1].ID != "gone" || needing[2].ID != "failed" {
		t.Errorf("unexpected order: %s, %s, %s", needing[0].ID, needing[1].ID, needing[2].ID)
	}
}

func TestMarkTaskSynced_KeepsServerIDWhenNil(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()

	if err := q.InsertTask(ctx, newTask("t-1", time.Now())); err != nil {
		t.Fatalf("InsertTask() failed: %v", err)
	}

	sid := "srv-9"
	at := time.Now()
	if err := q.MarkTaskSynced(ctx, "t-1", &sid, at); err != nil {
		t.Fatalf("MarkTaskSynced() failed: %v", err)
	}
	if err := q.MarkTaskSynced(ctx, "t-1", nil, at); err != nil {
		t.Fatalf("MarkTaskSynced() failed: %v", err)
	}

	got, err := q.GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if got.SyncStatus != schema.SyncSynced {
		t.Errorf("SyncStatus = %s, want synced", got.SyncStatus)
	}
	if got.ServerID == nil || *got.ServerID != "srv-9" {
		t.Errorf("ServerID = %v, want srv-9", got.ServerID)
	}
	if got.LastSyncedAt == nil || !got.LastSyncedAt.Equal(at) {
		t.Errorf("LastSyncedAt = %v, want %v", got.LastSyncedAt, at)
	}

	last, err := q.LastSyncedAt(ctx)
	if err != nil {
		t.Fatalf("LastSyncedAt() failed: %v", err)
	}
	if last == nil || !last.Equal(at) {
		t.Errorf("LastSyncedAt() = %v, want %v", last, at)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(q *Queries) error {
		if err := q.InsertTask(ctx, newTask("t-1", time.Now())); err != nil {
			return err
		}
		if err := q.InsertEntry(ctx, newEntry("e-1", "t-1", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	if _, err := db.Queries().GetTask(ctx, "t-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("task survived rollback: %v", err)
	}
	count, err := db.Queries().CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("queue entries after rollback = %d, want 0", count)
	}
}
