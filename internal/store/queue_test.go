package store

import (
	"context"
	"testing"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

func TestInsertEntry_AssignsSeq(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()
	now := time.Now()

	first := newEntry("e-1", "t-1", now)
	second := newEntry("e-2", "t-1", now)
	if err := q.InsertEntry(ctx, first); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}
	if err := q.InsertEntry(ctx, second); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}

	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Errorf("seq not increasing: %d, %d", first.Seq, second.Seq)
	}
}

func TestInsertEntry_RejectsMismatchedPayload(t *testing.T) {
	db := openTestDB(t)

	entry := newEntry("e-1", "t-1", time.Now())
	entry.Operation = schema.OpUpdate // payload is still DeletePayload

	if err := db.Queries().InsertEntry(context.Background(), entry); err == nil {
		t.Fatal("InsertEntry() succeeded with mismatched payload")
	}
}

func TestListEntries_Order(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()
	base := time.Now()

	// Inserted out of timestamp order; e-b and e-c tie on created_at.
	inserts := []*schema.MutationEntry{
		newEntry("e-c", "t-1", base.Add(time.Second)),
		newEntry("e-a", "t-2", base),
		newEntry("e-d", "t-1", base.Add(time.Second)),
	}
	for _, e := range inserts {
		if err := q.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry(%s) failed: %v", e.ID, err)
		}
	}

	entries, err := q.ListEntries(ctx, QueueFilter{})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}

	want := []string{"e-a", "e-c", "e-d"}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, id := range want {
		if entries[i].ID != id {
			t.Errorf("entries[%d] = %s, want %s", i, entries[i].ID, id)
		}
	}
}

func TestListEntries_SkipErroredTasks(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()
	now := time.Now()

	bad := newTask("bad", now)
	bad.SyncStatus = schema.SyncError
	good := newTask("good", now)
	for _, task := range []*schema.Task{bad, good} {
		if err := q.InsertTask(ctx, task); err != nil {
			t.Fatalf("InsertTask() failed: %v", err)
		}
	}
	for _, e := range []*schema.MutationEntry{newEntry("e-1", "bad", now), newEntry("e-2", "good", now)} {
		if err := q.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry() failed: %v", err)
		}
	}

	entries, err := q.ListEntries(ctx, QueueFilter{SkipErroredTasks: true})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].TaskID != "good" {
		t.Errorf("entries = %v, want only the good task", entries)
	}

	all, err := q.ListEntries(ctx, QueueFilter{})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("unfiltered entries = %d, want 2", len(all))
	}
}

func TestDeleteEntriesThrough(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()
	base := time.Now()

	e1 := newEntry("e-1", "t-1", base)
	e2 := newEntry("e-2", "t-1", base)
	e3 := newEntry("e-3", "t-1", base.Add(time.Second))
	other := newEntry("e-4", "t-2", base)
	for _, e := range []*schema.MutationEntry{e1, e2, e3, other} {
		if err := q.InsertEntry(ctx, e); err != nil {
			t.Fatalf("InsertEntry() failed: %v", err)
		}
	}

	n, err := q.DeleteEntriesThrough(ctx, "t-1", e2.CreatedAt, e2.Seq)
	if err != nil {
		t.Fatalf("DeleteEntriesThrough() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("deleted %d entries, want 2", n)
	}

	after, err := q.HasEntriesAfter(ctx, "t-1", e2.CreatedAt, e2.Seq)
	if err != nil {
		t.Fatalf("HasEntriesAfter() failed: %v", err)
	}
	if !after {
		t.Error("HasEntriesAfter() = false, want true for e-3")
	}

	remaining, err := q.ListEntries(ctx, QueueFilter{})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(remaining) != 2 || remaining[0].ID != "e-4" || remaining[1].ID != "e-3" {
		t.Errorf("remaining = %v", remaining)
	}
}

func TestRecordEntryFailureAndRejection(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	q := db.Queries()

	if err := q.InsertEntry(ctx, newEntry("e-1", "t-1", time.Now())); err != nil {
		t.Fatalf("InsertEntry() failed: %v", err)
	}

	if err := q.RecordEntryFailure(ctx, "e-1", 2, "connection refused"); err != nil {
		t.Fatalf("RecordEntryFailure() failed: %v", err)
	}
	if err := q.RecordEntryRejection(ctx, "e-1", "invalid title"); err != nil {
		t.Fatalf("RecordEntryRejection() failed: %v", err)
	}

	entries, err := q.ListEntries(ctx, QueueFilter{TaskID: "t-1"})
	if err != nil {
		t.Fatalf("ListEntries() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", entries[0].RetryCount)
	}
	if entries[0].ErrorMessage == nil || *entries[0].ErrorMessage != "invalid title" {
		t.Errorf("ErrorMessage = %v, want invalid title", entries[0].ErrorMessage)
	}
}
