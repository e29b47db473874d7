package authority

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
)

func setupApplier(t *testing.T) (*Applier, *store.DB) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "authority.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return NewApplier(db, log.New(io.Discard, "", 0)), db
}

func item(clientID string, op schema.Operation, data string) Item {
	return Item{ID: "e-" + clientID, ClientID: clientID, Operation: op, Data: json.RawMessage(data)}
}

func TestApply_CreateUpdateDelete(t *testing.T) {
	a, db := setupApplier(t)
	ctx := context.Background()

	outcomes := a.Apply(ctx, []Item{
		item("t-1", schema.OpCreate, `{"id":"t-1","title":"Buy milk","description":"2L"}`),
		item("t-1", schema.OpUpdate, `{"completed":true}`),
	})
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}
	for i, o := range outcomes {
		if o.Status != OutcomeSuccess {
			t.Fatalf("outcome[%d] = %+v, want success", i, o)
		}
	}
	sid := outcomes[0].ServerID
	if sid == nil || *sid == "" || *sid == "t-1" {
		t.Fatalf("create server id = %v, want a fresh id", sid)
	}
	if outcomes[1].ServerID == nil || *outcomes[1].ServerID != *sid {
		t.Errorf("update server id = %v, want %s", outcomes[1].ServerID, *sid)
	}
	if outcomes[1].ResolvedData == nil || !outcomes[1].ResolvedData.Completed {
		t.Errorf("resolved data = %+v", outcomes[1].ResolvedData)
	}

	task, err := db.Queries().GetTask(ctx, "t-1")
	if err != nil {
		t.Fatalf("GetTask() failed: %v", err)
	}
	if task.SyncStatus != schema.SyncSynced || !task.Completed || task.Description != "2L" {
		t.Errorf("stored task = %+v", task)
	}

	del := a.Apply(ctx, []Item{item("t-1", schema.OpDelete, `{}`)})
	if del[0].Status != OutcomeSuccess || del[0].ResolvedData != nil {
		t.Errorf("delete outcome = %+v", del[0])
	}
	// Replayed delete of a tombstone is accepted.
	if again := a.Apply(ctx, []Item{item("t-1", schema.OpDelete, `{}`)}); again[0].Status != OutcomeSuccess {
		t.Errorf("replayed delete outcome = %+v", again[0])
	}

	count, err := db.Queries().CountEntries(ctx)
	if err != nil {
		t.Fatalf("CountEntries() failed: %v", err)
	}
	if count != 0 {
		t.Errorf("authority enqueued %d entries, want 0", count)
	}
}

func TestApply_ReplayedCreateKeepsServerID(t *testing.T) {
	a, _ := setupApplier(t)
	ctx := context.Background()

	first := a.Apply(ctx, []Item{item("t-1", schema.OpCreate, `{"title":"one"}`)})
	second := a.Apply(ctx, []Item{item("t-1", schema.OpCreate, `{"title":"one again"}`)})

	if first[0].Status != OutcomeSuccess || second[0].Status != OutcomeSuccess {
		t.Fatalf("outcomes = %+v, %+v", first[0], second[0])
	}
	if *first[0].ServerID != *second[0].ServerID {
		t.Errorf("server id changed on replay: %s -> %s", *first[0].ServerID, *second[0].ServerID)
	}
	if second[0].ResolvedData.Title != "one again" {
		t.Errorf("title = %q, want replayed snapshot", second[0].ResolvedData.Title)
	}
}

func TestApply_Rejections(t *testing.T) {
	a, _ := setupApplier(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		item     Item
		clientID string
		wantErr  string
	}{
		{
			name:     "missing client id",
			item:     Item{Operation: schema.OpCreate, Data: json.RawMessage(`{"title":"x"}`)},
			clientID: "unknown",
			wantErr:  msgMissingFields,
		},
		{
			name:     "missing data",
			item:     Item{ClientID: "t-1", Operation: schema.OpCreate},
			clientID: "t-1",
			wantErr:  msgMissingFields,
		},
		{
			name:     "unknown operation",
			item:     item("t-1", "merge", `{}`),
			clientID: "t-1",
			wantErr:  "Unknown operation: merge",
		},
		{
			name:     "update of missing task",
			item:     item("ghost", schema.OpUpdate, `{"title":"x"}`),
			clientID: "ghost",
			wantErr:  msgTaskNotFound,
		},
		{
			name:     "delete of missing task",
			item:     item("ghost", schema.OpDelete, `{}`),
			clientID: "ghost",
			wantErr:  msgTaskNotFound,
		},
		{
			name:     "blank title",
			item:     item("t-2", schema.OpCreate, `{"title":"   "}`),
			clientID: "t-2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Apply(ctx, []Item{tt.item})
			if len(out) != 1 {
				t.Fatalf("outcomes = %d, want 1", len(out))
			}
			o := out[0]
			if o.Status != OutcomeError || o.ServerID != nil {
				t.Errorf("outcome = %+v, want error", o)
			}
			if o.ClientID != tt.clientID {
				t.Errorf("client_id = %q, want %q", o.ClientID, tt.clientID)
			}
			if tt.wantErr != "" && o.Error != tt.wantErr {
				t.Errorf("error = %q, want %q", o.Error, tt.wantErr)
			}
			if o.Error == "" {
				t.Error("error message is empty")
			}
		})
	}
}
