package schema

import (
	"testing"
	"time"
)

func TestEncodeDecodePayload(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	title := "Renamed"
	done := true

	tests := []struct {
		name    string
		payload Payload
		check   func(t *testing.T, got Payload)
	}{
		{
			name: "create carries the full task",
			payload: CreatePayload{Task: Task{
				ID: "t-1", Title: "Plan", SyncStatus: SyncPending, CreatedAt: now, UpdatedAt: now,
			}},
			check: func(t *testing.T, got Payload) {
				cp, ok := got.(CreatePayload)
				if !ok {
					t.Fatalf("got %T, want CreatePayload", got)
				}
				if cp.Task.ID != "t-1" || cp.Task.Title != "Plan" {
					t.Errorf("task = %+v", cp.Task)
				}
			},
		},
		{
			name:    "update carries changed fields only",
			payload: UpdatePayload{Patch: TaskPatch{Title: &title, Completed: &done}},
			check: func(t *testing.T, got Payload) {
				up, ok := got.(UpdatePayload)
				if !ok {
					t.Fatalf("got %T, want UpdatePayload", got)
				}
				if up.Patch.Title == nil || *up.Patch.Title != "Renamed" {
					t.Errorf("title = %v", up.Patch.Title)
				}
				if up.Patch.Description != nil {
					t.Errorf("description = %v, want nil", *up.Patch.Description)
				}
			},
		},
		{
			name:    "delete carries nothing",
			payload: DeletePayload{},
			check: func(t *testing.T, got Payload) {
				if _, ok := got.(DeletePayload); !ok {
					t.Fatalf("got %T, want DeletePayload", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodePayload(tt.payload)
			if err != nil {
				t.Fatalf("EncodePayload() failed: %v", err)
			}
			got, err := DecodePayload(tt.payload.Operation(), data)
			if err != nil {
				t.Fatalf("DecodePayload() failed: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestEncodePayload_UpdateJSONShape(t *testing.T) {
	done := false
	data, err := EncodePayload(UpdatePayload{Patch: TaskPatch{Completed: &done}})
	if err != nil {
		t.Fatalf("EncodePayload() failed: %v", err)
	}
	if string(data) != `{"completed":false}` {
		t.Errorf("payload = %s, want only the completed field", data)
	}
}

func TestDecodePayload_Rejects(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
		data string
	}{
		{"update with no fields", OpUpdate, `{}`},
		{"update not an object", OpUpdate, `[1,2]`},
		{"delete with body", OpDelete, `{"title":"x"}`},
		{"create not json", OpCreate, `nope`},
		{"unknown operation", Operation("upsert"), `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodePayload(tt.op, []byte(tt.data)); err == nil {
				t.Errorf("DecodePayload(%s, %s) succeeded, want error", tt.op, tt.data)
			}
		})
	}
}

func TestEncodePayload_Empty(t *testing.T) {
	if _, err := EncodePayload(UpdatePayload{}); err == nil {
		t.Error("EncodePayload() of empty update succeeded, want error")
	}
	if _, err := EncodePayload(nil); err == nil {
		t.Error("EncodePayload(nil) succeeded, want error")
	}
}

func TestMutationEntry_Before(t *testing.T) {
	t0 := time.Now()
	a := &MutationEntry{CreatedAt: t0, Seq: 1}
	b := &MutationEntry{CreatedAt: t0, Seq: 2}
	c := &MutationEntry{CreatedAt: t0.Add(-time.Second), Seq: 3}

	if !a.Before(b) {
		t.Error("equal timestamps should order by Seq")
	}
	if !c.Before(a) {
		t.Error("earlier timestamp should sort first regardless of Seq")
	}
	if a.Before(a) {
		t.Error("entry sorts before itself")
	}
}
