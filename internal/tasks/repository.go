// Package tasks implements the task repository: CRUD over the tasks table
// where every mutation also appends a record to the mutation queue inside
// the same transaction.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
)

// ErrNotFound is returned when a task does not exist or is soft-deleted.
var ErrNotFound = errors.New("task not found")

// Repository provides task CRUD with mutation capture.
//
// Each mutating call writes exactly one task row change and at most one
// queue entry, in a single store transaction.
type Repository struct {
	db    *store.DB
	now   func() time.Time
	newID func() string
}

// NewRepository creates a repository over an initialized store.
func NewRepository(db *store.DB) *Repository {
	return &Repository{
		db:    db,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Create inserts a new task and its create entry.
// Returns a *schema.ValidationError if the title is empty after trimming.
func (r *Repository) Create(ctx context.Context, title, description string) (*schema.Task, error) {
	if err := schema.ValidateTitle(title); err != nil {
		return nil, err
	}

	now := r.now()
	task := &schema.Task{
		ID:          r.newID(),
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		SyncStatus:  schema.SyncPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := r.db.WithTx(ctx, func(q *store.Queries) error {
		if err := q.InsertTask(ctx, task); err != nil {
			return err
		}
		return q.InsertEntry(ctx, r.entry(task.ID, schema.CreatePayload{Task: *task}, now))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	return task, nil
}

// Get returns a visible task. Soft-deleted tasks are reported as ErrNotFound.
func (r *Repository) Get(ctx context.Context, id string) (*schema.Task, error) {
	task, err := r.db.Queries().GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if task.IsDeleted {
		return nil, ErrNotFound
	}
	return task, nil
}

// GetRaw returns the stored row including tombstones.
func (r *Repository) GetRaw(ctx context.Context, id string) (*schema.Task, error) {
	task, err := r.db.Queries().GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return task, err
}

// List returns all non-deleted tasks.
func (r *Repository) List(ctx context.Context) ([]*schema.Task, error) {
	return r.db.Queries().ListTasks(ctx, store.TaskFilter{})
}

// ListNeedingSync returns tasks (tombstones included) whose state is pending
// or error. It is for status reporting only; the queue drives reconciliation.
func (r *Repository) ListNeedingSync(ctx context.Context) ([]*schema.Task, error) {
	return r.db.Queries().ListTasks(ctx, store.TaskFilter{
		IncludeDeleted: true,
		Statuses:       []schema.SyncStatus{schema.SyncPending, schema.SyncError},
	})
}

// Update applies the provided fields and appends an update entry whose
// payload is exactly those fields.
func (r *Repository) Update(ctx context.Context, id string, patch schema.TaskPatch) (*schema.Task, error) {
	if patch.Empty() {
		return nil, &schema.ValidationError{Field: "update", Message: "must change at least one of title, description, completed"}
	}
	patch, err := patch.Normalize()
	if err != nil {
		return nil, err
	}

	var updated *schema.Task
	err = r.db.WithTx(ctx, func(q *store.Queries) error {
		task, err := r.visible(ctx, q, id)
		if err != nil {
			return err
		}

		now := r.now()
		patch.Apply(task)
		task.SyncStatus = schema.SyncPending
		task.UpdatedAt = now

		if err := q.UpdateTask(ctx, task); err != nil {
			return err
		}
		if err := q.InsertEntry(ctx, r.entry(id, schema.UpdatePayload{Patch: patch}, now)); err != nil {
			return err
		}
		updated = task
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", id, err)
	}

	return updated, nil
}

// Delete soft-deletes a task and appends a delete entry. It returns false,
// with no queue entry, if the task is absent or already deleted.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	err := r.db.WithTx(ctx, func(q *store.Queries) error {
		task, err := r.visible(ctx, q, id)
		if err != nil {
			return err
		}

		now := r.now()
		task.IsDeleted = true
		task.SyncStatus = schema.SyncPending
		task.UpdatedAt = now

		if err := q.UpdateTask(ctx, task); err != nil {
			return err
		}
		return q.InsertEntry(ctx, r.entry(id, schema.DeletePayload{}, now))
	})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return true, nil
}

// Requeue moves a task out of the terminal error state so its queued
// entries are submitted again by the next reconciliation. Retry counts are
// kept. It returns false if the task is not in the error state.
func (r *Repository) Requeue(ctx context.Context, id string) (bool, error) {
	requeued := false
	err := r.db.WithTx(ctx, func(q *store.Queries) error {
		task, err := q.GetTask(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if task.SyncStatus != schema.SyncError {
			return nil
		}
		if err := q.SetTaskSyncStatus(ctx, id, schema.SyncPending); err != nil {
			return err
		}
		requeued = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to requeue task %s: %w", id, err)
	}
	return requeued, nil
}

// StatusReport summarizes the local synchronization backlog.
type StatusReport struct {
	PendingSyncCount  int        `json:"pending_sync_count" yaml:"pending_sync_count"`
	ErrorCount        int        `json:"error_count" yaml:"error_count"`
	SyncQueueSize     int        `json:"sync_queue_size" yaml:"sync_queue_size"`
	LastSyncTimestamp *time.Time `json:"last_sync_timestamp" yaml:"last_sync_timestamp"`
}

// Status reports the queue backlog and per-status task counts.
func (r *Repository) Status(ctx context.Context) (*StatusReport, error) {
	q := r.db.Queries()

	needing, err := q.CountTasksByStatus(ctx, schema.SyncPending, schema.SyncError)
	if err != nil {
		return nil, err
	}
	errored, err := q.CountTasksByStatus(ctx, schema.SyncError)
	if err != nil {
		return nil, err
	}
	queueSize, err := q.CountEntries(ctx)
	if err != nil {
		return nil, err
	}
	last, err := q.LastSyncedAt(ctx)
	if err != nil {
		return nil, err
	}

	return &StatusReport{
		PendingSyncCount:  needing,
		ErrorCount:        errored,
		SyncQueueSize:     queueSize,
		LastSyncTimestamp: last,
	}, nil
}

// visible loads a task for mutation, treating tombstones as missing.
func (r *Repository) visible(ctx context.Context, q *store.Queries, id string) (*schema.Task, error) {
	task, err := q.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if task.IsDeleted {
		return nil, ErrNotFound
	}
	return task, nil
}

func (r *Repository) entry(taskID string, payload schema.Payload, at time.Time) *schema.MutationEntry {
	return &schema.MutationEntry{
		ID:        r.newID(),
		TaskID:    taskID,
		Operation: payload.Operation(),
		Payload:   payload,
		CreatedAt: at,
	}
}
