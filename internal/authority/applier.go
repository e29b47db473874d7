package authority

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
)

const (
	msgMissingFields = "Missing required fields: client_id, operation, or data"
	msgTaskNotFound  = "Task not found"
)

// rejection is an item the authority refuses to apply. Its message is
// returned to the submitter verbatim.
type rejection struct {
	msg string
}

func (r *rejection) Error() string { return r.msg }

// Applier is the authority side of POST /batch. It applies each item to the
// local store as accepted state: rows are written synced and nothing is
// enqueued, since this node has no authority above it.
//
// Items are applied one transaction each, in request order. Replays are
// idempotent: a create for an existing id overwrites it and a delete of a
// tombstone succeeds.
type Applier struct {
	db     *store.DB
	logger *log.Logger
	now    func() time.Time
	newID  func() string
}

// NewApplier creates an applier over an initialized store.
// If logger is nil, a default logger writing to stderr is used.
func NewApplier(db *store.DB, logger *log.Logger) *Applier {
	if logger == nil {
		logger = log.New(os.Stderr, "[authority] ", log.LstdFlags)
	}
	return &Applier{
		db:     db,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Apply processes items and returns exactly one outcome per item, in the
// same order. Failures are reported in the outcome, never as an error.
func (a *Applier) Apply(ctx context.Context, items []Item) []Outcome {
	outcomes := make([]Outcome, 0, len(items))
	for _, item := range items {
		outcomes = append(outcomes, a.applyOne(ctx, item))
	}
	return outcomes
}

func (a *Applier) applyOne(ctx context.Context, item Item) Outcome {
	clientID := item.key()
	if clientID == "" || item.Operation == "" || len(item.Data) == 0 {
		id := clientID
		if id == "" {
			id = "unknown"
		}
		return rejected(id, msgMissingFields)
	}
	if !item.Operation.Valid() {
		return rejected(clientID, fmt.Sprintf("Unknown operation: %s", item.Operation))
	}

	payload, err := schema.DecodePayload(item.Operation, item.Data)
	if err != nil {
		return rejected(clientID, err.Error())
	}

	var task *schema.Task
	err = a.db.WithTx(ctx, func(q *store.Queries) error {
		var err error
		switch p := payload.(type) {
		case schema.CreatePayload:
			task, err = a.applyCreate(ctx, q, clientID, p.Task)
		case schema.UpdatePayload:
			task, err = a.applyUpdate(ctx, q, clientID, p.Patch)
		case schema.DeletePayload:
			task, err = a.applyDelete(ctx, q, clientID)
		}
		return err
	})

	var rej *rejection
	switch {
	case errors.As(err, &rej):
		return rejected(clientID, rej.msg)
	case schema.IsValidationError(err):
		return rejected(clientID, err.Error())
	case err != nil:
		a.logger.Printf("Failed to apply %s for %s: %v", item.Operation, clientID, err)
		return rejected(clientID, err.Error())
	}

	sid := serverID(task)
	out := Outcome{
		ClientID: clientID,
		ServerID: &sid,
		Status:   OutcomeSuccess,
	}
	if item.Operation != schema.OpDelete {
		out.ResolvedData = task
	}
	return out
}

func (a *Applier) applyCreate(ctx context.Context, q *store.Queries, id string, snapshot schema.Task) (*schema.Task, error) {
	if err := schema.ValidateTitle(snapshot.Title); err != nil {
		return nil, err
	}

	now := a.now()
	existing, err := q.GetTask(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.Title = snapshot.Title
		existing.Description = snapshot.Description
		existing.Completed = snapshot.Completed
		a.accept(existing, now)
		if err := q.UpdateTask(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	created := &schema.Task{
		ID:          id,
		Title:       snapshot.Title,
		Description: snapshot.Description,
		Completed:   snapshot.Completed,
		CreatedAt:   snapshot.CreatedAt,
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	sid := a.newID()
	created.ServerID = &sid
	a.accept(created, now)

	if err := q.InsertTask(ctx, created); err != nil {
		return nil, err
	}
	return created, nil
}

func (a *Applier) applyUpdate(ctx context.Context, q *store.Queries, id string, patch schema.TaskPatch) (*schema.Task, error) {
	patch, err := patch.Normalize()
	if err != nil {
		return nil, err
	}

	task, err := q.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.IsDeleted) {
		return nil, &rejection{msg: msgTaskNotFound}
	}
	if err != nil {
		return nil, err
	}

	patch.Apply(task)
	a.accept(task, a.now())
	if err := q.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (a *Applier) applyDelete(ctx context.Context, q *store.Queries, id string) (*schema.Task, error) {
	task, err := q.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &rejection{msg: msgTaskNotFound}
	}
	if err != nil {
		return nil, err
	}
	if task.IsDeleted {
		return task, nil
	}

	task.IsDeleted = true
	a.accept(task, a.now())
	if err := q.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// accept stamps a row as authoritative state.
func (a *Applier) accept(task *schema.Task, now time.Time) {
	task.SyncStatus = schema.SyncSynced
	task.UpdatedAt = now
	task.LastSyncedAt = &now
}

func serverID(task *schema.Task) string {
	if task.ServerID != nil && *task.ServerID != "" {
		return *task.ServerID
	}
	return task.ID
}

func rejected(clientID, msg string) Outcome {
	return Outcome{
		ClientID: clientID,
		Status:   OutcomeError,
		Error:    msg,
	}
}
