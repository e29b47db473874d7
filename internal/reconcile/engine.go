// Package reconcile replays the mutation queue to the remote authority.
//
// A run probes the authority, loads the queue in (created_at, seq) order,
// and submits it in fixed-size batches, one at a time. Each batch's answer
// is folded by a pure reducer into commands that are applied in a single
// store transaction before the next batch is sent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/authority"
	"github.com/samridh-111/backend-interview-challenge/internal/schema"
	"github.com/samridh-111/backend-interview-challenge/internal/store"
)

const (
	DefaultBatchSize  = 50
	DefaultMaxRetries = 3
)

// ErrInProgress is returned when a run is requested while another is active.
var ErrInProgress = errors.New("reconciliation already in progress")

// Authority is the remote side of reconciliation.
// *authority.Client satisfies it.
type Authority interface {
	Probe(ctx context.Context) bool
	SubmitBatch(ctx context.Context, entries []*schema.MutationEntry) ([]authority.Outcome, error)
}

// Config holds the engine limits.
type Config struct {
	// BatchSize is the maximum number of entries per request
	BatchSize int
	// MaxRetries is the transport-failure count at which a task becomes error
	MaxRetries int
}

// DefaultConfig returns the default engine limits.
func DefaultConfig() Config {
	return Config{
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
	}
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// ErrorDescriptor describes one failed item of a run.
type ErrorDescriptor struct {
	TaskID    string           `json:"task_id" yaml:"task_id"`
	EntryID   string           `json:"entry_id,omitempty" yaml:"entry_id,omitempty"`
	Operation schema.Operation `json:"operation" yaml:"operation"`
	Message   string           `json:"error" yaml:"error"`
	Retryable bool             `json:"retryable" yaml:"retryable"`
	Timestamp time.Time        `json:"timestamp" yaml:"timestamp"`
}

// Result aggregates one reconciliation run.
type Result struct {
	// Offline is set when the probe failed; nothing else was attempted
	Offline bool              `json:"offline" yaml:"offline"`
	Synced  int               `json:"synced_items" yaml:"synced_items"`
	Failed  int               `json:"failed_items" yaml:"failed_items"`
	Errors  []ErrorDescriptor `json:"errors" yaml:"errors"`
	Batches int               `json:"batches" yaml:"batches"`
}

// Success reports whether the run reached the authority and nothing failed.
func (r *Result) Success() bool {
	return !r.Offline && r.Failed == 0
}

// Engine runs reconciliation against one store and one authority.
// Only one run is active at a time.
type Engine struct {
	db     *store.DB
	auth   Authority
	logger *log.Logger
	now    func() time.Time

	run sync.Mutex

	mu  sync.RWMutex
	cfg Config
}

// New creates an engine. If logger is nil, a default logger writing to
// stderr is used.
func New(db *store.DB, auth Authority, cfg Config, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Engine{
		db:     db,
		auth:   auth,
		logger: logger,
		now:    time.Now,
		cfg:    cfg.normalized(),
	}
}

// Config returns the limits the next run will use.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// SetLimits replaces the limits used by subsequent runs. A run already in
// progress keeps the limits it started with.
func (e *Engine) SetLimits(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.normalized()
	e.mu.Unlock()
}

// Reconcile performs one run. It returns ErrInProgress if another run is
// active. An unreachable authority is not an error: the result has Offline
// set and nothing in the store is touched. Per-item failures are reported
// in the result; only store failures are returned as errors.
func (e *Engine) Reconcile(ctx context.Context) (*Result, error) {
	if !e.run.TryLock() {
		return nil, ErrInProgress
	}
	defer e.run.Unlock()

	cfg := e.Config()
	result := &Result{Errors: []ErrorDescriptor{}}

	if !e.auth.Probe(ctx) {
		e.logger.Printf("Authority unreachable, skipping run")
		result.Offline = true
		return result, nil
	}

	entries, err := e.db.Queries().ListEntries(ctx, store.QueueFilter{SkipErroredTasks: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load mutation queue: %w", err)
	}
	if len(entries) == 0 {
		return result, nil
	}

	horizon := loadedHorizon(entries)
	held := make(map[string]bool)

	batches := partition(entries, cfg.BatchSize)
	e.logger.Printf("Reconciling %d entries in %d batch(es)", len(entries), len(batches))

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("reconciliation interrupted before batch %d: %w", i+1, err)
		}

		// A task that failed earlier in the run keeps its remaining
		// entries queued until the next run.
		batch = withoutHeld(batch, held)
		if len(batch) == 0 {
			continue
		}

		outcomes, submitErr := e.auth.SubmitBatch(ctx, batch)
		if submitErr != nil {
			e.logger.Printf("Batch %d/%d failed in transport: %v", i+1, len(batches), submitErr)
		}

		t, cmds := reduceBatch(batch, outcomes, submitErr, cfg.MaxRetries, e.now())
		for _, id := range t.ignored {
			e.logger.Printf("Ignoring outcome for task %s not in batch %d", id, i+1)
		}
		for j := range cmds {
			switch cmds[j].kind {
			case cmdMarkError:
				cmds[j].through = horizon[cmds[j].taskID]
				held[cmds[j].taskID] = true
			case cmdRecordFailure, cmdRecordRejection:
				held[cmds[j].taskID] = true
			}
		}

		if err := e.apply(ctx, cmds); err != nil {
			return result, fmt.Errorf("failed to apply batch %d: %w", i+1, err)
		}

		result.Batches++
		result.Synced += t.synced
		result.Failed += t.failed
		result.Errors = append(result.Errors, t.errors...)
	}

	e.logger.Printf("Run complete: synced=%d failed=%d batches=%d", result.Synced, result.Failed, result.Batches)
	return result, nil
}

// loadedHorizon returns the last loaded queue position of each task.
func loadedHorizon(entries []*schema.MutationEntry) map[string]position {
	horizon := make(map[string]position)
	for _, e := range entries {
		p := positionOf(e)
		if last, ok := horizon[e.TaskID]; !ok || last.before(p) {
			horizon[e.TaskID] = p
		}
	}
	return horizon
}

func withoutHeld(batch []*schema.MutationEntry, held map[string]bool) []*schema.MutationEntry {
	if len(held) == 0 {
		return batch
	}
	kept := make([]*schema.MutationEntry, 0, len(batch))
	for _, e := range batch {
		if !held[e.TaskID] {
			kept = append(kept, e)
		}
	}
	return kept
}

// apply executes a batch's commands in one transaction.
func (e *Engine) apply(ctx context.Context, cmds []command) error {
	if len(cmds) == 0 {
		return nil
	}
	now := e.now()

	// The batch has been answered; record it even if ctx is canceled.
	ctx = context.WithoutCancel(ctx)

	return e.db.WithTx(ctx, func(q *store.Queries) error {
		for _, c := range cmds {
			if err := applyCommand(ctx, q, c, now); err != nil {
				return fmt.Errorf("%s for task %s: %w", c.kind, c.taskID, err)
			}
		}
		return nil
	})
}

func applyCommand(ctx context.Context, q *store.Queries, c command, now time.Time) error {
	switch c.kind {
	case cmdRecordFailure:
		return q.RecordEntryFailure(ctx, c.entryID, c.retryCount, c.message)

	case cmdRecordRejection:
		return q.RecordEntryRejection(ctx, c.entryID, c.message)

	case cmdMarkError:
		// through is the run's loaded horizon; a mutation written since
		// then already set the task back to pending.
		later, err := q.HasEntriesAfter(ctx, c.taskID, c.through.createdAt, c.through.seq)
		if err != nil {
			return err
		}
		if later {
			return nil
		}
		return q.SetTaskSyncStatus(ctx, c.taskID, schema.SyncError)

	case cmdAcknowledge:
		if _, err := q.DeleteEntriesThrough(ctx, c.taskID, c.through.createdAt, c.through.seq); err != nil {
			return err
		}
		later, err := q.HasEntriesAfter(ctx, c.taskID, c.through.createdAt, c.through.seq)
		if err != nil {
			return err
		}
		if later {
			if c.serverID != nil {
				return q.SetServerID(ctx, c.taskID, *c.serverID)
			}
			return nil
		}
		if c.resolved != nil {
			if err := adoptResolved(ctx, q, c.taskID, c.resolved); err != nil {
				return err
			}
		}
		return q.MarkTaskSynced(ctx, c.taskID, c.serverID, now)
	}
	return fmt.Errorf("unknown command %d", int(c.kind))
}

// adoptResolved overwrites the task's content with the authority's copy.
// Tombstones stay deleted locally.
func adoptResolved(ctx context.Context, q *store.Queries, taskID string, resolved *schema.Task) error {
	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if task.Title == resolved.Title && task.Description == resolved.Description && task.Completed == resolved.Completed {
		return nil
	}
	if resolved.Title == "" {
		return nil
	}

	task.Title = resolved.Title
	task.Description = resolved.Description
	task.Completed = resolved.Completed
	return q.UpdateTask(ctx, task)
}
