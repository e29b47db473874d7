package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

const entryColumns = `q.seq, q.id, q.task_id, q.operation, q.payload, q.created_at, q.retry_count, q.error_message`

// InsertEntry appends a mutation to the queue. On success entry.Seq holds
// the store-assigned insertion sequence.
func (s *Queries) InsertEntry(ctx context.Context, entry *schema.MutationEntry) error {
	if !entry.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", entry.Operation)
	}
	if entry.Payload == nil || entry.Payload.Operation() != entry.Operation {
		return fmt.Errorf("payload does not match operation %q", entry.Operation)
	}

	payload, err := schema.EncodePayload(entry.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	query := `
	INSERT INTO mutation_queue (id, task_id, operation, payload, created_at, retry_count, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.q.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		string(entry.Operation),
		string(payload),
		formatTime(entry.CreatedAt),
		entry.RetryCount,
		stringToNull(entry.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s for task %s: %w", entry.Operation, entry.TaskID, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read queue sequence: %w", err)
	}
	entry.Seq = seq
	return nil
}

// QueueFilter configures the ListEntries query.
type QueueFilter struct {
	// TaskID restricts results to one task (empty = all tasks)
	TaskID string
	// SkipErroredTasks drops entries whose task is in the error state
	SkipErroredTasks bool
}

// ListEntries returns queue entries in synchronization order:
// created_at ascending, ties broken by insertion order.
func (s *Queries) ListEntries(ctx context.Context, filter QueueFilter) ([]*schema.MutationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM mutation_queue q`
	var args []any

	if filter.SkipErroredTasks {
		query += ` LEFT JOIN tasks t ON t.id = q.task_id`
	}
	query += ` WHERE 1 = 1`
	if filter.TaskID != "" {
		query += ` AND q.task_id = ?`
		args = append(args, filter.TaskID)
	}
	if filter.SkipErroredTasks {
		query += ` AND (t.sync_status IS NULL OR t.sync_status != 'error')`
	}
	query += ` ORDER BY q.created_at ASC, q.seq ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query mutation queue: %w", err)
	}
	defer rows.Close()

	var entries []*schema.MutationEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutation queue: %w", err)
	}

	return entries, nil
}

// CountEntries returns the queue backlog size.
func (s *Queries) CountEntries(ctx context.Context) (int, error) {
	var count int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutation_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return count, nil
}

// RecordEntryFailure stores the retry count and last failure reason for
// one entry.
func (s *Queries) RecordEntryFailure(ctx context.Context, entryID string, retryCount int, message string) error {
	query := `UPDATE mutation_queue SET retry_count = ?, error_message = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, query, retryCount, message, entryID); err != nil {
		return fmt.Errorf("failed to record failure for entry %s: %w", entryID, err)
	}
	return nil
}

// RecordEntryRejection stores the authority's rejection message for one
// entry. The retry count is left alone: rejections are not retried.
func (s *Queries) RecordEntryRejection(ctx context.Context, entryID, message string) error {
	query := `UPDATE mutation_queue SET error_message = ? WHERE id = ?`
	if _, err := s.q.ExecContext(ctx, query, message, entryID); err != nil {
		return fmt.Errorf("failed to record rejection for entry %s: %w", entryID, err)
	}
	return nil
}

// DeleteEntriesThrough removes every entry of taskID at or before the
// given queue position. Entries enqueued after it are kept.
func (s *Queries) DeleteEntriesThrough(ctx context.Context, taskID string, createdAt time.Time, seq int64) (int64, error) {
	ts := formatTime(createdAt)
	query := `
	DELETE FROM mutation_queue
	WHERE task_id = ?
	  AND (created_at < ? OR (created_at = ? AND seq <= ?))
	`
	res, err := s.q.ExecContext(ctx, query, taskID, ts, ts, seq)
	if err != nil {
		return 0, fmt.Errorf("failed to collapse queue for task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

// HasEntriesAfter reports whether taskID has queued entries after the
// given queue position.
func (s *Queries) HasEntriesAfter(ctx context.Context, taskID string, createdAt time.Time, seq int64) (bool, error) {
	ts := formatTime(createdAt)
	query := `
	SELECT EXISTS (
		SELECT 1 FROM mutation_queue
		WHERE task_id = ?
		  AND (created_at > ? OR (created_at = ? AND seq > ?))
	)
	`
	var exists int
	if err := s.q.QueryRowContext(ctx, query, taskID, ts, ts, seq).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check queue for task %s: %w", taskID, err)
	}
	return exists != 0, nil
}

func scanEntry(rows *sql.Rows) (*schema.MutationEntry, error) {
	var entry schema.MutationEntry
	var op, payload, createdAt string
	var errMsg sql.NullString

	err := rows.Scan(
		&entry.Seq,
		&entry.ID,
		&entry.TaskID,
		&op,
		&payload,
		&createdAt,
		&entry.RetryCount,
		&errMsg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan queue entry: %w", err)
	}

	entry.Operation = schema.Operation(op)
	entry.ErrorMessage = nullToString(errMsg)
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("queue entry %s: %w", entry.ID, err)
	}
	if entry.Payload, err = schema.DecodePayload(entry.Operation, []byte(payload)); err != nil {
		return nil, fmt.Errorf("queue entry %s: %w", entry.ID, err)
	}

	return &entry, nil
}
