package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

const taskColumns = `id, title, description, completed, is_deleted, sync_status,
	created_at, updated_at, last_synced_at, server_id`

// InsertTask inserts a new task row.
func (s *Queries) InsertTask(ctx context.Context, task *schema.Task) error {
	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.q.ExecContext(ctx, query,
		task.ID,
		task.Title,
		task.Description,
		boolToInt(task.Completed),
		boolToInt(task.IsDeleted),
		string(task.SyncStatus),
		formatTime(task.CreatedAt),
		formatTime(task.UpdatedAt),
		timeToNullString(task.LastSyncedAt),
		stringToNull(task.ServerID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", task.ID, err)
	}
	return nil
}

// UpdateTask overwrites the mutable columns of an existing task row.
// Returns ErrNotFound if no row has the task's id.
func (s *Queries) UpdateTask(ctx context.Context, task *schema.Task) error {
	query := `
	UPDATE tasks SET
		title = ?,
		description = ?,
		completed = ?,
		is_deleted = ?,
		sync_status = ?,
		updated_at = ?,
		last_synced_at = ?,
		server_id = ?
	WHERE id = ?
	`

	res, err := s.q.ExecContext(ctx, query,
		task.Title,
		task.Description,
		boolToInt(task.Completed),
		boolToInt(task.IsDeleted),
		string(task.SyncStatus),
		formatTime(task.UpdatedAt),
		timeToNullString(task.LastSyncedAt),
		stringToNull(task.ServerID),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", task.ID, err)
	}
	return requireOneRow(res, task.ID)
}

// GetTask retrieves a single task by id, including tombstones.
// Returns ErrNotFound if the row does not exist.
func (s *Queries) GetTask(ctx context.Context, id string) (*schema.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTask(s.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return task, nil
}

// TaskFilter configures the ListTasks query.
type TaskFilter struct {
	// IncludeDeleted includes tombstone rows
	IncludeDeleted bool
	// Statuses restricts results to these sync statuses (empty = all)
	Statuses []schema.SyncStatus
}

// ListTasks retrieves tasks matching the filter, oldest first.
func (s *Queries) ListTasks(ctx context.Context, filter TaskFilter) ([]*schema.Task, error) {
	var conditions []string
	var args []any

	if !filter.IncludeDeleted {
		conditions = append(conditions, "is_deleted = 0")
	}

	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, "sync_status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*schema.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// MarkTaskSynced records a successful reconciliation: sync_status becomes
// synced, last_synced_at is set, and serverID is stored when non-nil.
func (s *Queries) MarkTaskSynced(ctx context.Context, taskID string, serverID *string, at time.Time) error {
	query := `
	UPDATE tasks SET
		sync_status = 'synced',
		last_synced_at = ?,
		server_id = COALESCE(?, server_id)
	WHERE id = ?
	`
	if _, err := s.q.ExecContext(ctx, query, formatTime(at), stringToNull(serverID), taskID); err != nil {
		return fmt.Errorf("failed to mark task %s synced: %w", taskID, err)
	}
	return nil
}

// SetServerID stores the authority-assigned id without changing sync state.
func (s *Queries) SetServerID(ctx context.Context, taskID, serverID string) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE tasks SET server_id = ? WHERE id = ?`, serverID, taskID); err != nil {
		return fmt.Errorf("failed to set server id for task %s: %w", taskID, err)
	}
	return nil
}

// SetTaskSyncStatus sets sync_status for a task. It does not touch
// updated_at: sync state changes are not user mutations.
func (s *Queries) SetTaskSyncStatus(ctx context.Context, taskID string, status schema.SyncStatus) error {
	if _, err := s.q.ExecContext(ctx, `UPDATE tasks SET sync_status = ? WHERE id = ?`, string(status), taskID); err != nil {
		return fmt.Errorf("failed to set sync status for task %s: %w", taskID, err)
	}
	return nil
}

// CountTasksByStatus returns the number of tasks (tombstones included) in
// any of the given statuses.
func (s *Queries) CountTasksByStatus(ctx context.Context, statuses ...schema.SyncStatus) (int, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	var count int
	query := `SELECT COUNT(*) FROM tasks WHERE sync_status IN (` + strings.Join(placeholders, ", ") + `)`
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// LastSyncedAt returns the most recent last_synced_at across all tasks, or
// nil if nothing has been synced yet.
func (s *Queries) LastSyncedAt(ctx context.Context) (*time.Time, error) {
	var last sql.NullString
	query := `SELECT MAX(last_synced_at) FROM tasks WHERE last_synced_at IS NOT NULL`
	if err := s.q.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to query last sync time: %w", err)
	}
	return nullStringToTime(last), nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*schema.Task, error) {
	var task schema.Task
	var completed, deleted int
	var status, createdAt, updatedAt string
	var lastSynced, serverID sql.NullString

	err := row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&completed,
		&deleted,
		&status,
		&createdAt,
		&updatedAt,
		&lastSynced,
		&serverID,
	)
	if err != nil {
		return nil, err
	}

	task.Completed = completed != 0
	task.IsDeleted = deleted != 0
	task.SyncStatus = schema.SyncStatus(status)

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	task.LastSyncedAt = nullStringToTime(lastSynced)
	task.ServerID = nullToString(serverID)

	return &task, nil
}

func requireOneRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}
