// Package schema provides the data structures shared by the task store,
// the mutation queue, and the reconciliation protocol.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SyncStatus is the reconciliation state of a single task.
type SyncStatus string

const (
	// SyncPending means the task has local mutations not yet acknowledged
	// by the remote authority.
	SyncPending SyncStatus = "pending"

	// SyncSynced means the authority has accepted the task's current state.
	SyncSynced SyncStatus = "synced"

	// SyncError means reconciliation failed terminally. The task is skipped
	// by reconciliation until it is mutated again or requeued.
	SyncError SyncStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncPending, SyncSynced, SyncError:
		return true
	}
	return false
}

// MaxTitleLength bounds the title so a single row cannot grow unbounded.
const MaxTitleLength = 500

// Task is a user-visible record.
//
// Deleted tasks are kept as tombstone rows (IsDeleted=true) until their
// deletion has been propagated to the authority.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Completed   bool       `json:"completed"`
	IsDeleted   bool       `json:"is_deleted"`
	SyncStatus  SyncStatus `json:"sync_status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	LastSyncedAt *time.Time `json:"last_synced_at"`
	ServerID     *string    `json:"server_id"`
}

// Validate checks if the Task has valid field values.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "is required"}
	}
	if err := ValidateTitle(t.Title); err != nil {
		return err
	}
	if !t.SyncStatus.Valid() {
		return &ValidationError{Field: "sync_status", Message: fmt.Sprintf("unknown status %q", t.SyncStatus)}
	}
	if t.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Message: "is required"}
	}
	if t.UpdatedAt.IsZero() {
		return &ValidationError{Field: "updated_at", Message: "is required"}
	}
	return nil
}

// ValidateTitle rejects titles that are empty after trimming or too long.
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return &ValidationError{Field: "title", Message: "is required and must be a non-empty string"}
	}
	if len(trimmed) > MaxTitleLength {
		return &ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("must be %d characters or less (got %d)", MaxTitleLength, len(trimmed)),
		}
	}
	return nil
}

// TaskPatch carries the fields of an update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil
}

// Normalize trims text fields and validates a provided title.
func (p TaskPatch) Normalize() (TaskPatch, error) {
	out := p
	if p.Title != nil {
		if err := ValidateTitle(*p.Title); err != nil {
			return TaskPatch{}, err
		}
		title := strings.TrimSpace(*p.Title)
		out.Title = &title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		out.Description = &desc
	}
	return out, nil
}

// Apply copies the provided fields onto t.
func (p TaskPatch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Completed != nil {
		t.Completed = *p.Completed
	}
}

// ValidationError reports bad input shape. It is surfaced to the caller
// synchronously and never produces a queue entry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
