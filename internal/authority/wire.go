package authority

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/samridh-111/backend-interview-challenge/internal/schema"
)

// OutcomeStatus is the authority's verdict on one submitted item.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeError   OutcomeStatus = "error"
)

// BatchRequest is the body of POST /batch.
type BatchRequest struct {
	Items           []Item    `json:"items"`
	ClientTimestamp time.Time `json:"client_timestamp"`
}

// Item is one queue entry on the wire. ClientID is the task id the
// authority correlates its outcome with.
type Item struct {
	ID         string           `json:"id"`
	ClientID   string           `json:"client_id"`
	TaskID     string           `json:"task_id"`
	Operation  schema.Operation `json:"operation"`
	Data       json.RawMessage  `json:"data"`
	CreatedAt  time.Time        `json:"created_at"`
	RetryCount int              `json:"retry_count"`
}

// BatchResponse is the body returned by POST /batch.
type BatchResponse struct {
	ProcessedItems []Outcome `json:"processed_items"`
}

// Outcome is the authority's result for one item, keyed by task id.
type Outcome struct {
	ClientID     string        `json:"client_id"`
	ServerID     *string       `json:"server_id"`
	Status       OutcomeStatus `json:"status"`
	Error        string        `json:"error,omitempty"`
	ResolvedData *schema.Task  `json:"resolved_data,omitempty"`
}

// ItemFromEntry converts a queue entry into its wire form.
func ItemFromEntry(e *schema.MutationEntry) (Item, error) {
	data, err := schema.EncodePayload(e.Payload)
	if err != nil {
		return Item{}, fmt.Errorf("entry %s: %w", e.ID, err)
	}
	return Item{
		ID:         e.ID,
		ClientID:   e.TaskID,
		TaskID:     e.TaskID,
		Operation:  e.Operation,
		Data:       data,
		CreatedAt:  e.CreatedAt.UTC(),
		RetryCount: e.RetryCount,
	}, nil
}

// key returns the task id an item refers to.
func (it Item) key() string {
	if it.ClientID != "" {
		return it.ClientID
	}
	return it.TaskID
}
