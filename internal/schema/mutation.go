package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of change a queue entry records.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// MutationEntry is a durable record of one pending change.
//
// Entries are consumed in (CreatedAt, Seq) order. Seq is assigned by the
// store on insert and breaks ties between entries with equal timestamps.
type MutationEntry struct {
	ID           string
	Seq          int64
	TaskID       string
	Operation    Operation
	Payload      Payload
	CreatedAt    time.Time
	RetryCount   int
	ErrorMessage *string
}

// Before reports whether e sorts strictly before other in queue order.
func (e *MutationEntry) Before(other *MutationEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.Before(other.CreatedAt)
	}
	return e.Seq < other.Seq
}

// Payload is the operation-specific body of a queue entry. The concrete
// types are CreatePayload, UpdatePayload and DeletePayload.
type Payload interface {
	Operation() Operation
}

// CreatePayload carries the full task snapshot taken at creation.
type CreatePayload struct {
	Task Task
}

// UpdatePayload carries only the fields that were changed.
type UpdatePayload struct {
	Patch TaskPatch
}

// DeletePayload carries nothing.
type DeletePayload struct{}

func (CreatePayload) Operation() Operation { return OpCreate }
func (UpdatePayload) Operation() Operation { return OpUpdate }
func (DeletePayload) Operation() Operation { return OpDelete }

// EncodePayload serializes p for storage or transport.
func EncodePayload(p Payload) (json.RawMessage, error) {
	switch v := p.(type) {
	case CreatePayload:
		return json.Marshal(v.Task)
	case *CreatePayload:
		return json.Marshal(v.Task)
	case UpdatePayload:
		if v.Patch.Empty() {
			return nil, fmt.Errorf("update payload has no fields")
		}
		return json.Marshal(v.Patch)
	case *UpdatePayload:
		return EncodePayload(*v)
	case DeletePayload, *DeletePayload:
		return json.RawMessage(`{}`), nil
	case nil:
		return nil, fmt.Errorf("payload is nil")
	default:
		return nil, fmt.Errorf("unsupported payload type %T", p)
	}
}

// DecodePayload parses data as the payload for op. A payload that does not
// match its operation is rejected.
func DecodePayload(op Operation, data []byte) (Payload, error) {
	switch op {
	case OpCreate:
		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("failed to decode create payload: %w", err)
		}
		return CreatePayload{Task: task}, nil

	case OpUpdate:
		var patch TaskPatch
		if err := json.Unmarshal(data, &patch); err != nil {
			return nil, fmt.Errorf("failed to decode update payload: %w", err)
		}
		if patch.Empty() {
			return nil, fmt.Errorf("update payload has no fields")
		}
		return UpdatePayload{Patch: patch}, nil

	case OpDelete:
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) != 0 && !bytes.Equal(trimmed, []byte("{}")) && !bytes.Equal(trimmed, []byte("null")) {
			return nil, fmt.Errorf("delete payload must be empty")
		}
		return DeletePayload{}, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}
