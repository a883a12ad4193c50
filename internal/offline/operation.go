// Package offline provides the durable operation queue: writes that could
// not reach the remote store are persisted here and replayed on reconnect
// through the same status-update surface the live pipeline uses.
package offline

import (
	"time"

	"github.com/google/uuid"

	"github.com/kimvales/vaultsync/internal/store"
)

// OperationType mirrors the task types, decoupled so persisted rows outlive
// process restarts and queue refactors.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// OperationStatus represents the replay state of a persisted operation.
type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusDone       OperationStatus = "done"
	StatusFailed     OperationStatus = "failed"
)

// Operation is one persisted write. It carries just enough metadata to
// replay a status update, keeping persisted state compact.
type Operation struct {
	ID         string
	FileID     string
	Type       OperationType
	Timestamp  int64
	Meta       store.Meta
	Status     OperationStatus
	RetryCount int
	MaxRetries int
	LastError  string
}

// NewOperation creates a pending operation for a document identity.
func NewOperation(fileID string, typ OperationType, meta store.Meta) *Operation {
	return &Operation{
		ID:         uuid.New().String(),
		FileID:     fileID,
		Type:       typ,
		Timestamp:  time.Now().UnixMilli(),
		Meta:       meta,
		Status:     StatusPending,
		MaxRetries: 3,
	}
}
