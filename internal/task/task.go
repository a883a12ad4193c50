// Package task defines the unit of document work flowing through the sync
// pipeline: one task per document identity, coalesced by the queue.
package task

import "time"

// Type represents the kind of document mutation a task carries.
type Type string

const (
	TypeCreate Type = "CREATE"
	TypeUpdate Type = "UPDATE"
	TypeDelete Type = "DELETE"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued           Status = "QUEUED"
	StatusQueuedDuringBulk Status = "QUEUED_DURING_BULK"
	StatusProcessing       Status = "PROCESSING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
)

// Priority is an ordered tier; higher tiers are serviced first.
//
// PriorityUrgent is reserved for coalesced deletions and must stay strictly
// above every rule-assignable tier so that a DELETE always wins the race
// against slower embedding/upsert pipelines for the same identity.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityNormal Priority = 1
	PriorityHigh   Priority = 2
	PriorityUrgent Priority = 3
)

// String returns a human-readable representation of the priority tier.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// ClampRulePriority converts a user-supplied rule priority into a tier,
// capped at PriorityHigh. PriorityUrgent is never rule-assignable.
func ClampRulePriority(p int) Priority {
	if p <= int(PriorityLow) {
		return PriorityLow
	}
	if p >= int(PriorityHigh) {
		return PriorityHigh
	}
	return Priority(p)
}

// Task is the unit of work. It is owned exclusively by the queue from
// enqueue until it reaches a terminal status; no external mutation is
// permitted while queued or processing.
type Task struct {
	// ID is the document's stable identity (its vault path).
	ID         string
	Type       Type
	Status     Status
	Priority   Priority
	RetryCount int
	MaxRetries int
	CreatedAt  time.Time
	UpdatedAt  time.Time

	// Metadata is an opaque payload handed to downstream writers.
	// The queue never interprets it.
	Metadata map[string]interface{}
}

// New creates a queued task for the given document identity.
func New(id string, typ Type, priority Priority, maxRetries int) *Task {
	now := time.Now()

	return &Task{
		ID:         id,
		Type:       typ,
		Status:     StatusQueued,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Terminal reports whether the task has reached a final status.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Clone returns a shallow copy of the task with its own metadata map.
// Event payloads carry clones so subscribers cannot mutate queue-owned state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
