// Package taskregistry implements the Task Registry (C2): the
// task-id-keyed store of TaskInfo records, with a thread-id secondary
// index and TTL eviction.
package taskregistry

import (
	"errors"
	"fmt"
	"time"
)

// Status is one of TaskInfo's lifecycle states (§4.5).
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether status is one from which no further
// transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// validTransitions encodes the state graph in spec §4.5.
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	},
}

// ErrInvalidTransition is returned when a status update doesn't follow
// an edge in the state graph.
var ErrInvalidTransition = errors.New("taskregistry: invalid status transition")

// ValidateTransition reports an error unless from->to is a valid edge,
// or a same-status no-op (idempotent re-application, e.g. double
// cancel of an already-cancelled task).
func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal, cannot move to %s", ErrInvalidTransition, from, to)
	}
	if validTransitions[from][to] {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// TaskInfo is the durable record of one workflow invocation (§3.1).
type TaskInfo struct {
	TaskID       string         `json:"task_id"`
	ThreadID     string         `json:"thread_id"`
	UserInput    string         `json:"user_input"`
	Status       Status         `json:"status"`
	Progress     float64        `json:"progress"`
	CurrentStep  string         `json:"current_step"`
	CreatedAt    time.Time      `json:"created_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
}

// TTL is the retention window for a finalized task (§6.4): 7 days from
// CompletedAt, or from CreatedAt while still pending.
const TTL = 7 * 24 * time.Hour

// ExpiresAt returns the instant this record becomes eligible for
// eviction.
func (t *TaskInfo) ExpiresAt() time.Time {
	if t.CompletedAt != nil {
		return t.CompletedAt.Add(TTL)
	}
	return t.CreatedAt.Add(TTL)
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the registry's stored copy.
func (t *TaskInfo) Clone() *TaskInfo {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		c.CompletedAt = &completed
	}
	if t.Config != nil {
		c.Config = make(map[string]any, len(t.Config))
		for k, v := range t.Config {
			c.Config[k] = v
		}
	}
	return &c
}
