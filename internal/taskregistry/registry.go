package taskregistry

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get/Update for an unknown task-id, and by
// FindLatestByThread when a thread has no eligible task. Delete of an
// unknown task-id is a no-op returning nil.
var ErrNotFound = errors.New("taskregistry: task not found")

// Filter narrows List results.
type Filter struct {
	ThreadID string // empty matches any
	Status   Status // empty Status matches any
	Limit    int    // 0 means no limit
}

// Registry is the Task Registry's contract (C2). Redis (redis.go)
// is the primary backend; Memory (memory.go) is the in-process
// fallback and test double.
type Registry interface {
	// Create persists a new TaskInfo. Returns an error if TaskID
	// already exists.
	Create(ctx context.Context, info *TaskInfo) error

	// Get fetches a TaskInfo by id, or ErrNotFound.
	Get(ctx context.Context, taskID string) (*TaskInfo, error)

	// Update applies mutate to the stored record and persists the
	// result. mutate must enforce its own invariants (status
	// transition legality, progress monotonicity); Update rejects the
	// result if Status or Progress regress illegally.
	Update(ctx context.Context, taskID string, mutate func(*TaskInfo) error) error

	// List returns TaskInfo records matching filter.
	List(ctx context.Context, filter Filter) ([]*TaskInfo, error)

	// Delete removes a task record.
	Delete(ctx context.Context, taskID string) error

	// FindLatestByThread returns the most-recently-created task on
	// threadID whose status is not cancelled, or ErrNotFound.
	FindLatestByThread(ctx context.Context, threadID string) (*TaskInfo, error)
}
