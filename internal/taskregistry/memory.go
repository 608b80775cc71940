package taskregistry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Registry. It backs the Redis fallback and
// is used directly in tests.
type Memory struct {
	mu    sync.Mutex
	tasks map[string]*TaskInfo
}

// NewMemory constructs an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{tasks: make(map[string]*TaskInfo)}
}

func (m *Memory) Create(ctx context.Context, info *TaskInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[info.TaskID]; exists {
		return fmt.Errorf("taskregistry: task %s already exists", info.TaskID)
	}
	m.tasks[info.TaskID] = info.Clone()
	return nil
}

func (m *Memory) Get(ctx context.Context, taskID string) (*TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *Memory) Update(ctx context.Context, taskID string, mutate func(*TaskInfo) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	working := t.Clone()
	prevStatus, prevProgress := working.Status, working.Progress
	if err := mutate(working); err != nil {
		return err
	}
	if err := ValidateTransition(prevStatus, working.Status); err != nil {
		return err
	}
	if working.Progress < prevProgress {
		return fmt.Errorf("taskregistry: progress must be monotone non-decreasing (%.3f -> %.3f)", prevProgress, working.Progress)
	}
	m.tasks[taskID] = working
	return nil
}

func (m *Memory) List(ctx context.Context, filter Filter) ([]*TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*TaskInfo
	for _, t := range m.tasks {
		if filter.ThreadID != "" && t.ThreadID != filter.ThreadID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *Memory) FindLatestByThread(ctx context.Context, threadID string) (*TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *TaskInfo
	for _, t := range m.tasks {
		if t.ThreadID != threadID || t.Status == StatusCancelled {
			continue
		}
		if latest == nil || t.CreatedAt.After(latest.CreatedAt) {
			latest = t
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

var _ Registry = (*Memory)(nil)
