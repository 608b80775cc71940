package taskregistry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTask(id, thread string) *TaskInfo {
	return &TaskInfo{
		TaskID:    id,
		ThreadID:  thread,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

func TestMemoryCreateGetUpdate(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()

	require.NoError(t, r.Create(ctx, newTask("X1", "T")))

	got, err := r.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	err = r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		t.Progress = 0.1
		now := time.Now()
		t.StartedAt = &now
		return nil
	})
	require.NoError(t, err)

	got, err = r.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)
}

func TestStateMachineRejectsInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T")))

	// pending -> completed is not a valid edge; only running can complete.
	err := r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusCompleted
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminalStatusIsFrozen(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T")))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusCancelled
		now := time.Now()
		t.CompletedAt = &now
		return nil
	}))

	err := r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIdempotentCancelOfTerminalTask(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T")))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusCancelled
		return nil
	}))

	// Re-applying the same terminal status is a same-state no-op, not
	// an invalid transition — cancel_task must be idempotent (§8.6).
	err := r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusCancelled
		return nil
	})
	require.NoError(t, err)
}

func TestProgressMustBeMonotone(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T")))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		t.Progress = 0.5
		return nil
	}))

	err := r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Progress = 0.2
		return nil
	})
	require.Error(t, err)
}

func TestFindLatestByThreadExcludesCancelled(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()

	old := newTask("X1", "T")
	old.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, r.Create(ctx, old))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusCancelled
		return nil
	}))

	newer := newTask("X2", "T")
	require.NoError(t, r.Create(ctx, newer))
	require.NoError(t, r.Update(ctx, "X2", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))
	require.NoError(t, r.Update(ctx, "X2", func(t *TaskInfo) error {
		t.Status = StatusCompleted
		now := time.Now()
		t.CompletedAt = &now
		return nil
	}))

	latest, err := r.FindLatestByThread(ctx, "T")
	require.NoError(t, err)
	require.Equal(t, "X2", latest.TaskID)
}

func TestFindLatestByThreadServesFailedTask(t *testing.T) {
	// Open question decision #1: a failed task is still "latest" and
	// still served, not treated as "no runnable task".
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T")))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))
	require.NoError(t, r.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusFailed
		t.ErrorMessage = "boom"
		return nil
	}))

	latest, err := r.FindLatestByThread(ctx, "T")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, latest.Status)
}

func TestListFiltersByThreadAndStatus(t *testing.T) {
	ctx := context.Background()
	r := NewMemory()
	require.NoError(t, r.Create(ctx, newTask("X1", "T1")))
	require.NoError(t, r.Create(ctx, newTask("X2", "T1")))
	require.NoError(t, r.Create(ctx, newTask("X3", "T2")))
	require.NoError(t, r.Update(ctx, "X2", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))

	out, err := r.List(ctx, Filter{ThreadID: "T1"})
	require.NoError(t, err)
	require.Len(t, out, 2)

	out, err = r.List(ctx, Filter{Status: StatusRunning})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "X2", out[0].TaskID)
}

func TestCachedRegistryInvalidatesOnUpdate(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	require.NoError(t, inner.Create(ctx, newTask("X1", "T")))
	c := NewCachedRegistry(inner, 16, time.Minute)

	got, err := c.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)

	require.NoError(t, c.Update(ctx, "X1", func(t *TaskInfo) error {
		t.Status = StatusRunning
		return nil
	}))

	got, err = c.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)
}
