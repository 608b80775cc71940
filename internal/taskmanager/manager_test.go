package taskmanager

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

func testLogger() *logger.Logger {
	logger.Init(logrus.ErrorLevel)
	return logger.New("test", "", "")
}

func newManager(maxConcurrent int) (*Manager, taskregistry.Registry, eventlog.Store) {
	registry := taskregistry.NewMemory()
	store := eventlog.NewMemory()
	m := New(registry, store, &workflow.SimulatedEngine{Steps: 1}, maxConcurrent, 5, testLogger())
	return m, registry, store
}

func TestManagerCreateTaskRunsToCompletion(t *testing.T) {
	m, registry, _ := newManager(4)
	ctx := context.Background()

	info, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: true}, "hello")
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusPending, info.Status)

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, info.TaskID)
		return err == nil && task.Status == taskregistry.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerConcurrencyCeilingQueuesAdmission(t *testing.T) {
	m, registry, _ := newManager(1)
	ctx := context.Background()

	first, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: false}, "first")
	require.NoError(t, err)

	// Block the single admission slot on an interrupt so the second
	// task must remain pending behind it.
	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, first.TaskID)
		return err == nil && task.Status == taskregistry.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	second, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T2", AutoAcceptedPlan: true}, "second")
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	task, err := registry.Get(ctx, second.TaskID)
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusPending, task.Status)

	require.NoError(t, m.SubmitInterruptFeedback(ctx, first.TaskID, "accepted"))

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, second.TaskID)
		return err == nil && task.Status == taskregistry.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerCancelTaskIsIdempotent(t *testing.T) {
	m, registry, _ := newManager(4)
	ctx := context.Background()

	info, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: true}, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, info.TaskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.CancelTask(ctx, info.TaskID))
	require.NoError(t, m.CancelTask(ctx, info.TaskID))

	task, err := registry.Get(ctx, info.TaskID)
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusCompleted, task.Status)
}

func TestManagerCancelUnknownTask(t *testing.T) {
	m, _, _ := newManager(4)
	err := m.CancelTask(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestManagerSubmitInterruptFeedbackNotWaiting(t *testing.T) {
	m, registry, _ := newManager(4)
	ctx := context.Background()

	info, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: true}, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, info.TaskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	err = m.SubmitInterruptFeedback(ctx, info.TaskID, "accepted")
	require.ErrorIs(t, err, ErrNotWaiting)
}

func TestManagerGetStats(t *testing.T) {
	m, registry, _ := newManager(4)
	ctx := context.Background()

	_, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: true}, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tasks, err := registry.List(ctx, taskregistry.Filter{})
		return err == nil && len(tasks) == 1 && tasks[0].Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	stats, err := m.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, stats.ConcurrencyCeiling)
	require.Equal(t, 1, stats.ByStatus[taskregistry.StatusCompleted])
}

type fakeArchiver struct {
	archived []*taskregistry.TaskInfo
}

func (f *fakeArchiver) Archive(_ context.Context, info *taskregistry.TaskInfo) error {
	f.archived = append(f.archived, info)
	return nil
}

func TestManagerCleanupArchivesAndDeletesFinalizedTasks(t *testing.T) {
	registry := taskregistry.NewMemory()
	store := eventlog.NewMemory()
	archiver := &fakeArchiver{}
	m := New(registry, store, &workflow.SimulatedEngine{Steps: 1}, 4, 5, testLogger(), WithArchiver(archiver))
	ctx := context.Background()

	info, err := m.CreateTask(ctx, workflow.TaskConfig{ThreadID: "T1", AutoAcceptedPlan: true}, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, info.TaskID)
		return err == nil && task.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	// A completed-just-now task shouldn't be swept by a 7-day cutoff.
	removed, err := m.Cleanup(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	// A cutoff of 0 days sweeps anything already finalized.
	removed, err = m.Cleanup(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	require.Len(t, archiver.archived, 1)

	_, err = registry.Get(ctx, info.TaskID)
	require.ErrorIs(t, err, taskregistry.ErrNotFound)
}
