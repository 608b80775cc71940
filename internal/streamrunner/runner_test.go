package streamrunner

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/offset"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

func testLogger() *logger.Logger {
	logger.Init(logrus.ErrorLevel)
	return logger.New("test", "", "")
}

func newTestTask(registry taskregistry.Registry, id, thread string) {
	_ = registry.Create(context.Background(), &taskregistry.TaskInfo{
		TaskID: id, ThreadID: thread, Status: taskregistry.StatusPending, CreatedAt: time.Now(),
	})
}

func TestRunnerHappyPathAutoAccepted(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemory()
	registry := taskregistry.NewMemory()
	newTestTask(registry, "X1", "T1")

	r := New("X1", "T1", store, registry, &workflow.SimulatedEngine{Steps: 2}, nil, 3, testLogger())
	r.Run(ctx, workflow.TaskConfig{Messages: []workflow.Message{{Role: "user", Content: "hi"}}, AutoAcceptedPlan: true})

	evs, err := store.Range(ctx, eventlog.StreamKey("T1", "X1"), offset.Zero, offset.Unbounded, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	require.Equal(t, events.KindReplayEnd, evs[len(evs)-1].Kind)

	var sawMessageChunk, sawToolCalls, sawToolResult bool
	for _, ev := range evs {
		switch ev.Kind {
		case events.KindMessageChunk:
			sawMessageChunk = true
		case events.KindToolCalls:
			sawToolCalls = true
		case events.KindToolCallResult:
			sawToolResult = true
		}
	}
	require.True(t, sawMessageChunk)
	require.True(t, sawToolCalls)
	require.True(t, sawToolResult)

	task, err := registry.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusCompleted, task.Status)
	require.Equal(t, 1.0, task.Progress)
	require.NotNil(t, task.CompletedAt)
}

func TestRunnerInterruptResume(t *testing.T) {
	ctx := context.Background()
	store := eventlog.NewMemory()
	registry := taskregistry.NewMemory()
	newTestTask(registry, "X1", "T1")

	r := New("X1", "T1", store, registry, &workflow.SimulatedEngine{Steps: 1}, nil, 10, testLogger())

	done := make(chan struct{})
	go func() {
		r.Run(ctx, workflow.TaskConfig{Messages: []workflow.Message{{Role: "user", Content: "hi"}}, AutoAcceptedPlan: false})
		close(done)
	}()

	require.Eventually(t, func() bool {
		task, err := registry.Get(ctx, "X1")
		return err == nil && task.Status == taskregistry.StatusRunning && r.awaiting.Load()
	}, 2*time.Second, 10*time.Millisecond)

	task, err := registry.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusRunning, task.Status)

	require.NoError(t, r.SubmitFeedback(workflow.InterruptFeedback{Option: "accepted"}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("runner did not complete after feedback")
	}

	task, err = registry.Get(ctx, "X1")
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusCompleted, task.Status)

	evs, err := store.Range(ctx, eventlog.StreamKey("T1", "X1"), offset.Zero, offset.Unbounded, 0)
	require.NoError(t, err)
	var sawInterrupt bool
	for _, ev := range evs {
		if ev.Kind == events.KindInterrupt {
			sawInterrupt = true
		}
	}
	require.True(t, sawInterrupt)
}

func TestRunnerSubmitFeedbackWhenNotWaiting(t *testing.T) {
	store := eventlog.NewMemory()
	registry := taskregistry.NewMemory()
	newTestTask(registry, "X1", "T1")
	r := New("X1", "T1", store, registry, &workflow.SimulatedEngine{}, nil, 10, testLogger())

	err := r.SubmitFeedback(workflow.InterruptFeedback{Option: "accepted"})
	require.ErrorIs(t, err, ErrNotWaiting)
}

func TestRunnerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := eventlog.NewMemory()
	registry := taskregistry.NewMemory()
	newTestTask(registry, "X1", "T1")

	r := New("X1", "T1", store, registry, &workflow.SimulatedEngine{Steps: 100}, nil, 5, testLogger())

	// The simulated engine emits its steps without pacing, so an
	// auto-accepted run can finish before the cancel below lands. Leaving
	// the plan unaccepted parks the engine on its interrupt, which keeps
	// the task running until ctx is cancelled.
	done := make(chan struct{})
	go func() {
		r.Run(ctx, workflow.TaskConfig{Messages: []workflow.Message{{Role: "user", Content: "hi"}}, AutoAcceptedPlan: false})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not finalize within cancellation latency budget")
	}

	task, err := registry.Get(context.Background(), "X1")
	require.NoError(t, err)
	require.Equal(t, taskregistry.StatusCancelled, task.Status)

	evs, err := store.Range(context.Background(), eventlog.StreamKey("T1", "X1"), offset.Zero, offset.Unbounded, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	require.Equal(t, events.KindError, last.Kind)
	require.Equal(t, "cancelled", last.Data[events.FieldStatus])
}
