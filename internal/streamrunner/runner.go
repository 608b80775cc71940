// Package streamrunner implements the Stream Runner (C4): the
// component that drives one Workflow Engine invocation, translates its
// output into canonical events, appends them to the Event Log, and
// keeps the Task Registry's TaskInfo in sync (spec §4.3).
package streamrunner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DM-llm/deer-flow/internal/contentstore"
	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// ErrNotWaiting is returned by SubmitFeedback when no interrupt is
// currently pending on this runner (spec §7 Conflict class).
var ErrNotWaiting = errors.New("streamrunner: no interrupt pending")

// Runner drives a single task's Engine invocation to completion. One
// Runner exists per running task; the Task Manager owns its lifetime.
type Runner struct {
	taskID   string
	threadID string
	streamKey string

	log      *logger.Logger
	store    eventlog.Store
	registry taskregistry.Registry
	engine   workflow.Engine
	offload  contentstore.Offloader

	progressEvery int

	// feedbackCh is buffered to size 1: it's the single-slot rendezvous
	// a waiting interrupt resumes through. Buffering it (rather than
	// handing off on an unbuffered channel) matters because awaiting
	// is set to true right after the interrupt event is appended, on
	// the Runner's goroutine, while the engine reaches its own receive
	// on this channel independently on its goroutine — an unbuffered
	// send would spuriously return ErrNotWaiting if a client's feedback
	// arrived in the (real, if narrow) window after awaiting flips true
	// but before the engine goroutine is scheduled to the receive.
	feedbackCh chan workflow.InterruptFeedback
	awaiting   atomic.Bool
}

// New builds a Runner for one task. progressEvery is K from spec §4.3
// step 4 ("update progress at least every K appends").
func New(taskID, threadID string, store eventlog.Store, registry taskregistry.Registry, engine workflow.Engine, offload contentstore.Offloader, progressEvery int, log *logger.Logger) *Runner {
	if progressEvery <= 0 {
		progressEvery = 10
	}
	if offload == nil {
		offload = contentstore.NoOpStore{}
	}
	return &Runner{
		taskID:        taskID,
		threadID:      threadID,
		streamKey:     eventlog.StreamKey(threadID, taskID),
		log:           log,
		store:         store,
		registry:      registry,
		engine:        engine,
		offload:       offload,
		progressEvery: progressEvery,
		feedbackCh:    make(chan workflow.InterruptFeedback, 1),
	}
}

// SubmitFeedback delivers fb to the engine if and only if this runner
// is currently suspended on an interrupt; otherwise ErrNotWaiting. The
// send only needs the buffered slot to be free, not an engine
// goroutine actively receiving, so a legitimately-waiting runner
// doesn't reject valid feedback just because the engine hasn't yet
// reached its own receive. First-wins: whichever submission fills the
// slot flips awaiting to false immediately after, so a concurrent
// second submission — whether it arrives before the engine drains the
// slot or after — also sees ErrNotWaiting (SPEC_FULL open question #2).
func (r *Runner) SubmitFeedback(fb workflow.InterruptFeedback) error {
	if !r.awaiting.Load() {
		return ErrNotWaiting
	}
	select {
	case r.feedbackCh <- fb:
		r.awaiting.Store(false)
		return nil
	default:
		return ErrNotWaiting
	}
}

// Run drives the engine to completion, appending canonical events and
// keeping TaskInfo current. It returns once the stream is finalized;
// ctx cancellation is this runner's cancellation signal (spec §5).
func (r *Runner) Run(ctx context.Context, cfg workflow.TaskConfig) {
	now := time.Now()
	if err := r.registry.Update(context.Background(), r.taskID, func(t *taskregistry.TaskInfo) error {
		t.Status = taskregistry.StatusRunning
		t.StartedAt = &now
		t.CurrentStep = "starting workflow"
		return nil
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to mark task running")
		return
	}

	engineEvents := r.engine.Run(ctx, cfg, r.feedbackCh)

	appended := 0
	for ev := range engineEvents {
		if ev.Err != nil {
			r.finishFailed(ev.Err)
			return
		}

		if ctx.Err() != nil {
			r.finishCancelled()
			return
		}

		kind, data, ok := translate(ev)
		if !ok {
			if ev.Kind != workflow.KindToolCallChunks {
				r.log.WithField("kind", string(ev.Kind)).Warn("streamrunner: dropping unknown engine event kind")
			}
			continue
		}
		data = r.offload.Offload(ctx, r.streamKey, data)

		if _, err := r.store.Append(ctx, r.streamKey, kind, r.threadID, data); err != nil {
			if ctx.Err() != nil {
				r.finishCancelled()
				return
			}
			r.log.WithError(err).Error("streamrunner: append failed")
			r.finishFailed(fmt.Errorf("event log append failed: %w", err))
			return
		}
		metrics.RecordEventAppended(string(kind))
		appended++

		if kind == events.KindInterrupt {
			r.awaiting.Store(true)
			r.updateProgress(fmt.Sprintf("awaiting interrupt feedback from %s", ev.Agent), currentProgressCap)
		}

		if appended%r.progressEvery == 0 {
			r.updateProgress(fmt.Sprintf("processing %s from %s", kind, ev.Agent), currentProgressCap)
		}
	}

	if ctx.Err() != nil {
		r.finishCancelled()
		return
	}

	r.finishCompleted()
}

// currentProgressCap bounds progress updates made mid-run so 1.0 is
// reserved for actual completion (progress must be monotone but a
// long-running task shouldn't report done before it is).
const currentProgressCap = 0.9

func (r *Runner) updateProgress(step string, cap float64) {
	err := r.registry.Update(context.Background(), r.taskID, func(t *taskregistry.TaskInfo) error {
		t.CurrentStep = step
		if t.Progress < cap {
			// Nudge progress toward cap without ever exceeding it or
			// regressing — an approximation is all spec §4.3 asks for.
			t.Progress = t.Progress + (cap-t.Progress)*0.3
		}
		return nil
	})
	if err != nil {
		r.log.WithError(err).Warn("streamrunner: progress update failed")
	}
}

func (r *Runner) finishCompleted() {
	bgCtx := context.Background()
	if _, err := r.store.Append(bgCtx, r.streamKey, events.KindReplayEnd, r.threadID, map[string]any{
		"mode": "engine_complete",
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to append replay_end")
	} else {
		metrics.RecordEventAppended(string(events.KindReplayEnd))
	}
	now := time.Now()
	if err := r.registry.Update(bgCtx, r.taskID, func(t *taskregistry.TaskInfo) error {
		t.Status = taskregistry.StatusCompleted
		t.Progress = 1.0
		t.CurrentStep = "completed"
		t.CompletedAt = &now
		return nil
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to mark task completed")
	}
}

func (r *Runner) finishFailed(cause error) {
	bgCtx := context.Background()
	if _, err := r.store.Append(bgCtx, r.streamKey, events.KindError, r.threadID, map[string]any{
		events.FieldMessage: cause.Error(),
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to append error event")
	} else {
		metrics.RecordEventAppended(string(events.KindError))
	}
	now := time.Now()
	if err := r.registry.Update(bgCtx, r.taskID, func(t *taskregistry.TaskInfo) error {
		t.Status = taskregistry.StatusFailed
		t.ErrorMessage = cause.Error()
		t.CurrentStep = "failed"
		t.CompletedAt = &now
		return nil
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to mark task failed")
	}
}

func (r *Runner) finishCancelled() {
	bgCtx := context.Background()
	if _, err := r.store.Append(bgCtx, r.streamKey, events.KindError, r.threadID, map[string]any{
		events.FieldMessage: "cancelled",
		events.FieldStatus:  "cancelled",
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to append cancellation event")
	} else {
		metrics.RecordEventAppended(string(events.KindError))
	}
	now := time.Now()
	if err := r.registry.Update(bgCtx, r.taskID, func(t *taskregistry.TaskInfo) error {
		if t.Status.Terminal() {
			return nil // already finalized by another path; cancel is idempotent
		}
		t.Status = taskregistry.StatusCancelled
		t.CurrentStep = "cancelled"
		t.CompletedAt = &now
		return nil
	}); err != nil {
		r.log.WithError(err).Error("streamrunner: failed to mark task cancelled")
	}
}
