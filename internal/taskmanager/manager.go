// Package taskmanager implements the Task Manager (C5): creates and
// cancels tasks, enforces the concurrency ceiling with FIFO admission,
// and owns Stream Runner lifecycles (spec §4.4).
package taskmanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/DM-llm/deer-flow/internal/contentstore"
	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/internal/streamrunner"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/internal/workflow"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// ErrNotFound is returned for operations against an unknown task-id.
var ErrNotFound = taskregistry.ErrNotFound

// ErrNotWaiting is returned by SubmitInterruptFeedback when the task
// isn't currently suspended on an interrupt (spec §7 Conflict class,
// surfaced as HTTP 409 at the API boundary).
var ErrNotWaiting = streamrunner.ErrNotWaiting

// AuditSink records a lifecycle transition for a finalized task. A
// nil AuditSink is a valid no-op.
type AuditSink interface {
	RecordTransition(ctx context.Context, info *taskregistry.TaskInfo)
}

// Archiver persists a finalized TaskInfo somewhere durable ahead of
// the registry's TTL eviction. A nil Archiver is a valid no-op.
type Archiver interface {
	Archive(ctx context.Context, info *taskregistry.TaskInfo) error
}

// Stats is the response shape for get_stats (spec §4.4, GET
// /worker/stats).
type Stats struct {
	ByStatus           map[taskregistry.Status]int `json:"by_status"`
	Running            int                         `json:"running"`
	Pending            int                         `json:"pending"`
	ConcurrencyCeiling int                          `json:"concurrency_ceiling"`
	Uptime             time.Duration               `json:"uptime"`
}

type runnerHandle struct {
	runner *streamrunner.Runner
	cancel context.CancelFunc
}

// Manager owns every in-flight Stream Runner and the concurrency
// semaphore that gates admission.
type Manager struct {
	registry taskregistry.Registry
	store    eventlog.Store
	engine   workflow.Engine
	offload  contentstore.Offloader
	audit    AuditSink
	archiver Archiver
	log      *logger.Logger

	progressEvery      int
	maxConcurrent      int64
	sem                *semaphore.Weighted

	startedAt time.Time

	mu      sync.Mutex
	runners map[string]*runnerHandle
}

// Option configures optional collaborators on New.
type Option func(*Manager)

// WithAudit attaches an audit sink invoked on every terminal
// transition.
func WithAudit(sink AuditSink) Option { return func(m *Manager) { m.audit = sink } }

// WithArchiver attaches an archiver invoked during Cleanup.
func WithArchiver(a Archiver) Option { return func(m *Manager) { m.archiver = a } }

// WithOffloader attaches a content offloader passed through to every
// Stream Runner this manager spawns.
func WithOffloader(o contentstore.Offloader) Option { return func(m *Manager) { m.offload = o } }

// New builds a Manager. maxConcurrent is the concurrency ceiling
// (spec §4.4); progressEvery is K in §4.3 step 4.
func New(registry taskregistry.Registry, store eventlog.Store, engine workflow.Engine, maxConcurrent, progressEvery int, log *logger.Logger, opts ...Option) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	m := &Manager{
		registry:      registry,
		store:         store,
		engine:        engine,
		log:           log,
		progressEvery: progressEvery,
		maxConcurrent: int64(maxConcurrent),
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		startedAt:     time.Now(),
		runners:       make(map[string]*runnerHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask allocates a task-id, persists a pending TaskInfo, and
// spawns a Stream Runner that will run once an admission slot is
// free. It returns immediately (spec §4.4).
func (m *Manager) CreateTask(ctx context.Context, cfg workflow.TaskConfig, userInput string) (*taskregistry.TaskInfo, error) {
	taskID := uuid.NewString()
	now := time.Now()
	info := &taskregistry.TaskInfo{
		TaskID:    taskID,
		ThreadID:  cfg.ThreadID,
		UserInput: userInput,
		Status:    taskregistry.StatusPending,
		CreatedAt: now,
		Config:    configToMap(cfg),
	}
	if err := m.registry.Create(ctx, info); err != nil {
		return nil, fmt.Errorf("taskmanager: create: %w", err)
	}
	metrics.TasksCreatedTotal.Inc()
	metrics.AdmissionQueueDepth.Inc()
	m.refreshTasksByStatus(ctx)

	runCtx, cancel := context.WithCancel(context.Background())
	runner := streamrunner.New(taskID, cfg.ThreadID, m.store, m.registry, m.engine, m.offload, m.progressEvery, m.log)

	m.mu.Lock()
	m.runners[taskID] = &runnerHandle{runner: runner, cancel: cancel}
	m.mu.Unlock()

	go m.admitAndRun(runCtx, taskID, runner, cfg)

	return info, nil
}

// admitAndRun blocks on the concurrency semaphore — FIFO among
// pending tasks by virtue of golang.org/x/sync/semaphore's queueing —
// then drives the runner. If runCtx is cancelled while still queued,
// the task never starts and is finalized straight to cancelled.
func (m *Manager) admitAndRun(runCtx context.Context, taskID string, runner *streamrunner.Runner, cfg workflow.TaskConfig) {
	if err := m.sem.Acquire(runCtx, 1); err != nil {
		metrics.AdmissionQueueDepth.Dec()
		m.finalizeNeverStarted(taskID)
		m.forget(taskID)
		return
	}
	metrics.AdmissionQueueDepth.Dec()
	defer m.sem.Release(1)

	runner.Run(runCtx, cfg)

	m.notifyTerminal(taskID)
	m.forget(taskID)
}

func (m *Manager) finalizeNeverStarted(taskID string) {
	now := time.Now()
	err := m.registry.Update(context.Background(), taskID, func(t *taskregistry.TaskInfo) error {
		if t.Status.Terminal() {
			return nil
		}
		t.Status = taskregistry.StatusCancelled
		t.CurrentStep = "cancelled before admission"
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		m.log.WithError(err).Error("taskmanager: failed to finalize task cancelled before admission")
		return
	}
	m.notifyTerminal(taskID)
}

func (m *Manager) notifyTerminal(taskID string) {
	info, err := m.registry.Get(context.Background(), taskID)
	if err != nil {
		m.log.WithError(err).Warn("taskmanager: could not load task for terminal notification")
		return
	}
	if m.audit != nil {
		m.audit.RecordTransition(context.Background(), info)
	}
	m.refreshTasksByStatus(context.Background())
}

// refreshTasksByStatus snapshots the registry's population by status
// into the TasksByStatus gauge. Called on task creation and on every
// terminal transition; the pending -> running transition the runner
// makes is not refreshed on its own and only shows up at the next
// refresh. A snapshot avoids needing a per-transition Inc/Dec on
// every backend.
func (m *Manager) refreshTasksByStatus(ctx context.Context) {
	tasks, err := m.registry.List(ctx, taskregistry.Filter{})
	if err != nil {
		m.log.WithError(err).Warn("taskmanager: failed to refresh tasks-by-status metric")
		return
	}
	counts := make(map[string]int, len(tasks))
	for _, t := range tasks {
		counts[string(t.Status)]++
	}
	metrics.SetTasksByStatus(counts)
}

func (m *Manager) forget(taskID string) {
	m.mu.Lock()
	delete(m.runners, taskID)
	m.mu.Unlock()
}

// CancelTask signals the runner for taskID to stop. Idempotent: a
// terminal or unknown-but-previously-seen task returns nil (spec §8.6).
func (m *Manager) CancelTask(ctx context.Context, taskID string) error {
	m.mu.Lock()
	handle, running := m.runners[taskID]
	m.mu.Unlock()

	if running {
		handle.cancel()
		return nil
	}

	// No active runner: either finished already (idempotent no-op) or
	// truly unknown.
	if _, err := m.registry.Get(ctx, taskID); err != nil {
		return err
	}
	return nil
}

// SubmitInterruptFeedback delivers feedback to the runner awaiting an
// interrupt on taskID.
func (m *Manager) SubmitInterruptFeedback(ctx context.Context, taskID, option string) error {
	m.mu.Lock()
	handle, running := m.runners[taskID]
	m.mu.Unlock()

	if !running {
		if _, err := m.registry.Get(ctx, taskID); err != nil {
			return err
		}
		return ErrNotWaiting
	}
	return handle.runner.SubmitFeedback(workflow.InterruptFeedback{Option: option})
}

// GetStats reports task counts by status, uptime, and the concurrency
// ceiling (spec §4.4, GET /worker/stats).
func (m *Manager) GetStats(ctx context.Context) (Stats, error) {
	tasks, err := m.registry.List(ctx, taskregistry.Filter{})
	if err != nil {
		return Stats{}, fmt.Errorf("taskmanager: list: %w", err)
	}
	stats := Stats{
		ByStatus:           make(map[taskregistry.Status]int),
		ConcurrencyCeiling: int(m.maxConcurrent),
		Uptime:             time.Since(m.startedAt),
	}
	for _, t := range tasks {
		stats.ByStatus[t.Status]++
		switch t.Status {
		case taskregistry.StatusRunning:
			stats.Running++
		case taskregistry.StatusPending:
			stats.Pending++
		}
	}
	return stats, nil
}

// Cleanup scans the registry for finalized tasks older than
// olderThanDays and deletes them along with their event streams,
// archiving each one first if an Archiver is configured (spec §4.4).
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	tasks, err := m.registry.List(ctx, taskregistry.Filter{})
	if err != nil {
		return 0, fmt.Errorf("taskmanager: list: %w", err)
	}

	removed := 0
	for _, t := range tasks {
		if !t.Status.Terminal() {
			continue
		}
		finalizedAt := t.CreatedAt
		if t.CompletedAt != nil {
			finalizedAt = *t.CompletedAt
		}
		if finalizedAt.After(cutoff) {
			continue
		}

		if m.archiver != nil {
			if err := m.archiver.Archive(ctx, t); err != nil {
				m.log.WithError(err).Warn("taskmanager: archive failed, skipping deletion")
				continue
			}
		}

		streamKey := eventlog.StreamKey(t.ThreadID, t.TaskID)
		if err := m.store.Delete(ctx, streamKey); err != nil {
			m.log.WithError(err).Warn("taskmanager: failed to delete event stream during cleanup")
		}
		if err := m.registry.Delete(ctx, t.TaskID); err != nil {
			m.log.WithError(err).Warn("taskmanager: failed to delete task during cleanup")
			continue
		}
		removed++
	}
	return removed, nil
}

func configToMap(cfg workflow.TaskConfig) map[string]any {
	return map[string]any{
		"resources":                       cfg.Resources,
		"auto_accepted_plan":              cfg.AutoAcceptedPlan,
		"max_plan_iterations":             cfg.MaxPlanIterations,
		"max_step_num":                    cfg.MaxStepNum,
		"max_search_results":              cfg.MaxSearchResults,
		"enable_deep_thinking":            cfg.EnableDeepThinking,
		"enable_background_investigation": cfg.EnableBackgroundInvestigation,
		"report_style":                    cfg.ReportStyle,
		"mcp_settings":                    cfg.MCPSettings,
	}
}
