package taskregistry

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// FallbackRegistry mirrors eventlog.FallbackStore: it prefers a
// primary Registry (normally Redis) and switches permanently to an
// in-memory Memory registry on the first primary failure, per the
// §7 TransportError policy.
type FallbackRegistry struct {
	primary  Registry
	fallback Registry
	degraded atomic.Bool
	log      *logger.Logger
}

// NewFallbackRegistry builds a Registry that falls back to memory on
// the first primary error.
func NewFallbackRegistry(primary Registry, log *logger.Logger) *FallbackRegistry {
	return &FallbackRegistry{primary: primary, fallback: NewMemory(), log: log}
}

func (f *FallbackRegistry) Degraded() bool { return f.degraded.Load() }

func (f *FallbackRegistry) trip(err error) Registry {
	if f.degraded.CompareAndSwap(false, true) {
		f.log.WithError(err).Warn("taskregistry: backing store unreachable, falling back to in-memory registry")
		metrics.SetFallbackDegraded("taskregistry", true)
	}
	return f.fallback
}

func (f *FallbackRegistry) Create(ctx context.Context, info *TaskInfo) error {
	if f.degraded.Load() {
		return f.fallback.Create(ctx, info)
	}
	if err := f.primary.Create(ctx, info); err != nil {
		return f.trip(err).Create(ctx, info)
	}
	return nil
}

func (f *FallbackRegistry) Get(ctx context.Context, taskID string) (*TaskInfo, error) {
	if f.degraded.Load() {
		return f.fallback.Get(ctx, taskID)
	}
	t, err := f.primary.Get(ctx, taskID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return f.trip(err).Get(ctx, taskID)
	}
	return t, err
}

func (f *FallbackRegistry) Update(ctx context.Context, taskID string, mutate func(*TaskInfo) error) error {
	if f.degraded.Load() {
		return f.fallback.Update(ctx, taskID, mutate)
	}
	err := f.primary.Update(ctx, taskID, mutate)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrInvalidTransition) {
		return f.trip(err).Update(ctx, taskID, mutate)
	}
	return err
}

func (f *FallbackRegistry) List(ctx context.Context, filter Filter) ([]*TaskInfo, error) {
	if f.degraded.Load() {
		return f.fallback.List(ctx, filter)
	}
	out, err := f.primary.List(ctx, filter)
	if err != nil {
		return f.trip(err).List(ctx, filter)
	}
	return out, nil
}

func (f *FallbackRegistry) Delete(ctx context.Context, taskID string) error {
	if f.degraded.Load() {
		return f.fallback.Delete(ctx, taskID)
	}
	if err := f.primary.Delete(ctx, taskID); err != nil {
		return f.trip(err).Delete(ctx, taskID)
	}
	return nil
}

func (f *FallbackRegistry) FindLatestByThread(ctx context.Context, threadID string) (*TaskInfo, error) {
	if f.degraded.Load() {
		return f.fallback.FindLatestByThread(ctx, threadID)
	}
	t, err := f.primary.FindLatestByThread(ctx, threadID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return f.trip(err).FindLatestByThread(ctx, threadID)
	}
	return t, err
}

var _ Registry = (*FallbackRegistry)(nil)
