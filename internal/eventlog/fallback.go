package eventlog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// FallbackStore wraps a primary Store (normally Redis) with an
// in-memory Memory store it switches to permanently — for the life of
// the process — the first time the primary returns an error. This is
// the §4.1/§7 TransportError policy: liveness is preserved, durability
// is not, and no error is ever surfaced to the caller on account of
// the primary being down. A process restart is required to try the
// primary again.
type FallbackStore struct {
	primary  Store
	fallback Store
	degraded atomic.Bool
	log      *logger.Logger
}

// NewFallbackStore builds a Store that prefers primary and falls back
// to an in-memory Memory store on the first primary failure.
func NewFallbackStore(primary Store, log *logger.Logger) *FallbackStore {
	return &FallbackStore{primary: primary, fallback: NewMemory(), log: log}
}

// Degraded reports whether this store has fallen back to memory.
func (f *FallbackStore) Degraded() bool {
	return f.degraded.Load()
}

func (f *FallbackStore) active() Store {
	if f.degraded.Load() {
		return f.fallback
	}
	return f.primary
}

func (f *FallbackStore) trip(err error) Store {
	if f.degraded.CompareAndSwap(false, true) {
		f.log.WithError(err).Warn("eventlog: backing store unreachable, falling back to in-memory log")
		metrics.SetFallbackDegraded("eventlog", true)
	}
	return f.fallback
}

func (f *FallbackStore) Append(ctx context.Context, key string, kind events.Kind, threadID string, data map[string]any) (string, error) {
	if f.degraded.Load() {
		return f.fallback.Append(ctx, key, kind, threadID, data)
	}
	id, err := f.primary.Append(ctx, key, kind, threadID, data)
	if err != nil {
		return f.trip(err).Append(ctx, key, kind, threadID, data)
	}
	return id, nil
}

func (f *FallbackStore) Range(ctx context.Context, key, from, to string, limit int64) ([]events.Event, error) {
	if f.degraded.Load() {
		return f.fallback.Range(ctx, key, from, to, limit)
	}
	evs, err := f.primary.Range(ctx, key, from, to, limit)
	if err != nil {
		return f.trip(err).Range(ctx, key, from, to, limit)
	}
	return evs, nil
}

func (f *FallbackStore) Tail(ctx context.Context, key, from string, block time.Duration) ([]events.Event, error) {
	if f.degraded.Load() {
		return f.fallback.Tail(ctx, key, from, block)
	}
	evs, err := f.primary.Tail(ctx, key, from, block)
	if err != nil {
		return f.trip(err).Tail(ctx, key, from, block)
	}
	return evs, nil
}

func (f *FallbackStore) Length(ctx context.Context, key string) (int64, error) {
	if f.degraded.Load() {
		return f.fallback.Length(ctx, key)
	}
	n, err := f.primary.Length(ctx, key)
	if err != nil {
		return f.trip(err).Length(ctx, key)
	}
	return n, nil
}

func (f *FallbackStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	if f.degraded.Load() {
		return f.fallback.Keys(ctx, pattern)
	}
	keys, err := f.primary.Keys(ctx, pattern)
	if err != nil {
		return f.trip(err).Keys(ctx, pattern)
	}
	return keys, nil
}

func (f *FallbackStore) Delete(ctx context.Context, key string) error {
	if f.degraded.Load() {
		return f.fallback.Delete(ctx, key)
	}
	if err := f.primary.Delete(ctx, key); err != nil {
		return f.trip(err).Delete(ctx, key)
	}
	return nil
}

var _ Store = (*FallbackStore)(nil)
