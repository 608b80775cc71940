// Package eventlog implements the append-only, per-stream-key event
// log (C1): the durable substrate every other component in this module
// reads from or writes to. See internal/offset for the ID arithmetic
// that makes range/tail resumable without redelivery.
package eventlog

import (
	"context"
	"time"

	"github.com/DM-llm/deer-flow/internal/events"
)

// Store is the contract any backing implementation must satisfy.
// Redis (Store implemented in redis.go) is the primary backend; Memory
// (memory.go) is the in-process fallback used when Redis is
// unreachable, and also the natural choice for tests.
type Store interface {
	// Append atomically appends one event to key and returns its
	// assigned ID. IDs are guaranteed strictly increasing within key.
	Append(ctx context.Context, key string, kind events.Kind, threadID string, data map[string]any) (string, error)

	// Range returns events on key with IDs in [from, to], in order, up
	// to limit. from is an inclusive lower bound — resuming with
	// from = offset.Next(lastID) never redelivers lastID but still
	// returns a real event whose ID happens to equal Next(lastID)
	// exactly. from="0" means from the start; to="+" means unbounded.
	Range(ctx context.Context, key, from, to string, limit int64) ([]events.Event, error)

	// Tail blocks up to block for events on key with IDs >= from
	// (the same inclusive lower bound as Range), returning as soon as
	// at least one exists or on timeout.
	Tail(ctx context.Context, key, from string, block time.Duration) ([]events.Event, error)

	// Length returns the number of events ever appended to key.
	Length(ctx context.Context, key string) (int64, error)

	// Keys lists stream keys matching a glob pattern, for
	// administrative/retention use.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Delete removes an entire stream, for retention sweeps.
	Delete(ctx context.Context, key string) error
}

// StreamKey builds the C1/§3.2 addressing token chat:{thread_id}:{task_id}.
func StreamKey(threadID, taskID string) string {
	return "chat:" + threadID + ":" + taskID
}
