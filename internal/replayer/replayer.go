// Package replayer implements the Replayer (C6): serves one client's
// SSE stream by ranging the Event Log historically and, in continuous
// mode, tailing live appends, with correct offset-resume arithmetic
// (spec §4.6).
package replayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DM-llm/deer-flow/internal/eventlog"
	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/metrics"
	"github.com/DM-llm/deer-flow/internal/offset"
	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// aliasing query-ids that mean "newest task on this thread" (spec §4.6,
// §6).
const (
	AliasDefault = "default"
	AliasLatest  = "latest"
)

// Frame is one SSE message: `event: <Event>\ndata: <Data>\n\n`.
type Frame struct {
	Event string
	Data  []byte
}

// Sink receives frames as they're produced. Send returning an error
// (typically because the underlying transport is gone) stops the
// replay loop — this is how client disconnect is detected (spec §4.6
// step 7).
type Sink interface {
	Send(ctx context.Context, frame Frame) error
}

// defaultBatchSize bounds one historical range() call (spec §9
// resource model: bounded batch reads, never an unbounded scan) when
// the caller doesn't supply a configured one.
const defaultBatchSize = 200

// defaultTailBlock is how long one continuous-phase tail() call may
// block before returning empty (spec §4.6 step 6) when the caller
// doesn't supply a configured one.
const defaultTailBlock = time.Second

// Replayer drives the read-side protocol against a Store and a
// Registry. It holds no per-connection state; Replay is safe to call
// concurrently for independent connections (spec §4.6 fan-out).
type Replayer struct {
	store     eventlog.Store
	registry  taskregistry.Registry
	log       *logger.Logger
	batchSize int64
	tailBlock time.Duration
}

// New builds a Replayer. batchSize and tailBlock come from
// config.EventLogConfig (RangeBatchSize / TailBlockDuration); a
// value <= 0 falls back to this package's own default.
func New(store eventlog.Store, registry taskregistry.Registry, batchSize int64, tailBlock time.Duration, log *logger.Logger) *Replayer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if tailBlock <= 0 {
		tailBlock = defaultTailBlock
	}
	return &Replayer{store: store, registry: registry, batchSize: batchSize, tailBlock: tailBlock, log: log}
}

// Replay resolves queryID against threadID, then runs the historical
// and (if continuous) continuous phases, writing every frame to sink,
// until termination (spec §4.6). from is the starting offset ("0" for
// the beginning of the stream).
func (r *Replayer) Replay(ctx context.Context, threadID, queryID, from string, continuous bool, sink Sink) error {
	metrics.ReplayConnectionsActive.Inc()
	defer metrics.ReplayConnectionsActive.Dec()

	taskID, err := r.resolveTaskID(ctx, threadID, queryID)
	if errors.Is(err, taskregistry.ErrNotFound) {
		return sink.Send(ctx, emptyReplayEndFrame())
	}
	if err != nil {
		return fmt.Errorf("replayer: resolve query_id: %w", err)
	}

	streamKey := eventlog.StreamKey(threadID, taskID)
	cursor := from
	if cursor == "" {
		cursor = offset.Zero
	}

	total, err := r.runHistorical(ctx, streamKey, &cursor, sink)
	if err != nil {
		return err
	}

	if !continuous {
		return sink.Send(ctx, staticReplayEndFrame(total))
	}

	return r.runContinuous(ctx, streamKey, taskID, &cursor, sink)
}

func (r *Replayer) resolveTaskID(ctx context.Context, threadID, queryID string) (string, error) {
	if queryID != AliasDefault && queryID != AliasLatest {
		return queryID, nil
	}
	task, err := r.registry.FindLatestByThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	return task.TaskID, nil
}

// runHistorical repeatedly ranges from cursor to the end of the
// stream, forwarding every event and advancing cursor with
// offset.Next — never with the last delivered event's own ID (spec
// §4.6, "forbidden" note: re-using the last ID as from_id re-reads it
// forever). Range/Tail treat from_id as inclusive, so Next(lastID)
// still catches a same-millisecond successor instead of skipping it.
func (r *Replayer) runHistorical(ctx context.Context, streamKey string, cursor *string, sink Sink) (int, error) {
	total := 0
	for {
		if ctx.Err() != nil {
			return total, nil
		}
		batch, err := r.store.Range(ctx, streamKey, *cursor, offset.Unbounded, r.batchSize)
		if err != nil {
			return total, fmt.Errorf("replayer: range: %w", err)
		}
		if len(batch) == 0 {
			return total, nil
		}
		for _, ev := range batch {
			if err := sink.Send(ctx, eventFrame(ev)); err != nil {
				return total, nil // client disconnected; not an error condition
			}
			*cursor = offset.Next(ev.ID)
			total++
		}
	}
}

// runContinuous tails live appends until a terminal event is
// forwarded, the task reaches a terminal registry state with no
// trailing events, or the client disconnects (spec §4.6 step 6).
func (r *Replayer) runContinuous(ctx context.Context, streamKey, taskID string, cursor *string, sink Sink) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		batch, err := r.store.Tail(ctx, streamKey, *cursor, r.tailBlock)
		if err != nil {
			return fmt.Errorf("replayer: tail: %w", err)
		}

		if len(batch) == 0 {
			task, err := r.registry.Get(ctx, taskID)
			if err == nil && task.Status.Terminal() {
				return nil
			}
			continue
		}

		for _, ev := range batch {
			if err := sink.Send(ctx, eventFrame(ev)); err != nil {
				return nil
			}
			*cursor = offset.Next(ev.ID)
			if ev.Kind.Terminal() {
				return nil
			}
		}
	}
}

func eventFrame(ev events.Event) Frame {
	payload := make(map[string]any, len(ev.Data)+2)
	for k, v := range ev.Data {
		payload[k] = v
	}
	payload["id"] = ev.ID
	payload["thread_id"] = ev.ThreadID
	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal failure on a map of already-JSON-safe values shouldn't
		// happen; fall back to an empty object rather than lose the frame.
		data = []byte("{}")
	}
	return Frame{Event: string(ev.Kind), Data: data}
}

func staticReplayEndFrame(total int) Frame {
	data, _ := json.Marshal(map[string]any{"mode": "static", "total_events": total})
	return Frame{Event: string(events.KindReplayEnd), Data: data}
}

func emptyReplayEndFrame() Frame {
	data, _ := json.Marshal(map[string]any{"mode": "none", "total_events": 0})
	return Frame{Event: string(events.KindReplayEnd), Data: data}
}
