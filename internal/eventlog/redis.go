package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/offset"
)

const (
	fieldKind     = "kind"
	fieldThreadID = "thread_id"
	fieldData     = "data"
)

// Redis backs the event log with Redis Streams (XADD/XRANGE/XREAD/
// XLEN/KEYS/DEL), the backing store the spec describes as "conceptually
// equivalent to Redis Streams semantics" (§4.1). Redis assigns stream
// IDs in the same "<ms-timestamp>-<seq>" shape this module's offset
// package expects, so no translation is needed at the boundary.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already-connected *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Append(ctx context.Context, key string, kind events.Kind, threadID string, data map[string]any) (string, error) {
	payload, err := marshalData(data)
	if err != nil {
		return "", fmt.Errorf("eventlog: marshal payload: %w", err)
	}
	id, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		ID:     "*",
		Values: map[string]interface{}{
			fieldKind:     string(kind),
			fieldThreadID: threadID,
			fieldData:     payload,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("eventlog: XADD %s: %w", key, err)
	}
	return id, nil
}

// Range's from is an inclusive lower bound (internal/offset.InRange):
// XRANGE's start argument is inclusive by default, so passing from
// unmodified is exactly what's needed — unlike XREAD (see Tail), no
// translation is required here.
func (r *Redis) Range(ctx context.Context, key, from, to string, limit int64) ([]events.Event, error) {
	start := "-"
	if from != offset.Zero && from != "" {
		start = from
	}
	stop := to
	if stop == "" {
		stop = offset.Unbounded
	}

	msgs, err := r.client.XRangeN(ctx, key, start, stop, limit).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: XRANGE %s: %w", key, err)
	}
	return decodeMessages(msgs)
}

// Tail's from is likewise an inclusive lower bound, but XREAD only
// supports an exclusive one (it always returns IDs strictly greater
// than the given ID), so it's called with offset.Prev(from) to shift
// the boundary back by one — asking for "greater than the ID just
// before from" is the same set as "greater than or equal to from".
func (r *Redis) Tail(ctx context.Context, key, from string, block time.Duration) ([]events.Event, error) {
	id := offset.Zero
	if from != "" && from != offset.Zero {
		id = offset.Prev(from)
	}
	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{key, id},
		Block:   block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: XREAD %s: %w", key, err)
	}
	for _, stream := range res {
		if stream.Stream == key {
			return decodeMessages(stream.Messages)
		}
	}
	return nil, nil
}

func (r *Redis) Length(ctx context.Context, key string) (int64, error) {
	n, err := r.client.XLen(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("eventlog: XLEN %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := r.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("eventlog: KEYS %s: %w", pattern, err)
	}
	return keys, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("eventlog: DEL %s: %w", key, err)
	}
	return nil
}

func decodeMessages(msgs []redis.XMessage) ([]events.Event, error) {
	out := make([]events.Event, 0, len(msgs))
	for _, msg := range msgs {
		ev := events.Event{ID: msg.ID}
		if kind, ok := msg.Values[fieldKind].(string); ok {
			ev.Kind = events.Kind(kind)
		}
		if threadID, ok := msg.Values[fieldThreadID].(string); ok {
			ev.ThreadID = threadID
		}
		if raw, ok := msg.Values[fieldData].(string); ok && raw != "" {
			var data map[string]any
			if err := json.Unmarshal([]byte(raw), &data); err != nil {
				return nil, fmt.Errorf("eventlog: unmarshal payload for %s: %w", msg.ID, err)
			}
			ev.Data = data
		}
		out = append(out, ev)
	}
	return out, nil
}
