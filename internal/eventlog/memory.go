package eventlog

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/offset"
)

// Memory is an in-process Store. It satisfies the same contract as the
// Redis-backed Store but loses all data on process restart — the
// fallback used when the backing store is unreachable (§4.1 "Failure
// mode"), and the default in tests.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream
}

type memStream struct {
	mu     sync.Mutex
	events []events.Event
	last   offset.ID
	notify chan struct{}
}

// NewMemory constructs an empty in-memory event log.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string]*memStream)}
}

func (m *Memory) stream(key string, create bool) *memStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[key]
	if !ok {
		if !create {
			return nil
		}
		s = &memStream{notify: make(chan struct{})}
		m.streams[key] = s
	}
	return s
}

func (m *Memory) Append(ctx context.Context, key string, kind events.Kind, threadID string, data map[string]any) (string, error) {
	s := m.stream(key, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	var id offset.ID
	if now > s.last.Timestamp {
		id = offset.ID{Timestamp: now, Seq: 0}
	} else {
		id = offset.ID{Timestamp: s.last.Timestamp, Seq: s.last.Seq + 1}
	}
	s.last = id

	// defensive copy so callers mutating their map afterward can't
	// corrupt an already-appended, supposedly-immutable event.
	dataCopy := make(map[string]any, len(data))
	for k, v := range data {
		dataCopy[k] = v
	}

	ev := events.Event{ID: id.String(), Kind: kind, ThreadID: threadID, Data: dataCopy}
	s.events = append(s.events, ev)

	close(s.notify)
	s.notify = make(chan struct{})

	return ev.ID, nil
}

func (m *Memory) Range(ctx context.Context, key, from, to string, limit int64) ([]events.Event, error) {
	s := m.stream(key, false)
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []events.Event
	for _, ev := range s.events {
		inRange, err := offset.InRange(ev.ID, from, to)
		if err != nil {
			return nil, err
		}
		if !inRange {
			continue
		}
		out = append(out, ev)
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Tail(ctx context.Context, key, from string, block time.Duration) ([]events.Event, error) {
	deadline := time.Now().Add(block)
	for {
		s := m.stream(key, false)
		if s != nil {
			s.mu.Lock()
			var out []events.Event
			for _, ev := range s.events {
				inRange, err := offset.InRange(ev.ID, from, offset.Unbounded)
				if err != nil {
					s.mu.Unlock()
					return nil, err
				}
				if inRange {
					out = append(out, ev)
				}
			}
			ch := s.notify
			s.mu.Unlock()
			if len(out) > 0 {
				return out, nil
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return nil, nil
			}
			select {
			case <-ch:
				continue
			case <-time.After(remaining):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Stream doesn't exist yet; wait for it to be created or time
		// out, polling at a modest interval.
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		wait := 50 * time.Millisecond
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) Length(ctx context.Context, key string) (int64, error) {
	s := m.stream(key, false)
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (m *Memory) Keys(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.streams {
		if g.Match(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.streams, key)
	return nil
}

// marshalData is used by callers (e.g. the Redis backend) that need a
// JSON-serializable view of an event's data map; kept here so both
// backends agree on the same encoding.
func marshalData(data map[string]any) ([]byte, error) {
	return json.Marshal(data)
}
