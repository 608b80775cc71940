package taskregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "task:"

func taskKey(taskID string) string { return keyPrefix + taskID }
func threadIndexKey(threadID string) string { return "thread:" + threadID + ":tasks" }

// Redis backs the Task Registry with a Redis string per task (JSON
// encoded TaskInfo, with TTL applied once the task reaches a terminal
// state) plus a per-thread sorted set (score = CreatedAt) used to
// resolve FindLatestByThread and to list a thread's tasks.
//
// Updates take a process-local per-task mutex rather than a Redis
// transaction: spec §3.2 makes the Task Manager the sole mutator of
// any given TaskInfo, so there is never genuine cross-process
// contention to arbitrate, only the read-modify-write race within
// this process.
type Redis struct {
	client *redis.Client

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewRedis wraps an already-connected *redis.Client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, locks: make(map[string]*sync.Mutex)}
}

func (r *Redis) lockFor(taskID string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[taskID] = l
	}
	return l
}

func (r *Redis) Create(ctx context.Context, info *TaskInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("taskregistry: marshal: %w", err)
	}
	ok, err := r.client.SetNX(ctx, taskKey(info.TaskID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("taskregistry: SETNX %s: %w", info.TaskID, err)
	}
	if !ok {
		return fmt.Errorf("taskregistry: task %s already exists", info.TaskID)
	}
	score := float64(info.CreatedAt.UnixMilli())
	if err := r.client.ZAdd(ctx, threadIndexKey(info.ThreadID), &redis.Z{Score: score, Member: info.TaskID}).Err(); err != nil {
		return fmt.Errorf("taskregistry: ZADD %s: %w", info.ThreadID, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, taskID string) (*TaskInfo, error) {
	raw, err := r.client.Get(ctx, taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("taskregistry: GET %s: %w", taskID, err)
	}
	var t TaskInfo
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("taskregistry: unmarshal %s: %w", taskID, err)
	}
	return &t, nil
}

func (r *Redis) Update(ctx context.Context, taskID string, mutate func(*TaskInfo) error) error {
	lock := r.lockFor(taskID)
	lock.Lock()
	defer lock.Unlock()

	current, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	prevStatus, prevProgress := current.Status, current.Progress
	if err := mutate(current); err != nil {
		return err
	}
	if err := ValidateTransition(prevStatus, current.Status); err != nil {
		return err
	}
	if current.Progress < prevProgress {
		return fmt.Errorf("taskregistry: progress must be monotone non-decreasing (%.3f -> %.3f)", prevProgress, current.Progress)
	}

	payload, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("taskregistry: marshal %s: %w", taskID, err)
	}

	var ttl time.Duration
	if current.Status.Terminal() {
		ttl = time.Until(current.ExpiresAt())
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}
	if err := r.client.Set(ctx, taskKey(taskID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("taskregistry: SET %s: %w", taskID, err)
	}
	return nil
}

func (r *Redis) List(ctx context.Context, filter Filter) ([]*TaskInfo, error) {
	var taskIDs []string
	sortedByIndex := filter.ThreadID != ""
	if sortedByIndex {
		ids, err := r.client.ZRevRange(ctx, threadIndexKey(filter.ThreadID), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("taskregistry: ZREVRANGE %s: %w", filter.ThreadID, err)
		}
		taskIDs = ids
	} else {
		keys, err := r.client.Keys(ctx, keyPrefix+"*").Result()
		if err != nil {
			return nil, fmt.Errorf("taskregistry: KEYS: %w", err)
		}
		for _, k := range keys {
			taskIDs = append(taskIDs, k[len(keyPrefix):])
		}
	}

	var out []*TaskInfo
	for _, id := range taskIDs {
		t, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue // TTL-expired between index read and fetch
		}
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, t)
	}

	// KEYS returns no meaningful order; sort by CreatedAt desc to match
	// Memory.List so GET /tasks pagination is consistent across
	// backends. The ZREVRANGE path is already newest-first.
	if !sortedByIndex {
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Redis) Delete(ctx context.Context, taskID string) error {
	t, err := r.Get(ctx, taskID)
	if err == nil {
		r.client.ZRem(ctx, threadIndexKey(t.ThreadID), taskID)
	}
	if err := r.client.Del(ctx, taskKey(taskID)).Err(); err != nil {
		return fmt.Errorf("taskregistry: DEL %s: %w", taskID, err)
	}
	return nil
}

func (r *Redis) FindLatestByThread(ctx context.Context, threadID string) (*TaskInfo, error) {
	ids, err := r.client.ZRevRange(ctx, threadIndexKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("taskregistry: ZREVRANGE %s: %w", threadID, err)
	}
	for _, id := range ids {
		t, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.Status == StatusCancelled {
			continue
		}
		return t, nil
	}
	return nil, ErrNotFound
}

var _ Registry = (*Redis)(nil)
