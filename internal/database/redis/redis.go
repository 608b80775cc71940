// Package redis constructs the singleton go-redis client the Event
// Log and Task Registry's Redis-backed implementations share,
// mirroring the teacher's internal/database/redis package (a
// sync.Once-guarded GetClient/Close/HealthCheck trio).
package redis

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/DM-llm/deer-flow/internal/config"
)

var (
	client  *redis.Client
	once    sync.Once
	initErr error
)

// GetClient connects on first call and returns the same client on
// every subsequent call.
func GetClient(cfg *config.RedisConfig) (*redis.Client, error) {
	once.Do(func() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Address,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			initErr = fmt.Errorf("redis: connect: %w", err)
			return
		}
		client = rdb
	})
	return client, initErr
}

// Close releases the singleton client, if one was created.
func Close() error {
	if client != nil {
		return client.Close()
	}
	return nil
}

// HealthCheck pings the singleton client.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("redis: client not initialized")
	}
	return client.Ping(ctx).Err()
}
