// Package mongo constructs the singleton MongoDB client backing
// internal/archive, mirroring the teacher's internal/database/mongo
// package.
package mongo

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DM-llm/deer-flow/internal/config"
)

var (
	client  *mongo.Client
	once    sync.Once
	initErr error
)

// GetClient connects on first call and returns the same client on
// every subsequent call.
func GetClient(cfg *config.MongoConfig) (*mongo.Client, error) {
	once.Do(func() {
		opts := options.Client().ApplyURI(cfg.Address)
		if cfg.Username != "" && cfg.Password != "" {
			opts.SetAuth(options.Credential{Username: cfg.Username, Password: cfg.Password})
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			initErr = fmt.Errorf("mongo: connect: %w", err)
			return
		}
		if err := c.Ping(ctx, nil); err != nil {
			initErr = fmt.Errorf("mongo: ping: %w", err)
			return
		}
		client = c
	})
	return client, initErr
}

// Close disconnects the singleton client, if one was created.
func Close(ctx context.Context) error {
	if client != nil {
		return client.Disconnect(ctx)
	}
	return nil
}

// HealthCheck pings the singleton client.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("mongo: client not initialized")
	}
	return client.Ping(ctx, nil)
}
