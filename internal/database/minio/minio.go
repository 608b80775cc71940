// Package minio constructs the singleton MinIO client backing
// internal/contentstore, mirroring the teacher's
// internal/database/minio package.
package minio

import (
	"context"
	"fmt"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/DM-llm/deer-flow/internal/config"
)

var (
	client  *minio.Client
	once    sync.Once
	initErr error
)

// GetClient connects on first call and returns the same client on
// every subsequent call.
func GetClient(cfg *config.MinIOConfig) (*minio.Client, error) {
	once.Do(func() {
		c, err := minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.Secure,
		})
		if err != nil {
			initErr = fmt.Errorf("minio: new client: %w", err)
			return
		}
		if _, err := c.ListBuckets(context.Background()); err != nil {
			initErr = fmt.Errorf("minio: health check: %w", err)
			return
		}
		client = c
	})
	return client, initErr
}

// HealthCheck lists buckets to verify connectivity and credentials.
func HealthCheck(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("minio: client not initialized")
	}
	_, err := client.ListBuckets(ctx)
	return err
}
