// Package contentstore offloads oversized canonical-event payload
// fields to object storage, generalizing the teacher's
// agent_service/store/content_processor.go (which uploads multimodal
// agent results to MinIO) to any string-valued event field that grows
// past a configured threshold — long tool_call_result bodies and
// large message_chunk content in particular.
package contentstore

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/DM-llm/deer-flow/pkg/logger"
)

// Offloader rewrites any field of data larger than its threshold into
// a reference URI, uploading the original value to object storage.
type Offloader interface {
	Offload(ctx context.Context, streamKey string, data map[string]any) map[string]any
}

// MinIOStore is the concrete Offloader backed by MinIO (the same
// client the teacher's ContentProcessor uses).
type MinIOStore struct {
	client       *minio.Client
	bucket       string
	thresholdLen int
	log          *logger.Logger
}

// NewMinIOStore builds an Offloader; thresholdBytes is the size above
// which a string field is moved to object storage.
func NewMinIOStore(client *minio.Client, bucket string, thresholdBytes int, log *logger.Logger) *MinIOStore {
	return &MinIOStore{client: client, bucket: bucket, thresholdLen: thresholdBytes, log: log}
}

// Offload inspects data's top-level string values; any longer than the
// configured threshold is uploaded and replaced with
// {"offloaded_uri": "...", "offloaded_bytes": N}. Failures degrade to
// leaving the field inline and logging a warning — an offload failure
// must never drop or corrupt an event (§7 TransportError policy
// applied to this optional enrichment).
func (m *MinIOStore) Offload(ctx context.Context, streamKey string, data map[string]any) map[string]any {
	if m == nil || m.client == nil {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		s, ok := v.(string)
		if !ok || len(s) <= m.thresholdLen {
			out[k] = v
			continue
		}
		uri, err := m.upload(ctx, streamKey, k, s)
		if err != nil {
			m.log.WithError(err).Warn("contentstore: offload failed, keeping payload inline")
			out[k] = v
			continue
		}
		out[k] = map[string]any{
			"offloaded_uri":   uri,
			"offloaded_bytes": len(s),
		}
	}
	return out
}

func (m *MinIOStore) upload(ctx context.Context, streamKey, field, value string) (string, error) {
	objectName := fmt.Sprintf("%s/%s/%s", streamKey, field, uuid.NewString())
	_, err := m.client.PutObject(ctx, m.bucket, objectName, bytes.NewReader([]byte(value)), int64(len(value)), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return "", fmt.Errorf("contentstore: PutObject %s/%s: %w", m.bucket, objectName, err)
	}
	return fmt.Sprintf("minio://%s/%s", m.bucket, objectName), nil
}

// NoOpStore is the Offloader used when MinIO isn't configured — a
// straight passthrough so callers never need a nil check.
type NoOpStore struct{}

func (NoOpStore) Offload(_ context.Context, _ string, data map[string]any) map[string]any { return data }

var (
	_ Offloader = (*MinIOStore)(nil)
	_ Offloader = NoOpStore{}
)
