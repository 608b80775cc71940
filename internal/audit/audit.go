// Package audit publishes a lifecycle event for every task that
// reaches a terminal state, generalizing the teacher's
// database/kafka.LogPublisher (which streams per-step agent log
// entries) into a coarser task-lifecycle trail: one message per
// completed/failed/cancelled transition.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/DM-llm/deer-flow/internal/taskregistry"
	"github.com/DM-llm/deer-flow/pkg/logger"
)

// LifecycleEvent is the wire shape published to Kafka on every
// terminal transition.
type LifecycleEvent struct {
	TaskID      string  `json:"task_id"`
	ThreadID    string  `json:"thread_id"`
	Status      string  `json:"status"`
	Progress    float64 `json:"progress"`
	Error       string  `json:"error,omitempty"`
	CreatedAt   int64   `json:"created_at"`
	CompletedAt int64   `json:"completed_at,omitempty"`
}

// Publisher writes a LifecycleEvent per terminal task transition. It
// implements taskmanager.AuditSink.
type Publisher struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// New builds a Publisher writing to topic across brokers.
func New(brokers []string, topic string, log *logger.Logger) *Publisher {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	})
	return &Publisher{writer: writer, log: log}
}

// RecordTransition publishes info's terminal snapshot. Failures are
// logged and swallowed: the audit trail is best-effort observability,
// never a gate on task finalization (spec §7 propagation policy
// applied to this enrichment).
func (p *Publisher) RecordTransition(ctx context.Context, info *taskregistry.TaskInfo) {
	if p == nil || p.writer == nil {
		return
	}
	ev := LifecycleEvent{
		TaskID:    info.TaskID,
		ThreadID:  info.ThreadID,
		Status:    string(info.Status),
		Progress:  info.Progress,
		Error:     info.ErrorMessage,
		CreatedAt: info.CreatedAt.UnixMilli(),
	}
	if info.CompletedAt != nil {
		ev.CompletedAt = info.CompletedAt.UnixMilli()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.log.WithError(err).Warn("audit: failed to marshal lifecycle event")
		return
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(info.TaskID), Value: payload}); err != nil {
		p.log.WithError(err).Warn("audit: failed to publish lifecycle event")
	}
}

// Close releases the underlying Kafka writer.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
