// Package archive persists finalized TaskInfo records to MongoDB ahead
// of the Task Registry's TTL eviction, generalizing the teacher's
// task_ingestion_service/store.MongoTaskStore (a per-user task-history
// store) into a per-task-lifecycle archive keyed by task-id.
package archive

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DM-llm/deer-flow/internal/taskregistry"
)

// record is the document shape stored for one finalized task. It
// mirrors TaskInfo field-for-field rather than embedding it, so the
// archive's on-disk shape doesn't change silently if TaskInfo grows a
// field that shouldn't be archived.
type record struct {
	TaskID       string         `bson:"_id"`
	ThreadID     string         `bson:"thread_id"`
	UserInput    string         `bson:"user_input"`
	Status       string         `bson:"status"`
	Progress     float64        `bson:"progress"`
	CreatedAt    int64          `bson:"created_at"`
	StartedAt    *int64         `bson:"started_at,omitempty"`
	CompletedAt  *int64         `bson:"completed_at,omitempty"`
	ErrorMessage string         `bson:"error_message,omitempty"`
	Config       map[string]any `bson:"config,omitempty"`
}

// Archiver persists finalized TaskInfo records to a Mongo collection.
// It implements taskmanager.Archiver.
type Archiver struct {
	collection *mongo.Collection
}

// New builds an Archiver against an already-connected database.
func New(db *mongo.Database, collectionName string) *Archiver {
	return &Archiver{collection: db.Collection(collectionName)}
}

// Archive upserts info's terminal snapshot. Upsert makes this safe to
// call more than once for the same task (e.g. a retried cleanup pass).
func (a *Archiver) Archive(ctx context.Context, info *taskregistry.TaskInfo) error {
	rec := toRecord(info)
	filter := bson.M{"_id": rec.TaskID}
	update := bson.M{"$set": rec}
	opts := options.Update().SetUpsert(true)

	if _, err := a.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("archive: upsert %s: %w", rec.TaskID, err)
	}
	return nil
}

func toRecord(t *taskregistry.TaskInfo) record {
	rec := record{
		TaskID:       t.TaskID,
		ThreadID:     t.ThreadID,
		UserInput:    t.UserInput,
		Status:       string(t.Status),
		Progress:     t.Progress,
		CreatedAt:    t.CreatedAt.UnixMilli(),
		ErrorMessage: t.ErrorMessage,
		Config:       t.Config,
	}
	if t.StartedAt != nil {
		ms := t.StartedAt.UnixMilli()
		rec.StartedAt = &ms
	}
	if t.CompletedAt != nil {
		ms := t.CompletedAt.UnixMilli()
		rec.CompletedAt = &ms
	}
	return rec
}
