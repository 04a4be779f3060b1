package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"

	"skymirror/internal/database/models"
)

// PostLogCollection is where mirrored posts are recorded.
const PostLogCollection = "post_logs"

const writeTimeout = 5 * time.Second

// PostLogger defines the interface for logging mirrored posts.
type PostLogger interface {
	// LogPublishedPost records a post that was created on the destination.
	LogPublishedPost(ctx context.Context, entry models.PostLog) error
}

// MongoPostLog implements PostLogger on a MongoDB collection.
type MongoPostLog struct {
	coll *mongo.Collection
}

// NewMongoPostLog returns a PostLogger writing to db.post_logs.
func NewMongoPostLog(db *mongo.Database) *MongoPostLog {
	return &MongoPostLog{coll: db.Collection(PostLogCollection)}
}

// LogPublishedPost inserts entry. The write gets its own timeout so a slow
// database never holds up the mirroring loop.
func (m *MongoPostLog) LogPublishedPost(ctx context.Context, entry models.PostLog) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if entry.PublishedAt.IsZero() {
		entry.PublishedAt = time.Now().UTC()
	}
	if _, err := m.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert post log into collection '%s': %w", PostLogCollection, err)
	}
	return nil
}

// NopPostLog discards every entry. Used when no database is configured.
type NopPostLog struct{}

func (NopPostLog) LogPublishedPost(context.Context, models.PostLog) error { return nil }
