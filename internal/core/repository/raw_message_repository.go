package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SnakeO/gps-catcher/internal/core/model"
)

var _ RawMessageRepository = (*MongoRawMessageRepository)(nil)

const mongoTimeout = 5 * time.Second

type MongoRawMessageRepository struct {
	collection *mongo.Collection
}

func NewMongoRawMessageRepository(db *mongo.Database) *MongoRawMessageRepository {
	return &MongoRawMessageRepository{
		collection: db.Collection("raw_messages"),
	}
}

// EnsureIndexes creates the index the retry sweep filters on.
func (r *MongoRawMessageRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "processed_stage", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func (r *MongoRawMessageRepository) Create(ctx context.Context, msg *model.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := r.collection.InsertOne(ctx, msg)
	return err
}

func (r *MongoRawMessageRepository) Update(ctx context.Context, msg *model.RawMessage) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	msg.UpdatedAt = time.Now().UTC()
	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRawMessageRepository) FindByID(ctx context.Context, id string) (*model.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	var msg model.RawMessage
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *MongoRawMessageRepository) FindRetryable(ctx context.Context, maxAttempts int, claimedBefore time.Time, limit int) ([]*model.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()

	filter := bson.M{
		"status":   model.RawStatusOK,
		"attempts": bson.M{"$lt": maxAttempts},
		"$or": bson.A{
			bson.M{"processed_stage": model.StagePending},
			bson.M{"processed_stage": model.StageClaimed, "updated_at": bson.M{"$lt": claimedBefore}},
		},
	}
	opts := options.Find().SetSort(bson.M{"created_at": 1}).SetLimit(int64(limit))
	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var messages []*model.RawMessage
	if err = cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
