package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongoDB opens the raw archive database. The returned close func
// disconnects the client.
func ConnectMongoDB(ctx context.Context, cfg MongoConfig, logger logrus.FieldLogger) (*mongo.Database, func(context.Context) error, error) {
	if cfg.URI == "" {
		return nil, nil, fmt.Errorf("MongoDB URI not provided")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	logger.Info("Attempting to connect to MongoDB")

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %v", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to ping MongoDB: %v", err)
	}

	logger.WithField("database", cfg.Database).Info("Successfully connected to MongoDB")
	return client.Database(cfg.Database), client.Disconnect, nil
}
