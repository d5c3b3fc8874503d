package cli

import (
	"context"
	"database/sql"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"github.com/SnakeO/gps-catcher/internal/api/handler"
	"github.com/SnakeO/gps-catcher/internal/cache"
	"github.com/SnakeO/gps-catcher/internal/config"
	"github.com/SnakeO/gps-catcher/internal/core/repository"
	"github.com/SnakeO/gps-catcher/internal/core/service"
	"github.com/SnakeO/gps-catcher/internal/messaging/rabbitmq"
)

// app holds the connections and services every command is built from.
type app struct {
	db    *sql.DB
	gdb   *gorm.DB
	mongo *mongo.Database
	amqp  *amqp.Connection

	raw        repository.RawMessageRepository
	messages   repository.CanonicalMessageRepository
	locations  repository.LocationRepository
	geofences  repository.GeofenceRepository
	states     repository.FenceStateRepository
	alerts     repository.FenceAlertRepository
	watermarks repository.WatermarkRepository

	ingest     *service.IngestService
	checker    *service.GeofenceChecker
	dispatcher *service.AlertDispatcher

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	logger.Info("Connecting to PostgreSQL...")
	db, gdb, err := config.OpenPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	a.db, a.gdb = db, gdb
	a.closers = append(a.closers, func() { _ = db.Close() })

	if cfg.Mongo.URI != "" {
		mdb, disconnect, err := config.ConnectMongoDB(ctx, cfg.Mongo, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		a.mongo = mdb
		a.closers = append(a.closers, func() { _ = disconnect(context.Background()) })

		rawRepo := repository.NewMongoRawMessageRepository(mdb)
		if err := rawRepo.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("Failed to ensure raw message indexes")
		}
		a.raw = rawRepo
	} else {
		logger.Warn("MongoDB URI not provided, raw transmissions are kept in memory")
		a.raw = repository.NewInMemoryRawMessageRepository()
	}

	a.messages = repository.NewPostgresCanonicalRepository(db)
	a.locations = repository.NewPostgresLocationRepository(db)
	a.geofences = repository.NewGormGeofenceRepository(gdb)
	a.states = repository.NewPostgresFenceStateRepository(db)
	a.alerts = repository.NewPostgresFenceAlertRepository(db)
	a.watermarks = repository.NewPostgresWatermarkRepository(db)

	dedup, err := cache.NewDedupCache(a.messages, cfg.Ingest.DedupCacheSize)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	sender := service.NewCanonicalSender(a.messages, a.locations, dedup, logger)
	a.ingest = service.NewIngestService(a.raw, a.messages, dedup, sender, logger, service.IngestConfig{
		MaxAttempts: cfg.Ingest.MaxAttempts,
		Workers:     cfg.Ingest.Workers,
		QueueSize:   cfg.Ingest.QueueSize,
		ClaimLease:  cfg.Ingest.ClaimLease,
	})

	lock, closeLock, err := cache.NewLock(ctx, cfg.Redis.URL, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = closeLock() })

	var notifier service.AlertNotifier = service.NoopNotifier{}
	if cfg.RabbitMQ.URL != "" {
		conn, err := config.NewRabbitMQ(cfg.RabbitMQ)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, alerts wait for the dispatch loop")
		} else {
			a.amqp = conn
			a.closers = append(a.closers, func() { _ = conn.Close() })

			publisher, err := rabbitmq.NewAlertPublisher(conn, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue)
			if err != nil {
				logger.WithError(err).Warn("Failed to declare alert exchange, alerts wait for the dispatch loop")
			} else {
				notifier = publisher
			}
		}
	}

	a.checker = service.NewGeofenceChecker(a.locations, a.geofences, a.states, repository.NewPostgresTransactor(a.gdb), a.watermarks,
		lock, notifier, logger, service.CheckerConfig{
			BatchSize:   cfg.Geofence.BatchSize,
			Concurrency: cfg.Geofence.Concurrency,
			LockTTL:     cfg.Geofence.LockTTL,
		})
	a.dispatcher = service.NewAlertDispatcher(a.alerts, nil, logger, service.DispatcherConfig{
		BatchSize:   cfg.Dispatch.BatchSize,
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		Timeout:     cfg.Dispatch.HTTPTimeout,
		ClaimLease:  cfg.Dispatch.ClaimLease,
	})
	return a, nil
}

// healthChecks probes every connection the app holds.
func (a *app) healthChecks(mqttClient mqtt.Client) map[string]handler.HealthCheck {
	checks := map[string]handler.HealthCheck{
		"postgres": a.db.PingContext,
	}
	if a.mongo != nil {
		client := a.mongo.Client()
		checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}
	if a.amqp != nil {
		conn := a.amqp
		checks["rabbitmq"] = func(context.Context) error {
			if conn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}
	}
	if mqttClient != nil {
		checks["mqtt"] = func(context.Context) error {
			if !mqttClient.IsConnected() {
				return fmt.Errorf("not connected")
			}
			return nil
		}
	}
	return checks
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
