package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SnakeO/gps-catcher/internal/api/handler"
	"github.com/SnakeO/gps-catcher/internal/api/router"
	"github.com/SnakeO/gps-catcher/internal/cache"
	"github.com/SnakeO/gps-catcher/internal/config"
	"github.com/SnakeO/gps-catcher/internal/messaging/rabbitmq"
	"github.com/SnakeO/gps-catcher/internal/protocol"
	"github.com/SnakeO/gps-catcher/internal/protocol/server"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the HTTP API, the device listeners and the background loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Initializing gps-catcher...")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// --- MQTT gateway ingestion ---
	var mqttClient mqtt.Client
	if cfg.MQTT.Broker != "" {
		mqttClient, err = config.NewMQTT(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		defer mqttClient.Disconnect(250)

		sub := server.NewMQTTSubscriber(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, a.ingest, logger)
		if err := sub.Start(); err != nil {
			return fmt.Errorf("mqtt subscribe failed: %w", err)
		}
		defer sub.Stop()
	}

	// --- TCP device listeners ---
	listeners := []struct {
		port int
		p    protocol.Protocol
	}{
		{cfg.TCP.GL200Port, protocol.GL200},
		{cfg.TCP.GPS306APort, protocol.GPS306A},
		{cfg.TCP.SmartBDGPSPort, protocol.SmartBDGPS},
	}
	for _, l := range listeners {
		if l.port == 0 {
			continue
		}
		srv, err := server.NewTCPServer(l.port, l.p, a.ingest, logger)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()
	}

	// --- HTTP API ---
	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := router.NewRouter(router.Handlers{
		Device:    handler.NewDeviceHandler(a.ingest, logger),
		Geofences: handler.NewGeofenceHandler(a.geofences, a.states, a.checker, a.dispatcher, logger),
		Health:    handler.NewHealthHandler(a.healthChecks(mqttClient)),
	}, cfg.Auth.JWTSecret, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("HTTP API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.ingest.Run(gctx)
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Ingest.SweepInterval, func(ctx context.Context) { sweepOnce(ctx, a, cfg.Ingest.SweepBatch) })
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Geofence.CheckInterval, func(ctx context.Context) { checkOnce(ctx, a) })
		return nil
	})
	g.Go(func() error {
		every(gctx, cfg.Dispatch.Interval, func(ctx context.Context) { dispatchOnce(ctx, a) })
		return nil
	})
	if a.amqp != nil {
		g.Go(func() error {
			consumer := rabbitmq.NewAlertConsumer(a.dispatcher, logger)
			if err := consumer.Consume(gctx, a.amqp, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue); err != nil {
				logger.WithError(err).Error("Alert consumer stopped, alerts wait for the dispatch loop")
			}
			return nil
		})
	}

	logger.Info("Service started successfully")
	<-gctx.Done()
	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gps-catcher shutdown complete")
	return nil
}

// every calls fn each interval until ctx is done. A zero interval disables it.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func sweepOnce(ctx context.Context, a *app, limit int) {
	n, err := a.ingest.Sweep(ctx, limit)
	if err != nil {
		logger.WithError(err).Error("Retry sweep failed")
		return
	}
	if n > 0 {
		logger.WithField("retried", n).Info("Retry sweep finished")
	}
}

func checkOnce(ctx context.Context, a *app) {
	if _, err := a.checker.Run(ctx); err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Debug("Geofence check already running elsewhere")
			return
		}
		logger.WithError(err).Error("Geofence check failed")
	}
}

func dispatchOnce(ctx context.Context, a *app) {
	result, err := a.dispatcher.DispatchPending(ctx)
	if err != nil {
		logger.WithError(err).Error("Alert dispatch failed")
		return
	}
	if result.Delivered+result.Failed > 0 {
		logger.WithFields(logrus.Fields{
			"delivered": result.Delivered,
			"failed":    result.Failed,
		}).Info("Alert dispatch finished")
	}
}
