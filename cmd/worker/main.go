package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/bigbestmart/internal/config"
	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/email"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
	"github.com/joao-fontenele/bigbestmart/internal/messaging"
	"github.com/joao-fontenele/bigbestmart/internal/statusclient"
	"github.com/joao-fontenele/bigbestmart/internal/telemetry"
	"github.com/joao-fontenele/bigbestmart/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "worker",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	brokers := config.List("KAFKA_BROKERS")
	if len(brokers) == 0 {
		logger.Error("KAFKA_BROKERS environment variable is required")
		os.Exit(1)
	}

	emailServiceURL, err := config.Required("EMAIL_SERVICE_URL")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ordersServiceURL, err := config.Required("ORDERS_SERVICE_URL")
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	workerConfig := worker.DefaultConfig()
	maxRetries, err := config.Int("WORKER_MAX_RETRIES", int(workerConfig.MaxRetries))
	if err != nil || maxRetries < 0 {
		logger.Error("invalid configuration", "error", err, "WORKER_MAX_RETRIES", maxRetries)
		os.Exit(1)
	}
	workerConfig.MaxRetries = uint64(maxRetries)

	httpClient := telemetry.HTTPClient(10 * time.Second)
	fulfillmentActor := identity.Caller{ID: "fulfillment", Admin: true}
	updater := statusclient.New(ordersServiceURL, httpClient, fulfillmentActor)

	fulfillment := worker.NewFulfillmentHandler(updater, workerConfig, logger)
	notifications := worker.NewNotificationHandler(email.NewClient(emailServiceURL, httpClient), workerConfig, logger)

	fulfillmentConsumer := messaging.NewConsumer(brokers, domain.TopicFulfillmentEvents, "fulfillment-worker", logger)
	defer func() { _ = fulfillmentConsumer.Close() }()
	notificationConsumer := messaging.NewConsumer(brokers, domain.TopicOrderStatusChanged, "notification-worker", logger)
	defer func() { _ = notificationConsumer.Close() }()

	logger.Info("starting worker", "brokers", brokers, "max_retries", workerConfig.MaxRetries)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return fulfillmentConsumer.Consume(gctx, messaging.JSON(fulfillment.Handle))
	})
	g.Go(func() error {
		return notificationConsumer.Consume(gctx, messaging.JSON(notifications.Handle))
	})

	if err := g.Wait(); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Info("consumers stopped")
			return
		}
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
}
