package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/joao-fontenele/bigbestmart/internal/config"
	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/messaging"
	"github.com/joao-fontenele/bigbestmart/internal/orders"
	"github.com/joao-fontenele/bigbestmart/internal/statussync"
	"github.com/joao-fontenele/bigbestmart/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "orders",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	var db orders.Persistence
	if postgresURL := config.String("POSTGRES_URL", ""); postgresURL != "" {
		sqlDB, err := telemetry.OpenPostgres(ctx, postgresURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = sqlDB.Close() }()
		db = orders.NewOrderRepository(sqlDB)
	} else {
		logger.Warn("POSTGRES_URL not set, orders are kept in memory")
		db = orders.NewMemoryRepository()
	}

	var publisher orders.EventPublisher
	if brokers := config.List("KAFKA_BROKERS"); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers, domain.TopicOrderStatusChanged)
		defer func() { _ = producer.Close() }()
		publisher = producer
	}

	store, err := orders.NewStore(db, publisher, logger)
	if err != nil {
		logger.Error("failed to create order store", "error", err)
		os.Exit(1)
	}
	ordersHandler := orders.NewHandler(store, logger)
	statusHandler := statussync.NewHandler(statussync.NewService(store), logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(ordersHandler.HandleList))
	mux.HandleFunc("POST /orders", telemetry.WithHTTPRoute(ordersHandler.HandleCreate))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(ordersHandler.HandleGet))
	mux.HandleFunc("GET /order/status/{orderId}", telemetry.WithHTTPRoute(statusHandler.HandleGetStatus))
	mux.HandleFunc("PUT /order/status/{orderId}", telemetry.WithHTTPRoute(statusHandler.HandleSetStatus))
	mux.Handle("GET /metrics", tel.MetricsHandler)

	port := config.String("PORT", "8081")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.Handler(mux, "orders"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting orders service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
