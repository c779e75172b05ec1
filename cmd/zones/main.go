package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/bigbestmart/internal/config"
	"github.com/joao-fontenele/bigbestmart/internal/eligibility"
	"github.com/joao-fontenele/bigbestmart/internal/telemetry"
	"github.com/joao-fontenele/bigbestmart/internal/zones"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	tel, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    "zones",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   config.String("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	})
	if err != nil {
		logger.Error("failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() { _ = tel.Shutdown(ctx) }()

	evalConfig, err := loadEligibilityConfig()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	source, closeSource, err := openSource(ctx, logger)
	if err != nil {
		logger.Error("failed to open zone data", "error", err)
		os.Exit(1)
	}
	defer closeSource()

	var store zones.Source = source
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		ttl, err := config.Duration("ZONE_CACHE_TTL", time.Minute)
		if err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer func() { _ = client.Close() }()
		store = eligibility.NewCachedStore(source, client, ttl, logger)
		logger.Info("zone cache enabled", "addr", redisAddr, "ttl", ttl)
	}

	evaluator, err := eligibility.NewEvaluator(store, evalConfig, logger)
	if err != nil {
		logger.Error("failed to create evaluator", "error", err)
		os.Exit(1)
	}

	zonesHandler := zones.NewHandler(store, logger)
	cartHandler := eligibility.NewHandler(evaluator, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /zones", telemetry.WithHTTPRoute(zonesHandler.HandleList))
	mux.HandleFunc("GET /zones/product/{productId}", telemetry.WithHTTPRoute(zonesHandler.HandleProductZones))
	mux.HandleFunc("POST /zones/{zoneId}/activate", telemetry.WithHTTPRoute(zonesHandler.HandleActivate))
	mux.HandleFunc("POST /zones/{zoneId}/deactivate", telemetry.WithHTTPRoute(zonesHandler.HandleDeactivate))
	mux.HandleFunc("POST /cart/availability", telemetry.WithHTTPRoute(cartHandler.HandleAvailability))
	mux.Handle("GET /metrics", tel.MetricsHandler)

	port := config.String("PORT", "8082")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.Handler(mux, "zones"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting zones service", "port", port, "no_zone_policy", evalConfig.NoZonePolicy)
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

func loadEligibilityConfig() (eligibility.Config, error) {
	raw, err := config.Required("ELIGIBILITY_NO_ZONE_POLICY")
	if err != nil {
		return eligibility.Config{}, err
	}
	policy, err := eligibility.ParseNoZonePolicy(raw)
	if err != nil {
		return eligibility.Config{}, err
	}
	concurrency, err := config.Int("ELIGIBILITY_LOOKUP_CONCURRENCY", 0)
	if err != nil {
		return eligibility.Config{}, err
	}
	return eligibility.Config{NoZonePolicy: policy, LookupConcurrency: concurrency}, nil
}

// openSource prefers Postgres, seeding it from ZONES_FILE when both are set,
// and otherwise serves the file from memory.
func openSource(ctx context.Context, logger *slog.Logger) (zones.Source, func(), error) {
	postgresURL := config.String("POSTGRES_URL", "")
	zonesFile := config.String("ZONES_FILE", "")

	var catalog *zones.Catalog
	if zonesFile != "" {
		var err error
		if catalog, err = zones.LoadFile(zonesFile); err != nil {
			return nil, nil, err
		}
	}

	if postgresURL == "" {
		if catalog == nil {
			return nil, nil, errors.New("either POSTGRES_URL or ZONES_FILE must be set")
		}
		logger.Info("serving zones from file", "path", zonesFile, "zones", len(catalog.Zones))
		return zones.NewStaticSource(catalog), func() {}, nil
	}

	db, err := telemetry.OpenPostgres(ctx, postgresURL)
	if err != nil {
		return nil, nil, err
	}
	repo := zones.NewZoneRepository(db)

	if catalog != nil {
		if err := repo.Import(ctx, catalog); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		logger.Info("zone file imported", "path", zonesFile, "zones", len(catalog.Zones))
	}

	return repo, func() { _ = db.Close() }, nil
}
