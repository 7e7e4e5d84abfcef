package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shipbridge/courier-gateway/internal/config"
	"github.com/shipbridge/courier-gateway/internal/jobs"
	"github.com/shipbridge/courier-gateway/internal/refresher"
	"github.com/shipbridge/courier-gateway/internal/server"
	"github.com/shipbridge/courier-gateway/internal/shipments"
	"github.com/shipbridge/courier-gateway/internal/shipments/postgres"
	"github.com/shipbridge/courier-gateway/internal/telemetry"
	"github.com/shipbridge/courier-gateway/internal/webhook"
	"github.com/shipbridge/courier-gateway/pkg/courier"
	"github.com/shipbridge/courier-gateway/pkg/courier/aramex"
	"github.com/shipbridge/courier-gateway/pkg/courier/breaker"
	"github.com/shipbridge/courier-gateway/pkg/courier/transport"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const drainTimeout = 30 * time.Second

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(cfg *config.Config) (*otelzap.Logger, error) {
	return telemetry.NewLogger(cfg.LogLevel, cfg.LogFile)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	return postgres.Open(cfg.PostgresDSN)
}

func migrateDatabase(db *gorm.DB) error {
	return postgres.Migrate(db)
}

func openRedis(cfg *config.Config) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// app holds the wired service graph for one serve run.
type app struct {
	registry   *courier.Registry
	server     *server.Server
	dispatcher *jobs.Dispatcher
	rdb        redis.UniversalClient
}

// Close releases the app's external connections.
func (a *app) Close() {
	a.rdb.Close()
}

func buildApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) (*app, error) {
	rdb, err := openRedis(cfg)
	if err != nil {
		return nil, err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup", zap.Error(err))
	}

	db, err := openDatabase(cfg)
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	repo := postgres.NewRepository(db)

	metrics := telemetry.NewMetrics()

	registry := initCourierRegistry(cfg, rdb, metrics, logger, tracer)

	dispatcher := jobs.NewDispatcher(ctx, logger)

	shipmentService := shipments.NewService(registry, repo, dispatcher, rdb,
		shipments.CacheConfig{
			TerminalTTL: cfg.TrackingCacheTerminalTTL,
			ActiveTTL:   cfg.TrackingCacheActiveTTL,
		}, logger, metrics)
	shipmentService.RegisterJobs()

	verifier := webhook.NewVerifier(webhookSecrets(cfg), rdb, webhook.VerifierConfig{
		MaxAge:       cfg.WebhookMaxAge,
		ReplayWindow: cfg.WebhookReplayWindow,
	}, logger)
	webhookService := webhook.NewService(verifier, shipmentService, logger).WithMetrics(metrics)

	if cfg.RefresherEnabled {
		r := refresher.New(shipmentService, cfg.RefresherSchedule, cfg.RefresherBatch, logger)
		if err := r.Start(ctx); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("starting tracking refresher: %w", err)
		}
	}

	go watchBreakers(ctx, registry, metrics)

	srv := server.New(server.Config{Port: cfg.Port}, registry, shipmentService, webhookService, logger)
	return &app{registry: registry, server: srv, dispatcher: dispatcher, rdb: rdb}, nil
}

func initCourierRegistry(cfg *config.Config, rdb redis.UniversalClient, metrics *telemetry.Metrics, logger *otelzap.Logger, tracer trace.Tracer) *courier.Registry {
	registry := courier.NewRegistry()

	tc := transport.New(transport.Config{
		MaxAttempts: cfg.HTTPMaxAttempts,
		BaseDelay:   cfg.HTTPBaseDelay,
		Timeout:     cfg.HTTPTimeout,
	}, logger).WithObserver(metrics)

	b := breaker.New(rdb, breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
	})

	amx := aramex.New(aramex.Config{
		BaseURL:            cfg.AramexBaseURL,
		Username:           cfg.AramexUsername,
		Password:           cfg.AramexPassword,
		AccountNumber:      cfg.AramexAccountNumber,
		AccountPin:         cfg.AramexAccountPin,
		AccountEntity:      cfg.AramexAccountEntity,
		AccountCountryCode: cfg.AramexAccountCountryCode,
		UseMock:            cfg.AramexUseMock,
	}, tc, breaker.NewGuard(b, "aramex", logger), logger, tracer)
	registry.Register(amx, cfg.AramexEnabled)

	return registry
}

func webhookSecrets(cfg *config.Config) map[string]string {
	return map[string]string{
		"aramex": cfg.AramexWebhookSecret,
	}
}

// watchBreakers keeps the per-courier circuit gauge current.
func watchBreakers(ctx context.Context, registry *courier.Registry, metrics *telemetry.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			health := registry.Health(ctx)
			for code, available := range health {
				metrics.SetBreakerOpen(code, !available)
			}
		}
	}
}
