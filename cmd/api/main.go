package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pineoslabs/referral-ledger/api/routes"
	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/config"
	"github.com/pineoslabs/referral-ledger/pkg/db"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/metrics"
	"github.com/pineoslabs/referral-ledger/pkg/migrate"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tx:             dbClient,
		Repo:           ledger.NewRepository(dbClient.DB()),
		Events:         outboxService,
		Metrics:        metrics.NewLedgerMetrics(registry),
		Logger:         logg,
		MaxAmountCents: cfg.Ledger.MaxAmountCents,
	})
	requireResource(ctx, logg, "ledger service", err)

	rulesService, err := rules.NewService(rules.ServiceParams{
		Repo:   rules.NewRepository(dbClient.DB()),
		Ledger: ledgerService,
		Tx:     dbClient,
		Events: outboxService,
		Logger: logg,
	})
	requireResource(ctx, logg, "rules service", err)

	addr := ":" + listenPort(cfg)
	runCtx := logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(runCtx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, registry, ledgerService, rulesService),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(runCtx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// listenPort prefers the PORT override Cloud Run style deployments inject.
func listenPort(cfg *config.Config) string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return cfg.App.Port
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, "failed to bootstrap "+resource, err)
	os.Exit(1)
}
