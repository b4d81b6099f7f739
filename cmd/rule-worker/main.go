package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"

	"github.com/pineoslabs/referral-ledger/internal/consumers/referral"
	"github.com/pineoslabs/referral-ledger/internal/ledger"
	"github.com/pineoslabs/referral-ledger/internal/rules"
	"github.com/pineoslabs/referral-ledger/pkg/config"
	"github.com/pineoslabs/referral-ledger/pkg/db"
	"github.com/pineoslabs/referral-ledger/pkg/logger"
	"github.com/pineoslabs/referral-ledger/pkg/migrate"
	"github.com/pineoslabs/referral-ledger/pkg/outbox"
	"github.com/pineoslabs/referral-ledger/pkg/outbox/idempotency"
	"github.com/pineoslabs/referral-ledger/pkg/pubsub"
	"github.com/pineoslabs/referral-ledger/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "rule-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "rule-worker"

	logg = logger.New(logger.Options{
		ServiceName: "rule-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database client", err)
		}
	}()

	err = migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	subscription := pubsubClient.ReferralSubscription()
	if subscription == nil {
		requireResource(ctx, logg, "referral subscription", errors.New("subscription not configured"))
	}

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.ConsumerIdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Tx:             dbClient,
		Repo:           ledger.NewRepository(dbClient.DB()),
		Events:         outboxService,
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

	consumer, err := referral.NewConsumer(rulesService, manager, logg)
	requireResource(ctx, logg, "referral consumer", err)

	worker, err := referral.NewWorker(subscription, consumer, logg)
	requireResource(ctx, logg, "referral worker", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "rule worker ready")

	if err := worker.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "rule worker failed", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
