package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/cliniq/hms/internal/config"
	"github.com/cliniq/hms/internal/domain/billing"
	"github.com/cliniq/hms/internal/domain/identity"
	"github.com/cliniq/hms/internal/domain/messaging"
	"github.com/cliniq/hms/internal/domain/pharmacy"
	"github.com/cliniq/hms/internal/domain/records"
	"github.com/cliniq/hms/internal/domain/scheduling"
	"github.com/cliniq/hms/internal/platform/auth"
	"github.com/cliniq/hms/internal/platform/db"
	"github.com/cliniq/hms/internal/platform/events"
	"github.com/cliniq/hms/internal/platform/lock"
	"github.com/cliniq/hms/internal/platform/redisclient"
)

// app holds the wired services shared by the serve, seed and sweep commands.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	pool      *pgxpool.Pool
	redis     *redis.Client
	outbox    *events.Outbox
	publisher events.Publisher
	tokens    *auth.Tokens
	revoker   auth.Revoker

	identity   *identity.Service
	scheduling *scheduling.Service
	pharmacy   *pharmacy.Service
	billing    *billing.Service
	messaging  *messaging.Service
	records    *records.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	a := &app{cfg: cfg, logger: logger, pool: pool}

	var locker lock.Locker = lock.NewLocal()
	a.revoker = auth.NewMemoryRevoker()
	if cfg.RedisURL != "" {
		if a.redis, err = redisclient.New(ctx, cfg.RedisURL); err != nil {
			pool.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		locker = lock.NewRedis(a.redis, cfg.LockTTL, cfg.LockTTL)
		a.revoker = auth.NewRedisRevoker(a.redis)
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set, using in-process slot locks")
	}

	if len(cfg.KafkaBrokers) > 0 {
		a.publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing events to kafka")
	} else {
		a.publisher = events.NewLogPublisher(logger)
	}

	tx := db.NewTransactor(pool)
	a.outbox = events.NewOutbox(pool)
	a.tokens = auth.NewTokens([]byte(cfg.JWTSecret), "hms", cfg.JWTTTL)

	a.identity = identity.NewService(identity.NewUserRepoPG(pool), a.tokens, a.revoker)
	a.scheduling = scheduling.NewService(
		scheduling.NewAvailabilityRepoPG(pool),
		scheduling.NewAppointmentRepoPG(pool),
		a.identity, tx, locker, a.outbox,
		scheduling.Options{Location: loc, HorizonDays: cfg.SlotHorizonDays, SuggestLimit: cfg.SlotSuggestLimit},
	)
	a.pharmacy = pharmacy.NewService(
		pharmacy.NewMedicineRepoPG(pool),
		pharmacy.NewMovementRepoPG(pool),
		pharmacy.NewSaleRepoPG(pool),
		tx, a.outbox, cfg.ExpiryWindowDays,
	)
	a.billing = billing.NewService(
		billing.NewInvoiceRepoPG(pool),
		a.identity, a.scheduling, a.pharmacy, tx, a.outbox,
	)
	a.messaging = messaging.NewService(messaging.NewMessageRepoPG(pool), tx, a.outbox)
	a.records = records.NewService(records.NewRecordRepoPG(pool), a.identity, tx, a.outbox)
	return a, nil
}

func (a *app) relay() *events.Relay {
	return events.NewRelay(a.outbox, db.NewTransactor(a.pool), a.publisher, a.logger, a.cfg.OutboxPollInterval)
}

// purgeOutbox drops events published more than a week ago.
func (a *app) purgeOutbox(ctx context.Context) error {
	n, err := a.outbox.Purge(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info().Int64("deleted", n).Msg("purged published outbox events")
	}
	return nil
}

// sweepExpiring runs the pharmacy expiry sweep with the app logger.
func (a *app) sweepExpiring(ctx context.Context) error {
	n, err := a.pharmacy.SweepExpiring(a.logger.WithContext(ctx))
	if err != nil {
		return err
	}
	a.logger.Info().Int("medicines", n).Msg("expiry sweep finished")
	return nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error().Err(err).Msg("close event publisher")
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.pool.Close()
}
