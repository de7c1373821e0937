package app

import (
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rentdesk/rentdesk/internal/ledger"
	"github.com/rentdesk/rentdesk/internal/shared"
)

// NewLedgerService wires the ledger over postgres with redis-backed sweep
// gating and dashboard caching. A nil redis client falls back to a
// process-local gate and no caching.
func NewLedgerService(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) *ledger.Service {
	opts := ledger.Options{
		Location:            cfg.Location(),
		AccrueBeforePayment: cfg.AccrueBeforePayment,
		SweepConcurrency:    cfg.SweepConcurrency,
		Idempotency:         shared.NewIdempotencyStore(pool),
		Logger:              logger,
	}
	if redisClient != nil {
		opts.Gate = ledger.NewRedisGate(redisClient)
		opts.Cache = ledger.NewDashboardCache(redisClient, cfg.DashboardCacheTTL)
	}
	return ledger.NewService(ledger.NewRepository(pool), opts)
}

// AsynqRedisOpts returns the queue connection settings.
func (c *Config) AsynqRedisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}
