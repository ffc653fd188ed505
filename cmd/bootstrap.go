package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/disbursement-service/internal/app"
	"github.com/transfa/disbursement-service/internal/config"
	"github.com/transfa/disbursement-service/internal/ledger"
	"github.com/transfa/disbursement-service/internal/lock"
	"github.com/transfa/disbursement-service/internal/store"
	"github.com/transfa/disbursement-service/pkg/ledgerclient"
	rmrabbit "github.com/transfa/disbursement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

// runtime holds the wired engine and everything that must be closed on exit.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	service *app.Service
	limiter app.ActionRateLimiter
	closers []func()
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	_ = rt.logger.Sync()
}

// bootstrap loads configuration and wires the engine. Postgres, Redis, RabbitMQ and
// the Ledger Gateway are optional; each falls back to its in-process counterpart.
func bootstrap(ctx context.Context) (*runtime, error) {
	bootLogger, err := newLogger("info")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfigWithLogger(configPath, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger}
	log := logger.Named("bootstrap")

	repo, err := rt.openRepository(ctx)
	if err != nil {
		rt.close()
		return nil, err
	}
	gateway, err := rt.openGateway()
	if err != nil {
		rt.close()
		return nil, err
	}
	locker := rt.openRedis(ctx)

	var publisher rmrabbit.Publisher
	if cfg.RabbitMQURL == "" {
		log.Warn("rabbitmq url missing; lifecycle events disabled", zap.String("env", "RABBITMQ_URL"))
	} else if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL, logger); err != nil {
		log.Warn("rabbitmq producer unavailable; using fallback", zap.Error(err))
	} else {
		publisher = producer
		rt.closers = append(rt.closers, producer.Close)
		log.Info("rabbitmq producer connected")
	}

	rt.service = app.NewService(repo, gateway, locker, publisher, app.Config{
		NetworkPassphrase:        cfg.LedgerNetworkPassphrase,
		ExplorerURL:              cfg.LedgerExplorerURL,
		BaseFee:                  uint32(cfg.LedgerBaseFee),
		TxValidity:               cfg.TxValidity(),
		LedgerCallTimeout:        cfg.LedgerCallTimeout(),
		EventExchange:            cfg.EventExchange,
		DefaultApprovalThreshold: cfg.DefaultApprovalThreshold,
	}, logger)
	return rt, nil
}

func (rt *runtime) openRepository(ctx context.Context) (store.Repository, error) {
	log := rt.logger.Named("bootstrap")
	if rt.cfg.DatabaseURL == "" {
		log.Warn("database url missing; using in-memory repository", zap.String("env", "DATABASE_URL"))
		return store.NewMemoryRepository(), nil
	}

	poolConfig, err := pgxpool.ParseConfig(rt.cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("database url parse failed: %w", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts behind poolers.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.closers = append(rt.closers, dbpool.Close)

	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(schemaCtx, dbpool); err != nil {
		return nil, err
	}
	log.Info("database connected")
	return store.NewPostgresRepository(dbpool), nil
}

func (rt *runtime) openGateway() (ledger.Gateway, error) {
	log := rt.logger.Named("bootstrap")
	if rt.cfg.LedgerGatewayURL == "" {
		log.Warn("ledger gateway url missing; using sandbox ledger", zap.String("env", "LEDGER_GATEWAY_URL"))
		return ledger.NewMemoryGateway(rt.cfg.LedgerNetworkPassphrase), nil
	}
	client, err := ledgerclient.NewClient(ledgerclient.Options{
		BaseURL:     rt.cfg.LedgerGatewayURL,
		Timeout:     rt.cfg.LedgerCallTimeout(),
		MaxFailures: uint32(rt.cfg.LedgerBreakerMaxFailures),
		Logger:      rt.logger,
	})
	if err != nil {
		return nil, err
	}
	log.Info("ledger gateway configured", zap.String("url", rt.cfg.LedgerGatewayURL))
	return client, nil
}

// openRedis returns the distributed locker and installs the action rate limiter when
// Redis is reachable, and the in-process locker otherwise.
func (rt *runtime) openRedis(ctx context.Context) lock.Locker {
	log := rt.logger.Named("bootstrap")
	if rt.cfg.RedisURL == "" {
		log.Warn("redis url missing; using in-process locks and no rate limiting", zap.String("env", "REDIS_URL"))
		return lock.NewMemoryLocker()
	}
	redisOptions, err := redis.ParseURL(rt.cfg.RedisURL)
	if err != nil {
		log.Warn("redis url parse failed; using in-process locks", zap.Error(err))
		return lock.NewMemoryLocker()
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis ping failed; using in-process locks", zap.Error(err))
		_ = client.Close()
		return lock.NewMemoryLocker()
	}
	rt.closers = append(rt.closers, func() { _ = client.Close() })
	log.Info("redis connected")

	if rt.cfg.ActionRateLimitPerMinute > 0 {
		rt.limiter = app.NewRedisActionRateLimiter(client, rt.cfg.RateLimitPrefix, rt.cfg.ActionRateLimitPerMinute, time.Minute)
	}
	return lock.NewRedisLocker(client, rt.cfg.LockPrefix, lock.Options{Expiry: rt.cfg.LockTTL()}, rt.logger)
}
