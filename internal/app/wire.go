package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/batchsettle/internal/auth"
	s3blob "github.com/alanyoungcy/batchsettle/internal/blob/s3"
	"github.com/alanyoungcy/batchsettle/internal/cache/redis"
	"github.com/alanyoungcy/batchsettle/internal/config"
	"github.com/alanyoungcy/batchsettle/internal/domain"
	"github.com/alanyoungcy/batchsettle/internal/server/handler"
	"github.com/alanyoungcy/batchsettle/internal/service"
	"github.com/alanyoungcy/batchsettle/internal/store/postgres"
	sqlitestore "github.com/alanyoungcy/batchsettle/internal/store/sqlite"
	"github.com/alanyoungcy/batchsettle/internal/token"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Network *service.Network
	Service *service.SettlementService

	// Stores
	Receipts domain.ReceiptStore
	States   domain.OrderStateStore
	Events   domain.EventStore
	Audit    domain.AuditStore

	// Shared state; nil without Redis.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Nil unless archiving runs in this mode.
	Archiver domain.Archiver

	// Checks are the dependency probes behind /api/health.
	Checks map[string]handler.Check
}

// needsS3 returns true when the mode runs the receipt archiver.
func needsS3(cfg *config.Config) bool {
	switch strings.ToLower(cfg.Mode) {
	case "archive", "full":
		return true
	default:
		return cfg.Archive.Enabled
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration, restores persisted settlement state into the network, and
// returns them together with a cleanup function that should be called on
// shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Check)}

	// --- Persistence ---
	switch strings.ToLower(cfg.Store.Driver) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		receipts := postgres.NewReceiptStore(pool)
		deps.Receipts = receipts
		deps.Events = receipts
		deps.States = postgres.NewOrderStateStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Ping

	default:
		db, err := sqlitestore.Open(cfg.Store.SQLitePath)
		if err != nil {
			return fail("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = sqlitestore.Close(db) })

		receipts := sqlitestore.NewReceiptStore(db)
		deps.Receipts = receipts
		deps.Events = receipts
		deps.States = sqlitestore.NewOrderStateStore(db)
		deps.Audit = sqlitestore.NewAuditStore(db)
		deps.Checks["sqlite"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}

	// --- Redis ---
	var extra []auth.Authenticator
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping

		if strings.EqualFold(cfg.Solver.Directory, "redis") {
			extra = append(extra, redis.NewSolverDirectory(redisClient, cfg.Solver.DirectoryName))
		}
	} else {
		logger.InfoContext(ctx, "redis disabled: running without batch lock, event bus or rate limiting")
	}

	// --- Settlement network ---
	genesis, err := genesisFromConfig(cfg)
	if err != nil {
		return fail("wire: genesis: %w", err)
	}
	deps.Network, err = service.NewNetwork(genesis, extra...)
	if err != nil {
		return fail("wire: network: %w", err)
	}
	deps.Service = service.NewSettlementService(
		deps.Network, deps.Receipts, deps.States, deps.Events, deps.Audit,
		deps.LockManager, deps.SignalBus, logger,
	)
	if _, err := deps.Service.Restore(ctx); err != nil {
		return fail("wire: %w", err)
	}

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			return fail("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewReceiptArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Receipts,
			deps.Audit,
			logger,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	return deps, cleanup, nil
}

// genesisFromConfig translates the chain and solver sections into the
// genesis a Network is deployed from.
func genesisFromConfig(cfg *config.Config) (service.Genesis, error) {
	c := cfg.Chain
	g := service.Genesis{
		ChainID:       c.ChainID,
		Settlement:    c.Settlement,
		Relayer:       c.Relayer,
		Vault:         c.Vault,
		AllowList:     c.AllowList,
		Manager:       c.Manager,
		DomainName:    c.DomainName,
		DomainVersion: c.DomainVersion,
		StrictEIP1271: c.StrictEIP1271,
		Solvers:       cfg.Solver.Allowed,
	}
	for _, t := range c.Tokens {
		mode, err := token.ParseReturnMode(t.ReturnMode)
		if err != nil {
			return service.Genesis{}, err
		}
		g.Tokens = append(g.Tokens, service.TokenSpec{
			Address:  t.Address,
			Symbol:   t.Symbol,
			Decimals: t.Decimals,
			Mode:     mode,
		})
	}
	for _, b := range c.Balances {
		g.Balances = append(g.Balances, service.BalanceSpec{
			Owner:          b.Owner,
			Token:          b.Token,
			Amount:         b.Amount,
			Internal:       b.Internal,
			ApproveRelayer: b.ApproveRelayer,
		})
	}
	for _, p := range c.Pools {
		g.Pools = append(g.Pools, service.PoolSpec{
			ID:          p.ID,
			TokenA:      p.TokenA,
			TokenB:      p.TokenB,
			Numerator:   p.Numerator,
			Denominator: p.Denominator,
			LiquidityA:  p.LiquidityA,
			LiquidityB:  p.LiquidityB,
		})
	}
	return g, nil
}
