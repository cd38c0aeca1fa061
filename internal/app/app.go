// Package app wires configuration into a repository, caches and the ledger
// service. The HTTP server and the ledgerctl CLI share it.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iamhuraira/pharmaKhata-sub000/internal/cache"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/config"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/service"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/memory"
	pgstore "github.com/iamhuraira/pharmaKhata-sub000/internal/store/postgres"
	"github.com/iamhuraira/pharmaKhata-sub000/internal/store/sqlite"
)

type Runtime struct {
	Repo    store.Repository
	Service *service.Service
	closers []func() error
	logger  *zap.Logger
}

// Open picks the repository in order postgres, sqlite, in-memory. A
// configured database that cannot be reached is fatal; Redis is optional and
// falls back to an in-process summary cache (none for postgres) and job lock.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{logger: logger}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing in-memory fallback: %w", err)
		}
		rt.Repo = pg
		rt.closers = append(rt.closers, pg.Close)
		logger.Info("repository ready", zap.String("backend", "postgres"))
	case cfg.SQLitePath != "":
		lite, err := sqlite.New(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		rt.Repo = lite
		rt.closers = append(rt.closers, lite.Close)
		logger.Info("repository ready", zap.String("backend", "sqlite"), zap.String("path", cfg.SQLitePath))
	case cfg.SeedDemoData:
		rt.Repo = memory.NewSeeded()
		logger.Info("repository ready", zap.String("backend", "memory"), zap.Bool("seeded", true))
	default:
		rt.Repo = memory.New()
		logger.Info("repository ready", zap.String("backend", "memory"))
	}

	// Other server processes can write a shared postgres ledger, which an
	// in-process cache would never hear about.
	summaries := cache.SummaryCache(cache.NewLocalSummaryCache())
	if cfg.DatabaseURL != "" {
		summaries = cache.NoopSummaryCache{}
	}
	jobs := cache.JobLocker(cache.NewLocalJobLocker())
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		redisCache := cache.NewRedisSummaryCache(client)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
			_ = client.Close()
		} else {
			summaries = redisCache
			jobs = cache.NewRedisJobLocker(client)
			rt.closers = append(rt.closers, redisCache.Close)
			logger.Info("cache ready", zap.String("backend", "redis"))
		}
	} else {
		logger.Info("cache ready", zap.String("backend", "local"))
	}

	rt.Service = service.New(rt.Repo, summaries, logger, service.Options{
		Location:       loc,
		DriftTolerance: cfg.BalanceDriftTolerance,
		SummaryTTL:     cfg.SummaryTTL(),
		Jobs:           jobs,
	})
	return rt, nil
}

// Close releases everything Open acquired, in reverse order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			r.logger.Warn("close error", zap.Error(err))
		}
	}
}
