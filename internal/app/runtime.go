package app

import (
	"context"
	"fmt"

	"invoicehub/internal/config"
	"invoicehub/internal/db"
	"invoicehub/internal/docstore"
	"invoicehub/internal/redisstore"
	"invoicehub/migrations"

	"go.uber.org/zap"
)

// Runtime is the process-level wiring shared by the server and the CLI.
type Runtime struct {
	Services *Services
	closers  []func()
}

// Close releases the database pool and the Redis client in reverse order of opening.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// Open connects the document store and, when REDIS_ADDR is set, the shared rate snapshot
// and reconcile lock. With migrate set, pending SQL migrations are applied first.
func Open(ctx context.Context, cfg *config.Config, migrate bool, log *zap.Logger) (*Runtime, error) {
	rt := &Runtime{}
	var store docstore.Store

	if cfg.DB.Memory {
		log.Warn("using in-memory document store; data is lost on exit")
		store = docstore.NewMemoryStore()
	} else {
		pool, err := db.NewPool(ctx, cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		if migrate {
			applied, err := migrations.Apply(ctx, pool, log.Named("migrate"))
			if err != nil {
				rt.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
			log.Info("migrations applied", zap.Strings("applied", applied))
		}
		store = docstore.NewPostgresStore(pool)
	}

	var opts Options
	if cfg.Redis.Addr != "" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		opts.Snapshots = redisstore.NewRateSnapshots(rdb, cfg.Rates.SnapshotTTL)
		opts.Locker = redisstore.NewLocker(rdb)
	}

	rt.Services = NewServices(store, cfg, opts, log)
	return rt, nil
}
