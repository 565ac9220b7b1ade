package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/modules/config"
	"trade_core/internal/store"
	"trade_core/internal/store/pg"
	"trade_core/pkg/db"
)

const connectTimeout = 10 * time.Second

func newTxManager(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*db.PgTxManager, error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}
	if err := poolMaster.Ping(ctx); err != nil {
		poolMaster.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	txm := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			txm.Close()
			return nil
		},
	})
	log.Info("postgres connected", zap.Int32("max_conns", poolMaster.Config().MaxConns))
	return txm, nil
}

// checkSchema applies migrations when configured to, then refuses to run
// against any schema version other than the binary's.
func checkSchema(lc fx.Lifecycle, cfg *config.Config, txm *db.PgTxManager, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.DB.MigrateOnStart {
				n, err := txm.Migrate(ctx)
				if err != nil {
					return err
				}
				log.Info("migrations applied", zap.Int("count", n))
			}
			return txm.CheckSchema(ctx)
		},
	})
}

func newStore(cfg *config.Config, txm *db.PgTxManager, log *zap.Logger) store.Store {
	var st store.Store = pg.New(txm)
	if cfg.DryRun {
		log.Warn("dry run: reads hit postgres, writes are discarded")
		st = store.NewDryRun(st, log)
	}
	return st
}

// PoolModule provides only the connection pool.
func PoolModule() fx.Option {
	return fx.Module("postgres_pool",
		fx.Provide(newTxManager),
	)
}

func Module() fx.Option {
	return fx.Module("postgres",
		PoolModule(),
		fx.Provide(newStore),
		fx.Invoke(checkSchema),
	)
}
