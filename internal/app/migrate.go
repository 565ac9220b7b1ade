package app

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/modules/config"
	"trade_core/internal/modules/postgres"
	"trade_core/pkg/db"
)

// MigrateMain applies the embedded schema migrations and exits.
func MigrateMain() {
	cfg, log, cleanup, code := bootstrap("migrate", os.Args[1:])
	if cleanup == nil {
		os.Exit(code)
	}
	code = runApp(fx.New(
		fx.Supply(log),
		fx.WithLogger(fxLogger),
		config.Module(cfg),
		postgres.PoolModule(),
		fx.Invoke(migrate),
	), log)
	cleanup()
	os.Exit(code)
}

func migrate(lc fx.Lifecycle, sd fx.Shutdowner, txm *db.PgTxManager, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := txm.Migrate(ctx)
			if err != nil {
				return err
			}
			v, err := txm.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.Int("count", n), zap.Int("version", v))
			return sd.Shutdown(fx.ExitCode(0))
		},
	})
}
