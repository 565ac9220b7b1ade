package paper

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/models"
	"trade_core/internal/modules/config"
	"trade_core/internal/modules/paper/service"
	pricefeed "trade_core/internal/modules/pricefeed/service"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

func newEngine(st store.Store, feed pricefeed.Feed, p models.RiskProfile, cfg *config.Config, log *zap.Logger) runner.Pass {
	return service.NewEngine(st, feed, p.Charges, service.Config{
		FillDelay:     cfg.Paper.FillDelay,
		SlippageGuard: cfg.Paper.SlippageGuard,
		Batch:         cfg.Runner.BatchSize,
	}, log)
}

func Module() fx.Option {
	return fx.Module("paper",
		fx.Provide(newEngine),
	)
}
