package strategy

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/helper"
	candles "trade_core/internal/modules/candles/service"
	"trade_core/internal/modules/config"
	"trade_core/internal/modules/strategy/service"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

func newResolver(st store.Store, cfg *config.Config) (*service.Resolver, error) {
	mode, err := service.ParseResolveMode(cfg.Strategy.ResolveMode)
	if err != nil {
		return nil, err
	}
	return service.NewResolver(st, mode), nil
}

func newGenerator(st store.Store, bars *candles.Aggregator, r *service.Resolver, cfg *config.Config, log *zap.Logger) (runner.Pass, error) {
	g, err := helper.ParseGranularity(cfg.Strategy.Granularity)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Market.Location()
	if err != nil {
		return nil, err
	}
	return service.NewGenerator(st, bars, r, service.GeneratorConfig{
		Strategy:    cfg.Strategy.Name,
		Underlyings: cfg.Strategy.Underlyings,
		Granularity: g,
		FastLen:     cfg.Strategy.FastLen,
		SlowLen:     cfg.Strategy.SlowLen,
		RRMultiple:  cfg.Strategy.RRMultiple,
		Epsilon:     cfg.Strategy.Epsilon,
		DailyCap:    cfg.Strategy.DailyCap,
		Location:    loc,
	}, log), nil
}

// Module needs the candles reader in the graph.
func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newResolver,
			newGenerator,
		),
	)
}
