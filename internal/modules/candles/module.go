package candles

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/modules/candles/service"
	"trade_core/internal/modules/config"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

func newAggregator(st store.Store, cfg *config.Config, log *zap.Logger) (*service.Aggregator, error) {
	grans, err := cfg.Candles.Durations()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Market.Location()
	if err != nil {
		return nil, err
	}
	anchor, err := cfg.Market.Anchor()
	if err != nil {
		return nil, err
	}
	return service.NewAggregator(st, service.Config{
		Granularities: grans,
		Location:      loc,
		Anchor:        anchor,
		Batch:         cfg.Candles.TickBatch,
	}, log)
}

func newPass(a *service.Aggregator) runner.Pass { return a }

// ReaderModule provides the aggregator for stages that only read bars.
func ReaderModule() fx.Option {
	return fx.Module("candles_reader",
		fx.Provide(newAggregator),
	)
}

func Module() fx.Option {
	return fx.Module("candles",
		ReaderModule(),
		fx.Provide(newPass),
	)
}
