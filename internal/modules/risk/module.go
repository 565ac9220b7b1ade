package risk

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/models"
	"trade_core/internal/modules/config"
	"trade_core/internal/modules/risk/service"
	"trade_core/internal/runner"
	"trade_core/internal/store"
)

func newProfile(cfg *config.Config, log *zap.Logger) (models.RiskProfile, error) {
	profiles, err := service.LoadProfiles(cfg.Risk.ProfilesFile)
	if err != nil {
		return models.RiskProfile{}, err
	}
	p, err := service.SelectProfile(profiles, cfg.Risk.Profile, models.ProfileOverrides{
		RRMin:         cfg.Risk.RRMinOverride,
		SLCapPerTrade: cfg.Risk.SLCapOverride,
	})
	if err != nil {
		return models.RiskProfile{}, err
	}
	log.Info("risk profile loaded",
		zap.String("profile", p.Name),
		zap.String("version", p.Version),
		zap.Float64("rr_min", p.RRMin),
		zap.Float64("sl_cap_per_trade", p.SLCapPerTrade),
		zap.Bool("charges", p.Charges != nil),
	)
	return p, nil
}

func newGate(st store.Store, p models.RiskProfile, cfg *config.Config, log *zap.Logger) runner.Pass {
	return service.NewGate(st, p, cfg.Runner.BatchSize, log)
}

// ProfileModule provides the selected RiskProfile alone, for stages that
// only need its charges model.
func ProfileModule() fx.Option {
	return fx.Module("risk_profile",
		fx.Provide(newProfile),
	)
}

func Module() fx.Option {
	return fx.Module("risk",
		ProfileModule(),
		fx.Provide(newGate),
	)
}
