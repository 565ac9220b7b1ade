package runner

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/modules/config"
)

type params struct {
	fx.In

	Pass     Pass
	Log      *zap.Logger
	Observer Observer `optional:"true"`
}

func newRunner(p params) *Runner {
	return New(p.Pass, p.Log, p.Observer)
}

// Module runs the provided Pass in the configured mode. In once mode the
// app shuts down after the pass with exit code 0 or 1.
func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(newRunner),
		fx.Invoke(func(lc fx.Lifecycle, sd fx.Shutdowner, r *Runner, cfg *config.Config) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})

			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						if cfg.Runner.Mode == config.ModeFollow {
							if err := r.Follow(ctx, cfg.Runner.Interval); err != nil {
								_ = sd.Shutdown(fx.ExitCode(1))
							}
							return
						}
						code := 0
						if _, err := r.Once(ctx); err != nil {
							code = 1
						}
						_ = sd.Shutdown(fx.ExitCode(code))
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
