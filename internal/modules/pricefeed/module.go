package pricefeed

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"trade_core/internal/modules/config"
	"trade_core/internal/modules/pricefeed/service"
	"trade_core/pkg/db"
)

type params struct {
	fx.In

	LC  fx.Lifecycle
	Cfg *config.Config
	Log *zap.Logger
	DB  *db.PgTxManager
}

func newFeed(p params) (service.Feed, error) {
	cfg := p.Cfg.PriceFeed
	switch cfg.Kind {
	case "pg":
		return service.NewPGFeed(p.DB), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		p.LC.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
				}
				return nil
			},
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
		return service.NewRedisFeed(client, cfg.Redis.KeyPrefix), nil

	case "ws":
		feed := service.NewWSFeed(cfg.WS.URL, cfg.WS.Instruments, cfg.WS.PingEvery, p.Log)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		p.LC.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					feed.Run(ctx)
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
		return feed, nil
	}
	return nil, fmt.Errorf("unknown price feed %q", cfg.Kind)
}

func Module() fx.Option {
	return fx.Module("pricefeed",
		fx.Provide(newFeed),
	)
}
