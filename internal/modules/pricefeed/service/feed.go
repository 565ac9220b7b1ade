package service

import (
	"context"
	"time"

	"trade_core/internal/models"
)

// Feed is the latest-price accessor offered to the paper engine.
type Feed interface {
	PriceAtOrAfter(ctx context.Context, symbol string, at time.Time) (models.Quote, bool, error)
	Latest(ctx context.Context, symbol string) (models.Quote, bool, error)
}

var (
	_ Feed = (*PGFeed)(nil)
	_ Feed = (*RedisFeed)(nil)
	_ Feed = (*WSFeed)(nil)
)
