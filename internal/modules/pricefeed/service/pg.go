package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trade_core/internal/models"
	"trade_core/pkg/db"
)

// PGFeed reads prices from the shared ticks table.
type PGFeed struct {
	db db.TxManager
}

func NewPGFeed(tx db.TxManager) *PGFeed {
	return &PGFeed{db: tx}
}

func (f *PGFeed) PriceAtOrAfter(ctx context.Context, symbol string, at time.Time) (models.Quote, bool, error) {
	return f.one(ctx, symbol, `
		SELECT price, ts FROM ticks
		WHERE instrument = $1 AND ts >= $2
		ORDER BY ts DESC, id DESC
		LIMIT 1`, symbol, at.UTC())
}

func (f *PGFeed) Latest(ctx context.Context, symbol string) (models.Quote, bool, error) {
	return f.one(ctx, symbol, `
		SELECT price, ts FROM ticks
		WHERE instrument = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1`, symbol)
}

func (f *PGFeed) one(ctx context.Context, symbol, sql string, args ...any) (models.Quote, bool, error) {
	q := models.Quote{Symbol: symbol}
	err := f.db.Conn().QueryRow(ctx, sql, args...).Scan(&q.Price, &q.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Quote{}, false, nil
	}
	if err != nil {
		return models.Quote{}, false, fmt.Errorf("pg price of %s: %w", q.Symbol, err)
	}
	q.At = q.At.UTC()
	return q, true, nil
}
