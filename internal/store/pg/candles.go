package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_core/internal/models"
)

func (s *Store) TicksAfter(ctx context.Context, cp models.Checkpoint, limit int) (out []models.Tick, err error) {
	defer wrap(&err, "TicksAfter")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, instrument, ts, price, quantity
		FROM ticks
		WHERE (ts, id) > ($1, $2)
		ORDER BY ts, id
		LIMIT $3`,
		cp.LastTickAt.UTC(), cp.LastTickID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTicks(rows)
}

func (s *Store) TicksInRange(ctx context.Context, instrument string, from, to time.Time) (out []models.Tick, err error) {
	defer wrap(&err, "TicksInRange")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, instrument, ts, price, quantity
		FROM ticks
		WHERE instrument = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts, id`,
		instrument, from.UTC(), to.UTC(),
	)
	if err != nil {
		return nil, err
	}
	return collectTicks(rows)
}

func (s *Store) TicksBehind(ctx context.Context, cp models.Checkpoint, from time.Time, limit int) (out []models.Tick, err error) {
	defer wrap(&err, "TicksBehind")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, instrument, ts, price, quantity
		FROM ticks
		WHERE ts >= $1 AND (ts, id) <= ($2, $3) AND id > $4
		ORDER BY id
		LIMIT $5`,
		from.UTC(), cp.LastTickAt.UTC(), cp.LastTickID, cp.MaxTickID, limit,
	)
	if err != nil {
		return nil, err
	}
	return collectTicks(rows)
}

func collectTicks(rows pgx.Rows) ([]models.Tick, error) {
	defer rows.Close()
	var out []models.Tick
	for rows.Next() {
		var t models.Tick
		if err := rows.Scan(&t.ID, &t.Instrument, &t.Timestamp, &t.Price, &t.Quantity); err != nil {
			return nil, err
		}
		t.Timestamp = t.Timestamp.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpsertCandle(ctx context.Context, c models.Candle) (changed bool, err error) {
	defer wrap(&err, "UpsertCandle")

	tag, err := s.db.Conn().Exec(ctx, `
		INSERT INTO candles (instrument, granularity_sec, bar_start, open, high, low, close, volume, vwap, tick_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instrument, granularity_sec, bar_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			vwap = EXCLUDED.vwap,
			tick_count = EXCLUDED.tick_count
		WHERE (candles.open, candles.high, candles.low, candles.close, candles.volume, candles.vwap, candles.tick_count)
			IS DISTINCT FROM
			(EXCLUDED.open, EXCLUDED.high, EXCLUDED.low, EXCLUDED.close, EXCLUDED.volume, EXCLUDED.vwap, EXCLUDED.tick_count)`,
		c.Instrument, seconds(c.Granularity), c.BarStart.UTC(),
		c.Open, c.High, c.Low, c.Close, c.Volume, c.VWAP, c.TickCount,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) LatestCandles(ctx context.Context, instrument string, granularity time.Duration, n int) (out []models.Candle, err error) {
	defer wrap(&err, "LatestCandles")

	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Conn().Query(ctx, `
		SELECT instrument, granularity_sec, bar_start, open, high, low, close, volume, vwap, tick_count
		FROM (
			SELECT * FROM candles
			WHERE instrument = $1 AND granularity_sec = $2
			ORDER BY bar_start DESC
			LIMIT $3
		) latest
		ORDER BY bar_start ASC`,
		instrument, seconds(granularity), n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Candle
		var gsec int
		if err := rows.Scan(&c.Instrument, &gsec, &c.BarStart, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.VWAP, &c.TickCount); err != nil {
			return nil, err
		}
		c.Granularity = time.Duration(gsec) * time.Second
		c.BarStart = c.BarStart.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Checkpoint(ctx context.Context, name string) (cp models.Checkpoint, err error) {
	defer wrap(&err, "Checkpoint")

	cp.Name = name
	err = s.db.Conn().QueryRow(ctx,
		`SELECT last_tick_at, last_tick_id, max_tick_id FROM checkpoints WHERE name = $1`, name,
	).Scan(&cp.LastTickAt, &cp.LastTickID, &cp.MaxTickID)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Checkpoint{Name: name}, nil
	}
	cp.LastTickAt = cp.LastTickAt.UTC()
	return cp, err
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp models.Checkpoint) (err error) {
	defer wrap(&err, "SaveCheckpoint")

	_, err = s.db.Conn().Exec(ctx, `
		INSERT INTO checkpoints (name, last_tick_at, last_tick_id, max_tick_id, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			last_tick_at = EXCLUDED.last_tick_at,
			last_tick_id = EXCLUDED.last_tick_id,
			max_tick_id = EXCLUDED.max_tick_id,
			updated_at = now()
		WHERE (checkpoints.last_tick_at, checkpoints.last_tick_id, checkpoints.max_tick_id)
			< (EXCLUDED.last_tick_at, EXCLUDED.last_tick_id, EXCLUDED.max_tick_id)`,
		cp.Name, cp.LastTickAt.UTC(), cp.LastTickID, cp.MaxTickID,
	)
	return err
}
