package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_core/internal/models"
	"trade_core/internal/store"
)

const signalColumns = `id, instrument, underlying, side, entry, stop, target, rr, strategy, granularity_sec,
	bar_start, trade_day, lot_size, tick_size, fallback, dedup_key, state, reason, quantity, metrics,
	created_at, decided_at`

func scanSignal(row pgx.Row) (models.Signal, error) {
	var (
		s           models.Signal
		side, state string
		gsec        int
	)
	err := row.Scan(
		&s.ID, &s.Instrument, &s.Underlying, &side, &s.Entry, &s.Stop, &s.Target, &s.RR, &s.Strategy, &gsec,
		&s.BarStart, &s.TradeDay, &s.LotSize, &s.TickSize, &s.Fallback, &s.DedupKey, &state, &s.Reason, &s.Quantity, &s.Metrics,
		&s.CreatedAt, &s.DecidedAt,
	)
	if err != nil {
		return s, err
	}
	s.Side = models.Side(side)
	s.State = models.SignalState(state)
	s.Granularity = time.Duration(gsec) * time.Second
	s.BarStart = s.BarStart.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func collectSignals(rows pgx.Rows) ([]models.Signal, error) {
	defer rows.Close()
	var out []models.Signal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (s *Store) InsertSignal(ctx context.Context, sig *models.Signal) (inserted bool, err error) {
	defer wrap(&err, "InsertSignal")

	state := sig.State
	if state == "" {
		state = models.SignalPending
	}
	var id int64
	err = s.db.Conn().QueryRow(ctx, `
		INSERT INTO signals (instrument, underlying, side, entry, stop, target, rr, strategy, granularity_sec,
			bar_start, trade_day, lot_size, tick_size, fallback, dedup_key, state, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT DO NOTHING
		RETURNING id`,
		sig.Instrument, sig.Underlying, string(sig.Side), sig.Entry, sig.Stop, sig.Target, sig.RR, sig.Strategy,
		seconds(sig.Granularity), sig.BarStart.UTC(), sig.TradeDay, sig.LotSize, sig.TickSize, sig.Fallback,
		sig.DedupKey, string(state), sig.Reason, sig.CreatedAt.UTC(),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	sig.ID = id
	sig.State = state
	return true, nil
}

func (s *Store) HasOpenSignal(ctx context.Context, underlying, strategy string, day time.Time) (ok bool, err error) {
	defer wrap(&err, "HasOpenSignal")

	err = s.db.Conn().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM signals
			WHERE underlying = $1 AND strategy = $2 AND trade_day = $3 AND state <> 'REJECTED'
		)`,
		underlying, strategy, day,
	).Scan(&ok)
	return ok, err
}

func (s *Store) CountSignalsSince(ctx context.Context, since time.Time) (n int, err error) {
	defer wrap(&err, "CountSignalsSince")

	err = s.db.Conn().QueryRow(ctx,
		`SELECT count(*) FROM signals WHERE created_at >= $1`, since.UTC(),
	).Scan(&n)
	return n, err
}

func (s *Store) SignalsByState(ctx context.Context, state models.SignalState, limit int) (out []models.Signal, err error) {
	defer wrap(&err, "SignalsByState")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+signalColumns+`
		FROM signals WHERE state = $1
		ORDER BY created_at, id
		LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSignals(rows)
}

func (s *Store) DecideSignal(ctx context.Context, d store.SignalDecision) (applied bool, err error) {
	defer wrap(&err, "DecideSignal")

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, `
			UPDATE signals
			SET state = $2, reason = $3, quantity = $4, metrics = $5, decided_at = $6
			WHERE id = $1 AND state = 'PENDING'`,
			d.SignalID, string(d.To), d.Reason, d.Quantity, d.Metrics, d.At.UTC(),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true
		return appendAudit(ctxTx, tx, models.AuditEntry{
			Entity:   models.AuditSignal,
			EntityID: d.SignalID,
			From:     string(models.SignalPending),
			To:       string(d.To),
			Reason:   d.Reason,
			RunID:    d.RunID,
			At:       d.At,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Store) AdmittedWithoutOrder(ctx context.Context, limit int) (out []models.Signal, err error) {
	defer wrap(&err, "AdmittedWithoutOrder")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+signalColumns+`
		FROM signals s
		WHERE s.state = 'ADMITTED'
			AND NOT EXISTS (SELECT 1 FROM paper_orders o WHERE o.signal_id = s.id)
		ORDER BY s.created_at, s.id
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return collectSignals(rows)
}
