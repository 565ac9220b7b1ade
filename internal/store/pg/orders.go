package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_core/internal/models"
)

const orderColumns = `id, signal_id, instrument, price_symbol, side, qty, entry, stop, target, state,
	signal_time, fill_due_at, fill_price, filled_at, exit_price, exit_at, entry_charges, exit_charges,
	gross_pnl, net_pnl, reason, created_at, updated_at`

func scanOrder(row pgx.Row) (models.PaperOrder, error) {
	var (
		o           models.PaperOrder
		side, state string
	)
	err := row.Scan(
		&o.ID, &o.SignalID, &o.Instrument, &o.PriceSymbol, &side, &o.Qty, &o.Entry, &o.Stop, &o.Target, &state,
		&o.SignalTime, &o.FillDueAt, &o.FillPrice, &o.FilledAt, &o.ExitPrice, &o.ExitAt, &o.EntryCharges, &o.ExitCharges,
		&o.GrossPnL, &o.NetPnL, &o.Reason, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	o.Side = models.Side(side)
	o.State = models.OrderState(state)
	o.SignalTime = o.SignalTime.UTC()
	o.FillDueAt = o.FillDueAt.UTC()
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]models.PaperOrder, error) {
	defer rows.Close()
	var out []models.PaperOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) CreateOrder(ctx context.Context, o *models.PaperOrder, runID string) (created bool, err error) {
	defer wrap(&err, "CreateOrder")

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		var id int64
		err := tx.QueryRow(ctxTx, `
			INSERT INTO paper_orders (signal_id, instrument, price_symbol, side, qty, entry, stop, target, state,
				signal_time, fill_due_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (signal_id) DO NOTHING
			RETURNING id`,
			o.SignalID, o.Instrument, o.PriceSymbol, string(o.Side), o.Qty, o.Entry, o.Stop, o.Target, string(o.State),
			o.SignalTime.UTC(), o.FillDueAt.UTC(), o.CreatedAt.UTC(),
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		o.ID = id
		created = true
		return appendAudit(ctxTx, tx, models.AuditEntry{
			Entity:   models.AuditOrder,
			EntityID: id,
			To:       string(o.State),
			Reason:   "created",
			RunID:    runID,
			At:       o.CreatedAt,
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *Store) OrdersByState(ctx context.Context, state models.OrderState, limit int) (out []models.PaperOrder, err error) {
	defer wrap(&err, "OrdersByState")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+orderColumns+`
		FROM paper_orders WHERE state = $1
		ORDER BY id
		LIMIT $2`,
		string(state), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (s *Store) DueOrders(ctx context.Context, now time.Time, limit int) (out []models.PaperOrder, err error) {
	defer wrap(&err, "DueOrders")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT `+orderColumns+`
		FROM paper_orders
		WHERE state = 'PENDING_DELAY' AND fill_due_at <= $1
		ORDER BY fill_due_at, id
		LIMIT $2`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// transitionSQL returns the guarded UPDATE for the target state and its
// arguments after $1 = id, $2 = from, $3 = to, $4 = at.
func transitionSQL(t models.OrderTransition) (string, []any, error) {
	const guard = ` WHERE id = $1 AND state = $2`
	switch t.To {
	case models.OrderFilled:
		return `UPDATE paper_orders SET state = $3, updated_at = $4, filled_at = $4, fill_price = $5, entry_charges = $6` + guard,
			[]any{t.FillPrice, t.EntryCharges}, nil
	case models.OrderTPHit, models.OrderSLHit:
		return `UPDATE paper_orders SET state = $3, updated_at = $4, exit_at = $4, exit_price = $5, reason = $6` + guard,
			[]any{t.ExitPrice, t.Reason}, nil
	case models.OrderClosed:
		return `UPDATE paper_orders SET state = $3, updated_at = $4, exit_charges = $5, gross_pnl = $6, net_pnl = $7` + guard,
			[]any{t.ExitCharges, t.GrossPnL, t.NetPnL}, nil
	case models.OrderArchived:
		return `UPDATE paper_orders SET state = $3, updated_at = $4, reason = $5` + guard,
			[]any{t.Reason}, nil
	case models.OrderPendingDelay:
		return "", nil, errors.Wrap(models.ErrInvalidTransition, "no transition into PENDING_DELAY")
	default:
		return "", nil, errors.Wrapf(models.ErrInvalidTransition, "unknown state %q", t.To)
	}
}

func (s *Store) TransitionOrder(ctx context.Context, t models.OrderTransition) (applied bool, err error) {
	defer wrap(&err, "TransitionOrder")

	if err := t.Validate(); err != nil {
		return false, err
	}
	sql, extra, err := transitionSQL(t)
	if err != nil {
		return false, err
	}
	args := append([]any{t.OrderID, string(t.From), string(t.To), t.At.UTC()}, extra...)

	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, sql, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		applied = true
		return appendAudit(ctxTx, tx, models.AuditEntry{
			Entity:   models.AuditOrder,
			EntityID: t.OrderID,
			From:     string(t.From),
			To:       string(t.To),
			Reason:   t.Reason,
			RunID:    t.RunID,
			At:       t.At,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}
