// Package pg is the postgres Store over db.PgTxManager.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"trade_core/internal/models"
	"trade_core/internal/store"
	"trade_core/pkg/db"
)

type Store struct {
	db db.TxManager
}

var _ store.Store = (*Store)(nil)

func New(txm db.TxManager) *Store {
	return &Store{db: txm}
}

func wrap(err *error, op string) {
	if *err != nil {
		*err = errors.Wrap(*err, "pg."+op)
	}
}

func seconds(d time.Duration) int { return int(d / time.Second) }

func appendAudit(ctx context.Context, tx db.Transaction, a models.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_log (entity, entity_id, from_state, to_state, reason, run_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		string(a.Entity), a.EntityID, a.From, a.To, a.Reason, a.RunID, a.At.UTC(),
	)
	return err
}

func (s *Store) AuditTrail(ctx context.Context, entity models.AuditEntity, entityID int64) (out []models.AuditEntry, err error) {
	defer wrap(&err, "AuditTrail")

	rows, err := s.db.Conn().Query(ctx, `
		SELECT id, entity, entity_id, from_state, to_state, reason, run_id, at
		FROM audit_log WHERE entity = $1 AND entity_id = $2 ORDER BY id`,
		string(entity), entityID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var a models.AuditEntry
		var ent string
		if err := rows.Scan(&a.ID, &ent, &a.EntityID, &a.From, &a.To, &a.Reason, &a.RunID, &a.At); err != nil {
			return nil, err
		}
		a.Entity = models.AuditEntity(ent)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) AdmissionControl(ctx context.Context) (ac models.AdmissionControl, err error) {
	defer wrap(&err, "AdmissionControl")

	var breaker string
	err = s.db.Conn().QueryRow(ctx,
		`SELECT breaker, daily_cap FROM admission_control WHERE id = 1`,
	).Scan(&breaker, &ac.DailyCap)
	if errors.Is(err, pgx.ErrNoRows) {
		return ac, errors.Wrap(store.ErrNotFound, "admission_control row missing")
	}
	if err != nil {
		return ac, err
	}
	if ac.Breaker, err = models.ParseBreaker(breaker); err != nil {
		return ac, err
	}
	ac.ReadAt = time.Now().UTC()
	return ac, nil
}

func (s *Store) Derivatives(ctx context.Context, underlying string, asOf time.Time) (out []models.Instrument, err error) {
	defer wrap(&err, "Derivatives")

	day := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.db.Conn().Query(ctx, `
		SELECT symbol, underlying, kind, expiry, strike, lot_size, tick_size
		FROM instruments
		WHERE underlying = $1 AND expiry >= $2
		ORDER BY expiry, strike, symbol`,
		underlying, day,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var in models.Instrument
		var kind string
		if err := rows.Scan(&in.Symbol, &in.Underlying, &kind, &in.Expiry, &in.Strike, &in.LotSize, &in.TickSize); err != nil {
			return nil, err
		}
		in.Kind = models.InstrumentKind(kind)
		out = append(out, in)
	}
	return out, rows.Err()
}
