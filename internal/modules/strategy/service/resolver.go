package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"trade_core/internal/models"
	"trade_core/internal/store"
)

type ResolveMode string

const (
	ResolveFuture ResolveMode = "future"
	ResolveOption ResolveMode = "option"
	ResolveNone   ResolveMode = "none"
)

func ParseResolveMode(raw string) (ResolveMode, error) {
	switch m := ResolveMode(raw); m {
	case ResolveFuture, ResolveOption, ResolveNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown resolve mode %q", raw)
	}
}

// Resolver binds an underlying to its nearest tradable derivative.
type Resolver struct {
	store store.InstrumentStore
	mode  ResolveMode
}

func NewResolver(st store.InstrumentStore, mode ResolveMode) *Resolver {
	return &Resolver{store: st, mode: mode}
}

// Resolve returns the nearest-expiry future, or the nearest-expiry option
// (CE for LONG, PE for SHORT) whose strike is closest to spot with the lower
// strike winning ties. found is false when nothing qualifies.
func (r *Resolver) Resolve(ctx context.Context, underlying string, side models.Side, spot float64, asOf time.Time) (inst models.Instrument, found bool, err error) {
	if r.mode == ResolveNone {
		return models.Instrument{}, false, nil
	}
	all, err := r.store.Derivatives(ctx, underlying, asOf)
	if err != nil {
		return models.Instrument{}, false, fmt.Errorf("derivatives of %s: %w", underlying, err)
	}

	want := models.KindFuture
	if r.mode == ResolveOption {
		want = models.KindCall
		if side == models.SideShort {
			want = models.KindPut
		}
	}
	var cands []models.Instrument
	for _, in := range all {
		if in.Kind == want {
			cands = append(cands, in)
		}
	}
	if len(cands) == 0 {
		return models.Instrument{}, false, nil
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if !a.Expiry.Equal(b.Expiry) {
			return a.Expiry.Before(b.Expiry)
		}
		if want != models.KindFuture {
			da, db := math.Abs(a.Strike-spot), math.Abs(b.Strike-spot)
			if da != db {
				return da < db
			}
			if a.Strike != b.Strike {
				return a.Strike < b.Strike
			}
		}
		return a.Symbol < b.Symbol
	})
	return cands[0], true, nil
}
