package service

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"trade_core/internal/models"
)

// EMA returns the exponential moving average of values with period n,
// aligned with values. The first n-1 entries are NaN; entry n-1 is the
// simple mean of the first n values.
func EMA(values []float64, n int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if n < 1 || len(values) < n {
		return out
	}
	alpha := 2.0 / (float64(n) + 1)
	v := stat.Mean(values[:n], nil)
	out[n-1] = v
	for i := n; i < len(values); i++ {
		v = alpha*values[i] + (1-alpha)*v
		out[i] = v
	}
	return out
}

// Crossover looks at the last two bars only. It reports LONG when the fast
// average moves from at or below the slow one to above it by more than eps,
// and SHORT for the mirror move.
func Crossover(closes []float64, fastLen, slowLen int, eps float64) (models.Side, bool) {
	need := max(fastLen, slowLen) + 1
	if fastLen < 1 || slowLen < 1 || len(closes) < need {
		return "", false
	}
	fast := EMA(closes, fastLen)
	slow := EMA(closes, slowLen)
	n := len(closes)

	dPrev := fast[n-2] - slow[n-2]
	dNow := fast[n-1] - slow[n-1]
	switch {
	case dPrev <= eps && dNow > eps:
		return models.SideLong, true
	case dPrev >= -eps && dNow < -eps:
		return models.SideShort, true
	}
	return "", false
}
