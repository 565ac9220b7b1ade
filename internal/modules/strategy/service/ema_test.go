package service

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_core/internal/models"
)

func TestEMA(t *testing.T) {
	got := EMA([]float64{1, 2, 3, 4}, 3)
	require.Len(t, got, 4)
	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-12, "seeded with the simple mean")
	assert.InDelta(t, 3.0, got[3], 1e-12)

	short := EMA([]float64{1, 2}, 3)
	assert.True(t, math.IsNaN(short[0]) && math.IsNaN(short[1]))
}

// buyCloses ends with EMA9 crossing above EMA21 on the last bar.
func buyCloses() []float64 {
	out := make([]float64, 0, 23)
	for i := 0; i < 20; i++ {
		out = append(out, 99)
	}
	return append(out, 98, 99, 100)
}

func sellCloses() []float64 {
	out := make([]float64, 0, 23)
	for i := 0; i < 20; i++ {
		out = append(out, 101)
	}
	return append(out, 102, 101, 100)
}

func TestCrossover(t *testing.T) {
	tests := []struct {
		name   string
		closes []float64
		side   models.Side
		ok     bool
	}{
		{"buy on last bar", buyCloses(), models.SideLong, true},
		{"sell on last bar", sellCloses(), models.SideShort, true},
		{"flat series", make23(99), "", false},
		{"fast still below slow", buyCloses()[:22], "", false},
		{"too short", buyCloses()[:21], "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			side, ok := Crossover(tc.closes, 9, 21, 1e-6)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.side, side)
		})
	}
}

func TestCrossoverSeriesShape(t *testing.T) {
	closes := buyCloses()
	fast, slow := EMA(closes, 9), EMA(closes, 21)
	n := len(closes)
	assert.LessOrEqual(t, fast[n-2], slow[n-2])
	assert.Greater(t, fast[n-1], slow[n-1])
}

func make23(v float64) []float64 {
	out := make([]float64, 23)
	for i := range out {
		out[i] = v
	}
	return out
}
