package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func TestBucketStart(t *testing.T) {
	ist := mustLoc(t)
	anchor := 9*time.Hour + 15*time.Minute

	tests := []struct {
		name   string
		ts     time.Time
		g      time.Duration
		anchor time.Duration
		want   time.Time
	}{
		{
			name: "5m inside session",
			ts:   time.Date(2024, 10, 1, 9, 17, 42, 0, ist),
			g:    5 * time.Minute, anchor: anchor,
			want: time.Date(2024, 10, 1, 9, 15, 0, 0, ist),
		},
		{
			name: "60m aligned to open",
			ts:   time.Date(2024, 10, 1, 11, 5, 0, 0, ist),
			g:    time.Hour, anchor: anchor,
			want: time.Date(2024, 10, 1, 10, 15, 0, 0, ist),
		},
		{
			name: "before anchor floors backwards",
			ts:   time.Date(2024, 10, 1, 8, 0, 0, 0, ist),
			g:    time.Hour, anchor: anchor,
			want: time.Date(2024, 10, 1, 7, 15, 0, 0, ist),
		},
		{
			name: "midnight anchor",
			ts:   time.Date(2024, 10, 1, 11, 5, 0, 0, ist),
			g:    time.Hour, anchor: 0,
			want: time.Date(2024, 10, 1, 11, 0, 0, 0, ist),
		},
		{
			name: "exact boundary",
			ts:   time.Date(2024, 10, 1, 9, 20, 0, 0, ist),
			g:    5 * time.Minute, anchor: anchor,
			want: time.Date(2024, 10, 1, 9, 20, 0, 0, ist),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BucketStart(tt.ts.UTC(), tt.g, ist, tt.anchor)
			assert.True(t, got.Equal(tt.want), "got %s want %s", got, tt.want)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestTradeDayUsesTradingTimezone(t *testing.T) {
	ist := mustLoc(t)
	// 20:00 UTC on Sep 30 is already Oct 1 in IST.
	ts := time.Date(2024, 9, 30, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC), TradeDay(ts, ist))
	assert.True(t, DayStart(ts, ist).Equal(time.Date(2024, 10, 1, 0, 0, 0, 0, ist)))
}

func TestParseGranularity(t *testing.T) {
	for raw, want := range map[string]time.Duration{"1m": time.Minute, "5m": 5 * time.Minute, "candle15m": 15 * time.Minute, "1h": time.Hour, "60m": time.Hour} {
		got, err := ParseGranularity(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"30s", "abc", "90s"} {
		_, err := ParseGranularity(raw)
		assert.Error(t, err, raw)
	}
	assert.Equal(t, "60m", GranularityLabel(time.Hour))
}

func TestParseClock(t *testing.T) {
	d, err := ParseClock("09:15")
	require.NoError(t, err)
	assert.Equal(t, 9*time.Hour+15*time.Minute, d)

	d, err = ParseClock("")
	require.NoError(t, err)
	assert.Zero(t, d)

	_, err = ParseClock("9.15")
	assert.Error(t, err)
}

func TestRoundToTick(t *testing.T) {
	assert.Equal(t, 97.95, RoundDownToTick(97.97, 0.05))
	assert.Equal(t, 104.05, RoundUpToTick(104.01, 0.05))
	assert.Equal(t, 104.0, RoundUpToTick(104, 0.05))
	assert.Equal(t, 98.0, RoundDownToTick(98, 0.05))
	assert.Equal(t, 12.34, RoundDownToTick(12.34, 0))
}
