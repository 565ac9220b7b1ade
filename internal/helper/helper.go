package helper

import (
	"fmt"
	"math"
	"strings"
	"time"
	_ "time/tzdata" // trading timezones must resolve on minimal images
)

// ParseGranularity accepts "1m", "5m", "60m", "1h" and the "candle5m" form.
func ParseGranularity(raw string) (time.Duration, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("granularity %q: %w", raw, err)
	}
	if d < time.Minute || d%time.Minute != 0 {
		return 0, fmt.Errorf("granularity %q must be a whole number of minutes", raw)
	}
	return d, nil
}

// GranularityLabel renders d as "5m" / "60m".
func GranularityLabel(d time.Duration) string {
	return fmt.Sprintf("%dm", int(d/time.Minute))
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("clock %q: %w", raw, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// BucketStart floors ts to g in loc, counting buckets from anchor past
// local midnight, and returns the bucket start in UTC.
func BucketStart(ts time.Time, g time.Duration, loc *time.Location, anchor time.Duration) time.Time {
	local := ts.In(loc)
	origin := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Add(anchor)
	off := local.Sub(origin)
	n := off / g
	if off < 0 && off%g != 0 {
		n--
	}
	return origin.Add(n * g).UTC()
}

// TradeDay is the calendar day of ts in loc, as midnight UTC of that date.
func TradeDay(ts time.Time, loc *time.Location) time.Time {
	local := ts.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DayStart is local midnight of ts's trading day, in UTC.
func DayStart(ts time.Time, loc *time.Location) time.Time {
	local := ts.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).UTC()
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Floor(px/tick + 1e-9)
	return roundTo(steps*tick, tick)
}

func RoundUpToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	steps := math.Ceil(px/tick - 1e-9)
	return roundTo(steps*tick, tick)
}

// roundTo trims float noise left by steps*tick to the tick's precision.
func roundTo(px, tick float64) float64 {
	digits := 0
	for t := tick; t < 1 && digits < 10; t *= 10 {
		digits++
	}
	p := math.Pow(10, float64(digits+2))
	return math.Round(px*p) / p
}
