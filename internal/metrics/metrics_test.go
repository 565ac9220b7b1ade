package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObservePass(t *testing.T) {
	ObservePass("gate", map[string]int{"admitted": 2, "rejected:rr<min": 1}, nil, 40*time.Millisecond)
	ObservePass("gate", nil, errors.New("store down"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(PassesTotal.WithLabelValues("gate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(PassesTotal.WithLabelValues("gate", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(OutcomesTotal.WithLabelValues("gate", "admitted")))

	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "trade_core_pass_duration_seconds" {
			found = true
			break
		}
	}
	assert.True(t, found, "pass duration histogram not registered")
}
