package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_core_passes_total", Help: "Completed passes by component and result"},
		[]string{"component", "result"},
	)
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "trade_core_item_outcomes_total", Help: "Per-item outcomes by component"},
		[]string{"component", "outcome"},
	)
	PassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trade_core_pass_duration_seconds",
			Help:    "Wall time of one pass",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"component"},
	)
)

func init() {
	prometheus.MustRegister(PassesTotal, OutcomesTotal, PassDuration)
}

// ObservePass records one pass and its per-outcome counts.
func ObservePass(component string, outcomes map[string]int, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PassesTotal.WithLabelValues(component, result).Inc()
	PassDuration.WithLabelValues(component).Observe(took.Seconds())
	for outcome, n := range outcomes {
		OutcomesTotal.WithLabelValues(component, outcome).Add(float64(n))
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
