package upstream

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leaderboard",
		Subsystem: "upstream",
		Name:      "fetch_duration_seconds",
		Help:      "duration of upstream leaderboard fetches, including the rate limit wait",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
	}, []string{"outcome"})

	gateWaitHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "leaderboard",
		Subsystem: "upstream",
		Name:      "gate_wait_seconds",
		Help:      "time spent waiting for the upstream rate limit interval",
		Buckets:   []float64{0.5, 1, 5, 10, 20, 30, 60},
	})

	breakerStateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leaderboard",
		Subsystem: "upstream",
		Name:      "breaker_state",
		Help:      "circuit breaker state (0 closed, 1 half-open, 2 open)",
	})
)

// RegisterMetrics registers the upstream collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	var errs []error

	for _, c := range []prometheus.Collector{fetchDurationHistogram, gateWaitHistogram, breakerStateGauge} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register upstream metrics: %w", err)
	}

	return nil
}
