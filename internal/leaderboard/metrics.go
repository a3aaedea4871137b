package leaderboard

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	cacheLookupsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Name:      "cache_lookups_total",
		Help:      "leaderboard cache lookups by view and result",
	}, []string{"mode", "result"})

	pollsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Subsystem: "poller",
		Name:      "polls_total",
		Help:      "background lifetime refreshes by outcome",
	}, []string{"outcome"})

	pollerStateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leaderboard",
		Subsystem: "poller",
		Name:      "running",
		Help:      "1 while the background poller is running, 0 once it stopped",
	})

	endTimeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leaderboard",
		Name:      "end_time_seconds",
		Help:      "leaderboard end time as a Unix timestamp, 0 when unset",
	})
)

// RegisterMetrics registers the leaderboard collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	var errs []error

	for _, c := range []prometheus.Collector{cacheLookupsCounter, pollsCounter, pollerStateGauge, endTimeGauge} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("register leaderboard metrics: %w", err)
	}

	return nil
}
