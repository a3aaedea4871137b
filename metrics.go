package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	versioncollector "github.com/prometheus/client_golang/prometheus/collectors/version"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wagerboard/leaderboard-proxy/internal/leaderboard"
	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

var (
	requestsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "count of leaderboard HTTP requests by status code",
	}, []string{"code"})

	durationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "leaderboard",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "duration of leaderboard HTTP requests",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"code"})

	rateLimitedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "leaderboard",
		Subsystem: "http",
		Name:      "rate_limited_total",
		Help:      "count of requests rejected by the per-client rate limiter",
	})

	trackedClientsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "leaderboard",
		Subsystem: "http",
		Name:      "rate_limited_clients",
		Help:      "number of clients with a live rate limit bucket",
	})
)

// registerMetrics registers the process, HTTP and domain collectors with reg.
func registerMetrics(reg prometheus.Registerer) error {
	var errs []error

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		versioncollector.NewCollector("leaderboard_proxy"),
		requestsCounter,
		durationHistogram,
		rateLimitedCounter,
		trackedClientsGauge,
	} {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}

	errs = append(errs, upstream.RegisterMetrics(reg), leaderboard.RegisterMetrics(reg))

	return errors.Join(errs...)
}

// instrumentHandler records request counts and durations for h.
func instrumentHandler(h http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(requestsCounter,
		promhttp.InstrumentHandlerDuration(durationHistogram, h))
}

func handleMetrics(ctx context.Context, addr string, reg *prometheus.Registry) (*instrumentationServer, error) {
	// Setup listeners first, so we can fail early if the address is in use.
	httpListener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen at %s: %w", addr, err)
	}

	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.InstrumentMetricHandler(
		reg,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		}),
	))

	srv := &http.Server{
		// 5s timeout for header reads to avoid Slowloris attacks (https://thetooth.io/blog/slowloris-attack/)
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	logger := slog.With(slog.String("component", "instrumentation"))

	go func() {
		err := srv.Serve(httpListener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("instrumentation server terminated with error", slog.Any("error", err))
		}
	}()

	logger.Info("instrumentation server listening", slog.String("addr", httpListener.Addr().String()))

	return &instrumentationServer{srv: srv, addr: httpListener.Addr()}, nil
}

type instrumentationServer struct {
	srv  *http.Server
	addr net.Addr
}

func (m *instrumentationServer) Addr() string {
	return m.addr.String()
}

func (m *instrumentationServer) Stop() {
	_ = m.srv.Close()
}
