package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"

	"github.com/wagerboard/leaderboard-proxy/internal/leaderboard"
	"github.com/wagerboard/leaderboard-proxy/internal/traceutil"
	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

const (
	applicationName = "leaderboard-proxy"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// load config as first thing
	cfg, err := loadConfig()
	if err != nil {
		slog.Default().Error("error loading config", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.versionInfo {
		fmt.Printf("%s %s\n", applicationName, version.Info())
		return
	}

	logger := slog.Default()

	// print version on start
	logger.Debug("config loaded", slog.String("version", version.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, prometheus.NewRegistry()); err != nil {
		logger.Error("error running leaderboard proxy", slog.Any("error", err))
		os.Exit(1)
	}
}

// run serves the leaderboard until ctx is done, then shuts down gracefully.
func run(ctx context.Context, cfg *config, reg *prometheus.Registry) error {
	logger := slog.Default()

	shutdownTracing, err := traceutil.Init(ctx, traceutil.Options{
		ServiceName: applicationName,
		SamplerURL:  cfg.tracingSamplerURL,
		Disabled:    cfg.tracingDisabled,
	})
	if err != nil {
		return fmt.Errorf("could not initialise tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("could not flush traces", slog.Any("error", err))
		}
	}()

	if err := registerMetrics(reg); err != nil {
		return fmt.Errorf("could not register metrics: %w", err)
	}

	// config is used here, call after config load
	metricsSrv, err := handleMetrics(ctx, cfg.metricsListen, reg)
	if err != nil {
		return fmt.Errorf("could not start metrics server: %w", err)
	}
	defer metricsSrv.Stop()

	client, err := upstream.NewClient(upstream.Config{
		URL:                cfg.upstreamURL,
		Timeout:            cfg.upstreamTimeout,
		MinInterval:        cfg.upstreamMinInterval,
		BreakerMaxFailures: uint32(cfg.breakerMaxFailures), //nolint:gosec // bounded in validate
		BreakerOpenTimeout: cfg.breakerOpenTimeout,
	})
	if err != nil {
		return fmt.Errorf("could not create upstream client: %w", err)
	}

	store := leaderboard.NewStore()
	svc := leaderboard.NewService(store, client, leaderboard.ServiceConfig{
		Unit: cfg.upstreamTimestampUnit,
	})
	poller := leaderboard.NewPoller(store, client, leaderboard.PollerConfig{
		Interval: cfg.pollInterval,
		Unit:     cfg.upstreamTimestampUnit,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rateLimiter
	if cfg.rateLimitEnabled {
		limiter = newRateLimiter(cfg.rateLimitRequestsPerSecond, cfg.rateLimitBurst, nil)
		limiter.start(ctx)

		logger.Info("per-client rate limiting enabled",
			slog.Float64("requests_per_second", cfg.rateLimitRequestsPerSecond),
			slog.Int("burst", cfg.rateLimitBurst))
	}

	listener, err := net.Listen("tcp", cfg.listen)
	if err != nil {
		return fmt.Errorf("error listening on address %q: %w", cfg.listen, err)
	}

	srv := &http.Server{
		Handler: newHandler(svc, poller, serverOptions{
			cacheMaxAge:        cfg.cacheMaxAge,
			corsAllowedOrigins: cfg.corsAllowedOrigins,
			trustProxyHeaders:  cfg.trustProxyHeaders,
			limiter:            limiter,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.readTimeout,
		WriteTimeout:      cfg.writeTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	pollerDone := make(chan struct{})
	go func() {
		defer close(pollerDone)
		poller.Run(ctx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(listener)
	}()

	logger.Info("listening on address", slog.String("address", listener.Addr().String()))

	select {
	case <-ctx.Done():
		logger.Warn("shutting down", slog.Any("cause", context.Cause(ctx)))
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancelShutdown()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("could not shut down server cleanly", slog.Any("error", serr))
	}

	cancel()
	<-pollerDone

	if err != nil {
		return fmt.Errorf("server terminated: %w", err)
	}

	return nil
}
