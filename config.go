package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vharitonsky/iniflags"

	"github.com/wagerboard/leaderboard-proxy/internal/leaderboard"
	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

//nolint:govet
type config struct {
	logFormat                  string
	logLevel                   string
	listen                     string
	metricsListen              string
	upstreamURL                string
	upstreamTimeout            time.Duration
	upstreamMinInterval        time.Duration
	upstreamTimestampUnitStr   string
	pollInterval               time.Duration
	breakerMaxFailures         uint
	breakerOpenTimeout         time.Duration
	cacheMaxAge                time.Duration
	corsAllowedOriginsStr      string
	rateLimitEnabled           bool
	rateLimitRequestsPerSecond float64
	rateLimitBurst             int
	readTimeout                time.Duration
	writeTimeout               time.Duration
	trustProxyHeaders          bool
	tracingDisabled            bool
	tracingSamplerURL          string
	versionInfo                bool
	upstreamTimestampUnit      leaderboard.TimestampUnit
	corsAllowedOrigins         []string
}

const defaultUpstreamTimeout = 5 * time.Second

func loadConfig() (*config, error) {
	cfg := config{}
	registerFlags(flag.CommandLine, &cfg)

	iniflags.Parse()

	setupLogger(cfg.logFormat, cfg.logLevel)

	if err := applyEnv(&cfg, flagsSet(flag.CommandLine), os.Getenv); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func registerFlags(f *flag.FlagSet, cfg *config) {
	f.StringVar(&cfg.logFormat, "log_format", "json", "Log format - json or logfmt")
	f.StringVar(&cfg.logLevel, "log_level", "info", "Minimum log level to output")
	f.StringVar(&cfg.listen, "listen", ":3001", "Address and port to listen for leaderboard requests (set $PORT to use env var instead)")
	f.StringVar(&cfg.metricsListen, "metrics_listen", ":8080", "Address and port to listen for metrics exposition")
	f.StringVar(&cfg.upstreamURL, "upstream_url", "", "Upstream affiliate stats URL (set $SHUFFLE_STATS_URL to use env var instead)")
	f.DurationVar(&cfg.upstreamTimeout, "upstream_timeout", defaultUpstreamTimeout, "Timeout for a single upstream request (set $SHUFFLE_STATS_TIMEOUT in seconds to use env var instead)")
	f.DurationVar(&cfg.upstreamMinInterval, "upstream_min_interval", upstream.DefaultMinInterval, "Minimum time between the end of one upstream call and the start of the next")
	f.StringVar(&cfg.upstreamTimestampUnitStr, "upstream_timestamp_unit", string(leaderboard.Milliseconds), "Unit of the timestamps sent upstream - ms or s")
	f.DurationVar(&cfg.pollInterval, "poll_interval", leaderboard.DefaultPollInterval, "How often the lifetime leaderboard is refreshed")
	f.UintVar(&cfg.breakerMaxFailures, "breaker_max_failures", 5, "Consecutive upstream failures before the circuit opens, 0 to disable")
	f.DurationVar(&cfg.breakerOpenTimeout, "breaker_open_timeout", time.Minute, "How long the circuit stays open before a trial request")
	f.DurationVar(&cfg.cacheMaxAge, "cache_max_age", time.Minute, "max-age sent in the Cache-Control header of successful responses")
	f.StringVar(&cfg.corsAllowedOriginsStr, "cors_allowed_origins", "*", "Origins allowed to read the leaderboard from a browser, separated by spaces")
	f.BoolVar(&cfg.rateLimitEnabled, "rate_limit_enabled", false, "Enable per-client rate limiting")
	f.Float64Var(&cfg.rateLimitRequestsPerSecond, "rate_limit_requests_per_second", 5, "Maximum requests per second per client")
	f.IntVar(&cfg.rateLimitBurst, "rate_limit_burst", 10, "Burst capacity for rate limiter")
	f.DurationVar(&cfg.readTimeout, "read_timeout", 10*time.Second, "Timeout for reading a request")
	f.DurationVar(&cfg.writeTimeout, "write_timeout", 2*time.Minute, "Timeout for writing a response (covers the upstream rate limit wait)")
	f.BoolVar(&cfg.trustProxyHeaders, "trust_proxy_headers", false, "Take the client address from X-Forwarded-For/X-Real-IP (only behind a trusted proxy)")
	f.BoolVar(&cfg.tracingDisabled, "tracing_disabled", false, "Disable trace export")
	f.StringVar(&cfg.tracingSamplerURL, "tracing_sampler_url", "", "Jaeger remote sampling URL (defaults to $JAEGER_SAMPLER_MANAGER_HOST_PORT)")
	f.BoolVar(&cfg.versionInfo, "version", false, "Show version information")
}

// flagsSet returns the names of the flags set on the command line or in the
// config file.
func flagsSet(f *flag.FlagSet) map[string]bool {
	set := map[string]bool{}
	f.Visit(func(fl *flag.Flag) {
		set[fl.Name] = true
	})

	return set
}

// applyEnv fills settings from the environment variables used by existing
// deployments. Explicitly set flags win.
func applyEnv(cfg *config, set map[string]bool, getenv func(string) string) error {
	logger := slog.With(slog.String("component", "config"))

	if !set["upstream_url"] {
		if v := getenv("SHUFFLE_STATS_URL"); v != "" {
			logger.Debug("upstream_url taken from SHUFFLE_STATS_URL env var")
			cfg.upstreamURL = v
		}
	}

	if !set["upstream_timeout"] {
		if v := getenv("SHUFFLE_STATS_TIMEOUT"); v != "" {
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil || !(secs > 0) || math.IsInf(secs, 1) {
				return fmt.Errorf("invalid SHUFFLE_STATS_TIMEOUT %q: must be a positive number of seconds", v)
			}

			cfg.upstreamTimeout = time.Duration(secs * float64(time.Second))
		}
	}

	if !set["listen"] {
		if v := getenv("PORT"); v != "" {
			if _, err := strconv.ParseUint(v, 10, 16); err != nil {
				return fmt.Errorf("invalid PORT %q: %w", v, err)
			}

			logger.Debug("listen address taken from PORT env var", slog.String("port", v))
			cfg.listen = net.JoinHostPort("", v)
		}
	}

	return nil
}

func (cfg *config) validate() error {
	if cfg.upstreamURL == "" {
		return errors.New("upstream_url is required (or set SHUFFLE_STATS_URL)")
	}

	u, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return fmt.Errorf("parse upstream_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream_url %q: scheme must be http or https", cfg.upstreamURL)
	}

	unit, err := leaderboard.ParseTimestampUnit(cfg.upstreamTimestampUnitStr)
	if err != nil {
		return err
	}
	cfg.upstreamTimestampUnit = unit

	for name, d := range map[string]time.Duration{
		"upstream_timeout":     cfg.upstreamTimeout,
		"poll_interval":        cfg.pollInterval,
		"breaker_open_timeout": cfg.breakerOpenTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if cfg.upstreamMinInterval < 0 {
		return fmt.Errorf("upstream_min_interval must not be negative, got %s", cfg.upstreamMinInterval)
	}
	if cfg.cacheMaxAge < 0 {
		return fmt.Errorf("cache_max_age must not be negative, got %s", cfg.cacheMaxAge)
	}
	if cfg.breakerMaxFailures > math.MaxUint32 {
		return fmt.Errorf("breaker_max_failures too large: %d", cfg.breakerMaxFailures)
	}

	if cfg.rateLimitEnabled && (cfg.rateLimitRequestsPerSecond <= 0 || cfg.rateLimitBurst <= 0) {
		return errors.New("rate_limit_requests_per_second and rate_limit_burst must be positive when rate limiting is enabled")
	}

	cfg.corsAllowedOrigins = strings.Fields(cfg.corsAllowedOriginsStr)

	return nil
}
