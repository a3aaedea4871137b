package main

import (
	"flag"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerboard/leaderboard-proxy/internal/leaderboard"
)

func parseTestFlags(t *testing.T, args ...string) (*config, map[string]bool) {
	t.Helper()

	f := flag.NewFlagSet("test", flag.ContinueOnError)
	f.SetOutput(io.Discard)

	cfg := &config{}
	registerFlags(f, cfg)
	require.NoError(t, f.Parse(args))

	return cfg, flagsSet(f)
}

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg, set := parseTestFlags(t, "-upstream_url=https://example.com/stats")
	require.NoError(t, applyEnv(cfg, set, envOf(nil)))
	require.NoError(t, cfg.validate())

	assert.Equal(t, ":3001", cfg.listen)
	assert.Equal(t, 5*time.Second, cfg.upstreamTimeout)
	assert.Equal(t, 30*time.Second, cfg.upstreamMinInterval)
	assert.Equal(t, 20*time.Second, cfg.pollInterval)
	assert.Equal(t, time.Minute, cfg.cacheMaxAge)
	assert.Equal(t, leaderboard.Milliseconds, cfg.upstreamTimestampUnit)
	assert.Equal(t, []string{"*"}, cfg.corsAllowedOrigins)
	assert.False(t, cfg.rateLimitEnabled)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := envOf(map[string]string{
		"SHUFFLE_STATS_URL":     "https://affiliate.example.com/stats/abc",
		"SHUFFLE_STATS_TIMEOUT": "8",
		"PORT":                  "8000",
	})

	cfg, set := parseTestFlags(t)
	require.NoError(t, applyEnv(cfg, set, env))
	require.NoError(t, cfg.validate())

	assert.Equal(t, "https://affiliate.example.com/stats/abc", cfg.upstreamURL)
	assert.Equal(t, 8*time.Second, cfg.upstreamTimeout)
	assert.Equal(t, ":8000", cfg.listen)

	// fractional seconds are accepted
	cfg, set = parseTestFlags(t)
	require.NoError(t, applyEnv(cfg, set, envOf(map[string]string{"SHUFFLE_STATS_TIMEOUT": "2.5"})))
	assert.Equal(t, 2500*time.Millisecond, cfg.upstreamTimeout)
}

func TestApplyEnvFlagsWin(t *testing.T) {
	t.Parallel()

	env := envOf(map[string]string{
		"SHUFFLE_STATS_URL":     "https://env.example.com/stats",
		"SHUFFLE_STATS_TIMEOUT": "8",
		"PORT":                  "8000",
	})

	cfg, set := parseTestFlags(t,
		"-upstream_url=https://flag.example.com/stats",
		"-upstream_timeout=3s",
		"-listen=127.0.0.1:9000",
	)
	require.NoError(t, applyEnv(cfg, set, env))

	assert.Equal(t, "https://flag.example.com/stats", cfg.upstreamURL)
	assert.Equal(t, 3*time.Second, cfg.upstreamTimeout)
	assert.Equal(t, "127.0.0.1:9000", cfg.listen)
}

func TestApplyEnvInvalid(t *testing.T) {
	t.Parallel()

	for _, env := range []map[string]string{
		{"SHUFFLE_STATS_TIMEOUT": "soon"},
		{"SHUFFLE_STATS_TIMEOUT": "0"},
		{"SHUFFLE_STATS_TIMEOUT": "-1"},
		{"SHUFFLE_STATS_TIMEOUT": "NaN"},
		{"PORT": "http"},
		{"PORT": "70000"},
	} {
		cfg, set := parseTestFlags(t)
		assert.Error(t, applyEnv(cfg, set, envOf(env)), "%v", env)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tc := []struct {
		name string
		args []string
	}{
		{name: "missing url"},
		{name: "bad scheme", args: []string{"-upstream_url=ftp://example.com"}},
		{name: "unparseable url", args: []string{"-upstream_url=http://[::1"}},
		{name: "unknown unit", args: []string{"-upstream_url=http://example.com", "-upstream_timestamp_unit=ns"}},
		{name: "zero timeout", args: []string{"-upstream_url=http://example.com", "-upstream_timeout=0s"}},
		{name: "zero poll interval", args: []string{"-upstream_url=http://example.com", "-poll_interval=0s"}},
		{name: "negative min interval", args: []string{"-upstream_url=http://example.com", "-upstream_min_interval=-1s"}},
		{name: "negative max age", args: []string{"-upstream_url=http://example.com", "-cache_max_age=-1s"}},
		{
			name: "rate limit without budget",
			args: []string{"-upstream_url=http://example.com", "-rate_limit_enabled", "-rate_limit_burst=0"},
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, _ := parseTestFlags(t, tt.args...)
			require.Error(t, cfg.validate())
		})
	}
}

func TestConfigValidateParsesLists(t *testing.T) {
	t.Parallel()

	cfg, _ := parseTestFlags(t,
		"-upstream_url=http://example.com",
		"-upstream_timestamp_unit=s",
		"-cors_allowed_origins=https://a.example.com  https://b.example.com",
	)
	require.NoError(t, cfg.validate())

	assert.Equal(t, leaderboard.Seconds, cfg.upstreamTimestampUnit)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.corsAllowedOrigins)
}
