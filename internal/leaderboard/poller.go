package leaderboard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultPollInterval is how often the lifetime snapshot is refreshed.
const DefaultPollInterval = 20 * time.Second

// PollerState is the state of a Poller. Stopped is terminal.
type PollerState int32

const (
	PollerRunning PollerState = iota
	PollerStopped
)

func (s PollerState) String() string {
	switch s {
	case PollerRunning:
		return "running"
	case PollerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	Interval time.Duration
	// Unit is the timestamp unit of the endTime sent upstream.
	Unit  TimestampUnit
	Clock clockwork.Clock
}

// Poller periodically refreshes the lifetime snapshot until the leaderboard
// end time passes. Once stopped it never restarts, even if the end time
// later moves: a new process is needed to resume polling.
type Poller struct {
	store    *Store
	fetcher  Fetcher
	clock    clockwork.Clock
	interval time.Duration
	unit     TimestampUnit
	logger   *slog.Logger

	state atomic.Int32
}

func NewPoller(store *Store, fetcher Fetcher, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Unit == "" {
		cfg.Unit = Milliseconds
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	pollerStateGauge.Set(1)

	return &Poller{
		store:    store,
		fetcher:  fetcher,
		clock:    cfg.Clock,
		interval: cfg.Interval,
		unit:     cfg.Unit,
		logger:   slog.With(slog.String("component", "poller")),
	}
}

func (p *Poller) State() PollerState {
	return PollerState(p.state.Load())
}

// Run polls on every tick until the poller stops or ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.InfoContext(ctx, "poller started", slog.Duration("interval", p.interval))

	for p.State() == PollerRunning {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "poller cancelled")
			return
		case <-ticker.Chan():
			p.tick(ctx)
		}
	}
}

// tick performs one poll. It moves the poller to PollerStopped instead of
// fetching once the end time has been reached.
func (p *Poller) tick(ctx context.Context) {
	if p.State() == PollerStopped {
		return
	}

	end, hasEnd := p.store.EndTime()
	if hasEnd && !p.clock.Now().Before(end) {
		p.state.Store(int32(PollerStopped))
		pollerStateGauge.Set(0)

		p.logger.InfoContext(ctx, "leaderboard ended, poller stopped", slog.Time("end_time", end))

		return
	}

	endParam := ""
	if hasEnd {
		endParam = p.unit.format(end)
	}

	snapshot, err := p.fetcher.Fetch(ctx, "", endParam)
	if err != nil {
		pollsCounter.WithLabelValues("error").Inc()
		p.logger.WarnContext(ctx, "lifetime refresh failed, keeping previous snapshot", slog.Any("error", err))

		return
	}

	// the cutoff moved while the fetch was in flight; the snapshot may hold
	// wagers placed after the new end time
	if newEnd, ok := p.store.EndTime(); ok && (!hasEnd || newEnd.Before(end)) {
		pollsCounter.WithLabelValues("discarded").Inc()
		p.logger.DebugContext(ctx, "discarding lifetime snapshot fetched for an older end time", slog.Time("end_time", newEnd))

		return
	}

	p.store.SetLifetime(snapshot)
	pollsCounter.WithLabelValues("success").Inc()

	p.logger.DebugContext(ctx, "lifetime snapshot refreshed", slog.Int("entries", len(snapshot)))
}
