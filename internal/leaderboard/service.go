package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/wagerboard/leaderboard-proxy/internal/traceutil"
	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

var tracer = otel.Tracer("github.com/wagerboard/leaderboard-proxy/internal/leaderboard")

// ErrWeeklyUnavailable is returned when a weekly snapshot is not cached and
// could not be fetched. There is no fallback for weekly data.
var ErrWeeklyUnavailable = errors.New("unable to fetch weekly leaderboard from upstream")

// Fetcher retrieves a leaderboard snapshot from the upstream. Empty
// arguments are omitted from the upstream request.
type Fetcher interface {
	Fetch(ctx context.Context, startTime, endTime string) (upstream.Snapshot, error)
}

// Query holds the raw client query parameters; empty means absent.
type Query struct {
	StartTime string
	EndTime   string
}

const (
	modeLifetime = "lifetime"
	modeWeekly   = "weekly"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Unit  TimestampUnit
	Clock clockwork.Clock
}

// Service answers leaderboard queries from the Store, going upstream only
// for uncached weekly ranges and for the final refresh once the
// leaderboard has ended.
type Service struct {
	store   *Store
	fetcher Fetcher
	clock   clockwork.Clock
	unit    TimestampUnit
	logger  *slog.Logger

	group singleflight.Group

	mu sync.Mutex
	// finalizedFor is the end time the last successful final refresh used
	finalizedFor time.Time
}

func NewService(store *Store, fetcher Fetcher, cfg ServiceConfig) *Service {
	if cfg.Unit == "" {
		cfg.Unit = Milliseconds
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Service{
		store:   store,
		fetcher: fetcher,
		clock:   cfg.Clock,
		unit:    cfg.Unit,
		logger:  slog.With(slog.String("component", "leaderboard")),
	}
}

// Query serves one leaderboard request. An endTime, when valid, lowers the
// leaderboard end time. With both startTime and endTime the weekly view for
// that range is returned, otherwise the lifetime view. The only error is
// ErrWeeklyUnavailable.
func (s *Service) Query(ctx context.Context, q Query) (*Response, error) {
	ctx, span := tracer.Start(ctx, "leaderboard.Query")
	defer span.End()

	if q.EndTime != "" {
		s.updateEndTime(ctx, q.EndTime)
	}

	var snapshot upstream.Snapshot

	if q.StartTime != "" && q.EndTime != "" {
		key := RangeKey(q.StartTime, q.EndTime)
		span.SetAttributes(traceutil.Mode(modeWeekly), traceutil.RangeKey(key))

		var err error
		snapshot, err = s.weekly(ctx, key, q)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrWeeklyUnavailable, err)

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())

			return nil, err
		}
	} else {
		span.SetAttributes(traceutil.Mode(modeLifetime))
		snapshot = s.lifetime(ctx)
	}

	resp := &Response{
		Data:  maskEntries(snapshot),
		Ended: s.Ended(),
	}

	span.SetAttributes(traceutil.Entries(len(resp.Data)), traceutil.Ended(resp.Ended))

	return resp, nil
}

// Ended reports whether the leaderboard end time has passed. It is
// evaluated against the clock on every call.
func (s *Service) Ended() bool {
	return s.store.Ended(s.clock.Now())
}

func (s *Service) updateEndTime(ctx context.Context, v string) {
	end, err := ParseEndTime(v)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring endTime", slog.String("end_time", v), slog.Any("error", err))
		return
	}

	if s.store.SetEndTimeIfEarlier(end) {
		s.logger.InfoContext(ctx, "leaderboard end time set", slog.Time("end_time", end))
	}
}

func (s *Service) weekly(ctx context.Context, key string, q Query) (upstream.Snapshot, error) {
	if snapshot, ok := s.store.Weekly(key); ok {
		cacheLookupsCounter.WithLabelValues(modeWeekly, "hit").Inc()
		return snapshot, nil
	}

	cacheLookupsCounter.WithLabelValues(modeWeekly, "miss").Inc()

	v, err, _ := s.group.Do("weekly:"+key, func() (any, error) {
		// filled by a call that finished while this one was queued
		if snapshot, ok := s.store.Weekly(key); ok {
			return snapshot, nil
		}

		// shared with other callers, so one of them leaving must not cancel it
		snapshot, err := s.fetcher.Fetch(context.WithoutCancel(ctx), s.unit.convert(q.StartTime), s.unit.convert(q.EndTime))
		if err != nil {
			s.logger.ErrorContext(ctx, "weekly fetch failed", slog.String("range", key), slog.Any("error", err))
			return nil, err
		}

		s.store.SetWeekly(key, snapshot)

		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(upstream.Snapshot), nil
}

func (s *Service) lifetime(ctx context.Context) upstream.Snapshot {
	end, hasEnd := s.store.EndTime()
	if !hasEnd || s.clock.Now().Before(end) {
		cacheLookupsCounter.WithLabelValues(modeLifetime, "hit").Inc()
		return s.store.Lifetime()
	}

	s.mu.Lock()
	done := s.finalizedFor.Equal(end)
	s.mu.Unlock()

	if done {
		cacheLookupsCounter.WithLabelValues(modeLifetime, "hit").Inc()
		return s.store.Lifetime()
	}

	cacheLookupsCounter.WithLabelValues(modeLifetime, "final_refresh").Inc()

	v, err, _ := s.group.Do("final:"+strconv.FormatInt(end.UnixMilli(), 10), func() (any, error) {
		snapshot, err := s.fetcher.Fetch(context.WithoutCancel(ctx), "", s.unit.format(end))
		if err != nil {
			return nil, err
		}

		s.store.SetLifetime(snapshot)

		s.mu.Lock()
		s.finalizedFor = end
		s.mu.Unlock()

		s.logger.InfoContext(ctx, "final lifetime snapshot stored",
			slog.Time("end_time", end), slog.Int("entries", len(snapshot)))

		return snapshot, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "final refresh failed, serving cached lifetime snapshot", slog.Any("error", err))
		return s.store.Lifetime()
	}

	return v.(upstream.Snapshot)
}
