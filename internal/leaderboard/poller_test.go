package leaderboard

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagerboard/leaderboard-proxy/internal/upstream"
)

func TestPollerTickRefreshesLifetime(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))
	store := NewStore()
	snap := snapshotOf(t, `{"username":"Alice123","wagerAmount":50}`)
	fetcher := &fakeFetcher{fetch: func(_, _ string) (upstream.Snapshot, error) { return snap, nil }}

	p := NewPoller(store, fetcher, PollerConfig{Clock: clock})
	p.tick(t.Context())

	assert.Equal(t, PollerRunning, p.State())
	assert.Equal(t, snap, store.Lifetime())
	assert.Equal(t, []fetchCall{{}}, fetcher.Calls())
}

func TestPollerTickSendsEndTime(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	clock := clockwork.NewFakeClockAt(now)
	store := NewStore()
	store.SetEndTimeIfEarlier(now.Add(time.Hour))
	fetcher := &fakeFetcher{}

	p := NewPoller(store, fetcher, PollerConfig{Clock: clock, Unit: Seconds})
	p.tick(t.Context())

	assert.Equal(t, []fetchCall{{endTime: "1700003600"}}, fetcher.Calls())
}

func TestPollerTickFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))
	store := NewStore()
	old := snapshotOf(t, `{"username":"old","wagerAmount":1}`)
	store.SetLifetime(old)

	fetcher := &fakeFetcher{fetch: func(_, _ string) (upstream.Snapshot, error) {
		return nil, &upstream.Error{Kind: upstream.ErrRateLimited, StatusCode: 400, Message: "TOO_MANY_REQUEST"}
	}}

	p := NewPoller(store, fetcher, PollerConfig{Clock: clock})
	p.tick(t.Context())
	p.tick(t.Context())

	assert.Equal(t, PollerRunning, p.State())
	assert.Equal(t, old, store.Lifetime())
	assert.Len(t, fetcher.Calls(), 2)
}

func TestPollerTickDiscardsSnapshotForOlderEndTime(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000000)
	clock := clockwork.NewFakeClockAt(now)
	store := NewStore()
	final := snapshotOf(t, `{"username":"final","wagerAmount":1}`)
	store.SetLifetime(final)

	// a request lowers the end time while the poll is in flight
	fetcher := &fakeFetcher{fetch: func(_, _ string) (upstream.Snapshot, error) {
		store.SetEndTimeIfEarlier(now.Add(-time.Minute))
		return snapshotOf(t, `{"username":"late","wagerAmount":99}`), nil
	}}

	p := NewPoller(store, fetcher, PollerConfig{Clock: clock})
	p.tick(t.Context())

	assert.Equal(t, final, store.Lifetime())
	assert.Equal(t, PollerRunning, p.State(), "stops on the next tick")

	p.tick(t.Context())
	assert.Equal(t, PollerStopped, p.State())
	assert.Len(t, fetcher.Calls(), 1)
}

func TestPollerStopsAtEndTime(t *testing.T) {
	t.Parallel()

	start := time.UnixMilli(1700000000000)
	clock := clockwork.NewFakeClockAt(start)
	store := NewStore()
	store.SetEndTimeIfEarlier(start.Add(30 * time.Second))
	fetcher := &fakeFetcher{}

	p := NewPoller(store, fetcher, PollerConfig{Clock: clock, Interval: 20 * time.Second})

	p.tick(t.Context())
	require.Len(t, fetcher.Calls(), 1)

	clock.Advance(30 * time.Second)
	p.tick(t.Context())
	assert.Equal(t, PollerStopped, p.State())

	// stopped is terminal, even if ticks keep coming or the end time moves
	clock.Advance(20 * time.Second)
	p.tick(t.Context())
	p.tick(t.Context())

	assert.Equal(t, PollerStopped, p.State())
	assert.Len(t, fetcher.Calls(), 1)
}

func TestPollerRunReturnsWhenStopped(t *testing.T) {
	t.Parallel()

	store := NewStore()
	store.SetEndTimeIfEarlier(time.Now().Add(-time.Minute))
	fetcher := &fakeFetcher{}

	p := NewPoller(store, fetcher, PollerConfig{Interval: 5 * time.Millisecond})

	done := make(chan struct{})
	go func() {
		p.Run(t.Context())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop after the end time")
	}

	assert.Equal(t, PollerStopped, p.State())
	assert.Empty(t, fetcher.Calls())
}

func TestPollerRunCancelled(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	p := NewPoller(NewStore(), fetcher, PollerConfig{Interval: time.Hour})

	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not return after cancellation")
	}

	assert.Equal(t, PollerRunning, p.State())
	assert.Empty(t, fetcher.Calls())
}

func TestPollerStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "running", PollerRunning.String())
	assert.Equal(t, "stopped", PollerStopped.String())
}
