package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateFirstCallDoesNotWait(t *testing.T) {
	t.Parallel()

	// a fake clock never fires on its own, so any wait would hang
	clock := clockwork.NewFakeClock()
	g := NewGate(time.Hour, clock)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	called := false
	err := g.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
}

func TestGateOpensAfterInterval(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	g := NewGate(30*time.Second, clock)

	require.NoError(t, g.Do(t.Context(), func(context.Context) error { return nil }))

	clock.Advance(30 * time.Second)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	require.NoError(t, g.Do(ctx, func(context.Context) error { return nil }))
}

func TestGateSpacesCalls(t *testing.T) {
	t.Parallel()

	const minInterval = 50 * time.Millisecond

	g := NewGate(minInterval, nil)

	var (
		mu    sync.Mutex
		calls []time.Time
	)

	record := func(context.Context) error {
		mu.Lock()
		calls = append(calls, time.Now())
		mu.Unlock()
		return nil
	}

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, g.Do(t.Context(), record))
		}()
	}
	wg.Wait()

	require.Len(t, calls, 3)
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i].Sub(calls[i-1]), minInterval)
	}
}

func TestGateMeasuresFromResponse(t *testing.T) {
	t.Parallel()

	const minInterval = 50 * time.Millisecond

	g := NewGate(minInterval, nil)

	var finished time.Time
	require.NoError(t, g.Do(t.Context(), func(context.Context) error {
		time.Sleep(2 * minInterval)
		finished = time.Now()
		return nil
	}))

	var started time.Time
	require.NoError(t, g.Do(t.Context(), func(context.Context) error {
		started = time.Now()
		return nil
	}))

	assert.GreaterOrEqual(t, started.Sub(finished), minInterval)
}

func TestGateFailedCallStillSpaces(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	g := NewGate(time.Minute, clock)

	boom := errors.New("boom")
	require.ErrorIs(t, g.Do(t.Context(), func(context.Context) error { return boom }), boom)

	// the next call has to wait, so it gives up when the context is done
	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := g.Do(ctx, func(context.Context) error {
		t.Error("call should not have been admitted")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
