package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultMinInterval is the spacing the upstream tolerates between calls.
const DefaultMinInterval = 30 * time.Second

// Gate enforces a minimum interval between successive upstream calls. All
// calls admitted by a Gate are serialized: at most one is in flight at a
// time, and the next one starts no earlier than minInterval after the
// previous one returned.
type Gate struct {
	clock       clockwork.Clock
	minInterval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewGate returns a gate spacing calls by minInterval. A nil clock uses the
// real clock.
func NewGate(minInterval time.Duration, clock clockwork.Clock) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Gate{
		clock:       clock,
		minInterval: minInterval,
	}
}

// Do waits for the gate to open and then runs fn while holding it. The time
// fn returned at becomes the reference for the next call whatever its
// result: failed calls are spaced too, not only successful responses.
// A caller whose ctx ends while waiting returns ctx.Err() and leaves the
// reference untouched.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if wait := g.delayLocked(); wait > 0 {
		start := g.clock.Now()

		select {
		case <-g.clock.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		gateWaitHistogram.Observe(g.clock.Since(start).Seconds())
	}

	err := fn(ctx)
	g.last = g.clock.Now()

	return err
}

func (g *Gate) delayLocked() time.Duration {
	if g.last.IsZero() {
		return 0
	}

	return g.minInterval - g.clock.Since(g.last)
}
