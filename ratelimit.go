package main

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	idleClientSweepInterval = 5 * time.Minute
	idleClientTTL           = 15 * time.Minute
)

// rateLimiter keeps one token bucket per client IP. Buckets of clients that
// have been quiet for idleTTL are swept so the map tracks active callers
// only.
type rateLimiter struct {
	clock clockwork.Clock
	limit rate.Limit
	burst int

	sweepInterval time.Duration
	idleTTL       time.Duration

	mu      sync.Mutex
	clients map[string]*clientBucket
}

type clientBucket struct {
	tokens   *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(requestsPerSecond float64, burst int, clock clockwork.Clock) *rateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &rateLimiter{
		clock:         clock,
		limit:         rate.Limit(requestsPerSecond),
		burst:         burst,
		sweepInterval: idleClientSweepInterval,
		idleTTL:       idleClientTTL,
		clients:       make(map[string]*clientBucket),
	}
}

// start sweeps idle clients until ctx is done
func (rl *rateLimiter) start(ctx context.Context) {
	go rl.sweepLoop(ctx)
}

// take spends one token of client's bucket. When the bucket is empty it
// returns false and how long until a token is available.
func (rl *rateLimiter) take(client string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	b, ok := rl.clients[client]
	if !ok {
		b = &clientBucket{tokens: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[client] = b
		trackedClientsGauge.Set(float64(len(rl.clients)))
	}
	b.lastSeen = now
	rl.mu.Unlock()

	r := b.tokens.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}

	if delay := r.DelayFrom(now); delay > 0 {
		// only probing, the token is not spent
		r.CancelAt(now)
		return false, delay
	}

	return true, 0
}

// middleware rejects requests over the client's budget with 429 and a
// Retry-After rounded up to whole seconds.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientKey(r)

		ok, wait := rl.take(client)
		if !ok {
			rateLimitedCounter.Inc()

			slog.WarnContext(r.Context(), "client rate limited",
				slog.String("component", "rate_limiter"), slog.String("client", client), slog.Duration("retry_after", wait))

			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			writeJSON(r.Context(), w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})

			return
		}

		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(wait time.Duration) int {
	return max(1, int(math.Ceil(wait.Seconds())))
}

// clientKey identifies the client by IP address, without the port
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

func (rl *rateLimiter) sweepLoop(ctx context.Context) {
	ticker := rl.clock.NewTicker(rl.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			rl.sweepIdle()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *rateLimiter) sweepIdle() {
	cutoff := rl.clock.Now().Add(-rl.idleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	for client, b := range rl.clients {
		if b.lastSeen.Before(cutoff) {
			delete(rl.clients, client)
		}
	}

	trackedClientsGauge.Set(float64(len(rl.clients)))
}

func (rl *rateLimiter) trackedClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return len(rl.clients)
}
