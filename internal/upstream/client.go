package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagerboard/leaderboard-proxy/internal/traceutil"
)

const (
	// DefaultTimeout bounds a single upstream HTTP call.
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 10 << 20
	userAgent    = "leaderboard-proxy/1"
)

var tracer = otel.Tracer("github.com/wagerboard/leaderboard-proxy/internal/upstream")

// Snapshot is the leaderboard exactly as the upstream returned it: one raw
// JSON value per record, in upstream order.
type Snapshot []json.RawMessage

// Config configures a Client.
type Config struct {
	URL     string
	Timeout time.Duration

	// MinInterval is the minimum spacing between two upstream calls.
	MinInterval time.Duration

	// BreakerMaxFailures is the number of consecutive failures that opens
	// the circuit breaker. Zero disables tripping.
	BreakerMaxFailures uint32
	// BreakerOpenTimeout is how long the breaker stays open before letting
	// a probe request through.
	BreakerOpenTimeout time.Duration

	// Transport is the base round tripper, http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Clock drives the rate limiting gate, the real clock if nil.
	Clock clockwork.Clock
}

// Client fetches leaderboard snapshots from the upstream stats API. Every
// call goes through a circuit breaker and a shared Gate, so no two calls
// are ever closer than Config.MinInterval.
type Client struct {
	url     *url.URL
	http    *http.Client
	gate    *Gate
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: unsupported scheme %q", cfg.URL, u.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	logger := slog.With(slog.String("component", "upstream_client"))

	c := &Client{
		url: u,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		gate:   NewGate(cfg.MinInterval, cfg.Clock),
		logger: logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "upstream",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerMaxFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		// the upstream throttling us is not a sign that it is down
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			breakerStateGauge.Set(float64(to))
		},
	})

	return c, nil
}

// Fetch retrieves a snapshot, optionally restricted to [startTime, endTime].
// Empty arguments are omitted from the request; non-empty ones are sent
// verbatim. Errors are always *Error.
func (c *Client) Fetch(ctx context.Context, startTime, endTime string) (Snapshot, error) {
	ctx, span := tracer.Start(ctx, "upstream.Fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			traceutil.StartTime(startTime),
			traceutil.EndTime(endTime),
		),
	)
	defer span.End()

	start := time.Now()

	var snapshot Snapshot
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.gate.Do(ctx, func(ctx context.Context) error {
			var err error
			snapshot, err = c.get(ctx, startTime, endTime)
			return err
		})
	})

	var uerr *Error
	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		err = &Error{Kind: ErrCircuitOpen, Err: err}
	case !errors.As(err, &uerr):
		// the caller gave up while waiting on the gate
		err = transportError(err)
	}

	fetchDurationHistogram.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return nil, err
	}

	span.SetAttributes(traceutil.Entries(len(snapshot)))

	return snapshot, nil
}

func (c *Client) get(ctx context.Context, startTime, endTime string) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(startTime, endTime), nil)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.DebugContext(ctx, "fetching leaderboard from upstream",
		slog.String("start_time", startTime), slog.String("end_time", endTime))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	trace.SpanFromContext(ctx).SetAttributes(traceutil.StatusCode(resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &Error{Kind: transportError(err).Kind, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode == http.StatusBadRequest {
		return c.badRequest(ctx, body)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: ErrStatus, StatusCode: resp.StatusCode, Message: upstreamMessage(body)}
	}

	var snapshot Snapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		return nil, &Error{Kind: ErrFormat, StatusCode: resp.StatusCode, Err: err}
	}

	// a JSON null decodes without error
	if snapshot == nil {
		return nil, &Error{Kind: ErrFormat, StatusCode: resp.StatusCode, Err: errors.New("payload is not an array")}
	}

	c.logger.DebugContext(ctx, "fetched leaderboard from upstream", slog.Int("entries", len(snapshot)))

	return snapshot, nil
}

func (c *Client) badRequest(ctx context.Context, body []byte) (Snapshot, error) {
	msg := upstreamMessage(body)

	switch msg {
	case messageTooManyRequests:
		c.logger.WarnContext(ctx, "upstream rate limit exceeded")
		return nil, &Error{Kind: ErrRateLimited, StatusCode: http.StatusBadRequest, Message: msg}
	case messageNoReferees:
		// nobody has wagered yet, which is a valid (empty) leaderboard
		c.logger.InfoContext(ctx, "no referees found upstream")
		return Snapshot{}, nil
	default:
		return nil, &Error{Kind: ErrStatus, StatusCode: http.StatusBadRequest, Message: msg}
	}
}

func (c *Client) requestURL(startTime, endTime string) string {
	u := *c.url

	q := u.Query()
	if startTime != "" {
		q.Set("startTime", startTime)
	}
	if endTime != "" {
		q.Set("endTime", endTime)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	return payload.Message
}

func transportError(err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Kind: ErrTimeout, Err: err}
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrCanceled, Err: err}
	}

	return &Error{Kind: ErrNetwork, Err: err}
}
