package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wagerboard/leaderboard-proxy/internal/leaderboard"
)

const requestIDHeader = "X-Request-Id"

type leaderboardService interface {
	Query(ctx context.Context, q leaderboard.Query) (*leaderboard.Response, error)
}

type pollerStater interface {
	State() leaderboard.PollerState
}

//nolint:govet
type serverOptions struct {
	cacheMaxAge        time.Duration
	corsAllowedOrigins []string
	trustProxyHeaders  bool
	// limiter is nil when per-client rate limiting is disabled
	limiter *rateLimiter
}

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status string `json:"status"`
	Poller string `json:"poller"`
}

// newHandler returns the public HTTP handler serving the leaderboard API.
func newHandler(svc leaderboardService, poller pollerStater, opts serverOptions) http.Handler {
	r := mux.NewRouter()

	r.Handle("/api/leaderboard", leaderboardHandler(svc, opts.cacheMaxAge)).Methods(http.MethodGet)
	r.Handle("/healthz", healthHandler(poller)).Methods(http.MethodGet)

	var h http.Handler = instrumentHandler(r)

	h = handlers.CORS(
		handlers.AllowedOrigins(opts.corsAllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{requestIDHeader}),
		handlers.ExposedHeaders([]string{requestIDHeader}),
	)(h)

	if opts.limiter != nil {
		h = opts.limiter.middleware(h)
	}

	if opts.trustProxyHeaders {
		h = handlers.ProxyHeaders(h)
	}

	h = requestIDMiddleware(h)

	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelError)),
		handlers.PrintRecoveryStack(true),
	)(h)

	return otelhttp.NewHandler(h, "leaderboard-proxy",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func leaderboardHandler(svc leaderboardService, maxAge time.Duration) http.Handler {
	cacheControl := "public, max-age=" + strconv.Itoa(int(maxAge.Seconds()))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		params := r.URL.Query()

		resp, err := svc.Query(ctx, leaderboard.Query{
			StartTime: params.Get("startTime"),
			EndTime:   params.Get("endTime"),
		})
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, leaderboard.ErrWeeklyUnavailable) {
				status = http.StatusBadGateway
			}

			slog.ErrorContext(ctx, "leaderboard request failed",
				slog.String("component", "http"), slog.Int("status", status), slog.Any("error", err))

			writeJSON(ctx, w, status, errorBody{Error: err.Error()})

			return
		}

		w.Header().Set("Cache-Control", cacheControl)
		writeJSON(ctx, w, http.StatusOK, resp)
	})
}

func healthHandler(poller pollerStater) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, http.StatusOK, healthBody{
			Status: "ok",
			Poller: poller.State().String(),
		})
	})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(ctx, "could not write response", slog.String("component", "http"), slog.Any("error", err))
	}
}

type requestIDKey struct{}

// requestIDMiddleware tags every request with an id, reusing a valid
// incoming X-Request-Id, and echoes it in the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = generateUUID()
		}

		w.Header().Set(requestIDHeader, id)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func generateUUID() string {
	uniqueID, err := uuid.NewRandom()
	if err != nil {
		slog.Default().Error("could not generate UUIDv4", slog.Any("error", err))

		return ""
	}

	return uniqueID.String()
}
