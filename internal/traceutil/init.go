package traceutil

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/prometheus/common/version"
	"go.opentelemetry.io/contrib/samplers/jaegerremote"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
)

const defaultSamplerURL = "http://localhost:5778/sampling"

// Options configures the trace provider.
type Options struct {
	ServiceName string
	// SamplerURL is the Jaeger remote sampling endpoint. Falls back to
	// $JAEGER_SAMPLER_MANAGER_HOST_PORT, then to a local agent.
	SamplerURL string
	// Disabled installs no provider; spans become no-ops.
	Disabled bool
}

// Init sets up an OTLP gRPC exporter as the global trace provider and
// returns a function flushing and closing it.
//
// The exporter itself is configured through the standard OTEL_EXPORTER_OTLP_*
// environment variables.
func Init(ctx context.Context, opts Options, batchOptions ...sdktrace.BatchSpanProcessorOption) (func(context.Context) error, error) {
	// the provider outlives the caller's context so the last batch can be sent
	ctx = context.WithoutCancel(ctx)

	logger := slog.With(slog.String("component", "trace"))

	// the Go SDK ignores OTEL_SDK_DISABLED, so honour it here
	if disabled, _ := strconv.ParseBool(os.Getenv("OTEL_SDK_DISABLED")); disabled || opts.Disabled {
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, opts.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOptions...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(opts)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.ErrorContext(ctx, "OTel error", slog.Any("error", err))
	}))

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		logger.DebugContext(ctx, "trace provider shutting down")

		if err := tp.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown trace provider: %w", err)
		}

		return nil
	}

	return shutdown, nil
}

func newSampler(opts Options) sdktrace.Sampler {
	samplerURL := opts.SamplerURL
	if samplerURL == "" {
		samplerURL = os.Getenv("JAEGER_SAMPLER_MANAGER_HOST_PORT")
	}
	if samplerURL == "" {
		samplerURL = defaultSamplerURL
	}

	return jaegerremote.New(
		opts.ServiceName,
		jaegerremote.WithSamplingServerURL(samplerURL),
		jaegerremote.WithSamplingRefreshInterval(time.Minute),
		jaegerremote.WithInitialSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.1))),
	)
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	module := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		module = bi.Main.Path
	}

	return resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
		resource.WithContainer(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version.Version),
			attribute.String("service.revision", version.Revision),
			attribute.String("module.path", module),
		),
	)
}
