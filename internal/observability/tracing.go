package observability

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/spec-kit/account-workflows/internal/config"
)

// TracerName is the instrumentation scope used by the workflow engines.
const TracerName = "github.com/spec-kit/account-workflows"

// SetupTracing installs the global tracer provider. When tracing is disabled
// a no-op provider is used and the returned shutdown does nothing.
func SetupTracing(ctx context.Context, cfg config.TracingConfig) (trace.Tracer, func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(TracerName), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(0)),
	)
	otel.SetTracerProvider(provider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(provider.ForceFlush(ctx), provider.Shutdown(ctx))
	}
	return provider.Tracer(TracerName), shutdown, nil
}
