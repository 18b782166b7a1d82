package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Tracing exports spans over OTLP/HTTP when an endpoint is configured, and
// is a no-op otherwise.
type Tracing struct {
	logger   *zap.Logger
	tracer   oteltrace.Tracer
	provider *trace.TracerProvider
	enabled  bool
}

// NewTracing initializes the exporter when endpoint is non-empty. The
// endpoint is host:port without a scheme; transport is plain HTTP.
func NewTracing(serviceName, serviceVersion, endpoint string, logger *zap.Logger) (*Tracing, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracing{logger: logger.With(zap.String("component", "tracing"))}
	if endpoint == "" {
		return t, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	t.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
	)
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.tracer = otel.Tracer(serviceName)
	t.enabled = true

	t.logger.Info("Tracing enabled", zap.String("endpoint", endpoint))
	return t, nil
}

// StartToolSpan opens a span around one tool invocation. Disabled tracing
// returns the context unchanged with a no-op span.
func (t *Tracing) StartToolSpan(ctx context.Context, tool, mode string) (context.Context, oteltrace.Span) {
	if !t.enabled {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, "tool.call",
		oteltrace.WithAttributes(
			attribute.String("tool.name", tool),
			attribute.String("transport.mode", mode),
		))
}

// Close flushes pending spans.
func (t *Tracing) Close(ctx context.Context) error {
	if !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
