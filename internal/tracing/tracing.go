// Package tracing wires request-scoped identity tracing (spec §2's
// component (c) responsibility) through OpenTelemetry: a no-op tracer when
// OTEL_EXPORTER_OTLP_ENDPOINT is unset, and an OTLP/gRPC exporter when it
// is configured (SPEC_FULL §2/§6).
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "gemini-oauth-proxy/upstream"

// Init configures the global tracer provider. With an empty endpoint the
// default no-op provider is left in place.
func Init(ctx context.Context, otlpEndpoint string) (shutdown func(context.Context) error, err error) {
	if otlpEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(otlpEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("tracing: build otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName("gemini-oauth-proxy")))
	if err != nil {
		return nil, fmt.Errorf("tracing: build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return provider.Shutdown, nil
}

// StartSpan starts a span for one upstream call attempt, carrying the
// request id, account index, and attempt number as attributes.
func StartSpan(ctx context.Context, requestID string, accountIndex, attempt int) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, "upstream.call",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.Int("upstream.account_index", accountIndex),
			attribute.Int("upstream.attempt", attempt),
		),
	)
}

// EndSpan records the outcome and closes the span.
func EndSpan(span trace.Span, statusCode int, retryTotal int, dur time.Duration) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("upstream.retry_total", retryTotal),
		attribute.Int64("upstream.latency_ms", dur.Milliseconds()),
	)
	span.End()
}
