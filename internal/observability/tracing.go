package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"

	"cmip6cat/internal/platform/logger"
)

// TracerName is the instrumentation scope of pipeline spans.
const TracerName = "cmip6cat/session"

const defaultServiceName = "cmip6cat"

// NewTracerProvider returns a provider that writes finished spans to w as
// JSON through the OpenTelemetry stdout exporter. No collector is involved.
// Export failures are logged. Shutdown flushes pending spans and must be
// called before w is closed.
func NewTracerProvider(ctx context.Context, w io.Writer, service string, log *logger.Logger) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	name := strings.TrimSpace(service)
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		log.Warn("otel resource init failed (continuing)", "error", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(loggingExporter{SpanExporter: exp, log: log}),
		sdktrace.WithResource(res),
	), nil
}

// EndSpan records err on span, when set, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

type loggingExporter struct {
	sdktrace.SpanExporter
	log *logger.Logger
}

func (e loggingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	err := e.SpanExporter.ExportSpans(ctx, spans)
	if err != nil {
		e.log.Warn("span export failed", "spans", len(spans), "error", err)
	}
	return err
}
