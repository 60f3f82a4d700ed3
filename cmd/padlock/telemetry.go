package main

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// telemetry owns the tracer provider handed to locks.
type telemetry struct {
	Provider trace.TracerProvider
	shutdown func(context.Context) error
}

// setupTracing installs a provider exporting to w when stdout is set. When
// it is not, the global provider is used unchanged.
func setupTracing(_ context.Context, stdout bool, w io.Writer) (*telemetry, error) {
	if !stdout {
		return &telemetry{
			Provider: otel.GetTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("error creating the stdout trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)

	return &telemetry{Provider: tp, shutdown: tp.Shutdown}, nil
}

// Shutdown flushes pending spans.
func (t *telemetry) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
