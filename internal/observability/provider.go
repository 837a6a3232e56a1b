package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Tracing exporters selectable from config.
const (
	TracingOff    = "off"
	TracingStdout = "stdout"
)

// ValidTracing reports whether mode names a known exporter. Empty means off.
func ValidTracing(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", TracingOff, TracingStdout:
		return true
	default:
		return false
	}
}

// InitTracing installs a global tracer provider for mode and returns its
// shutdown func. With tracing off it installs nothing and shutdown is a no-op.
// out defaults to stdout.
func InitTracing(mode, role, id string, out io.Writer) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", TracingOff:
		return noop, nil
	case TracingStdout:
	default:
		return noop, fmt.Errorf("observability: unknown tracing exporter %q", mode)
	}
	if out == nil {
		out = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
	if err != nil {
		return noop, fmt.Errorf("observability: stdout exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", "edgemesh-"+role),
		attribute.String("service.instance.id", id),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
