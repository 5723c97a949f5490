package observe

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	t.Parallel()

	if got := CorrelationID(context.Background()); got != "" {
		t.Fatalf("want empty correlation id, got %q", got)
	}
}

func TestCorrelationID_MatchesTraceID(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	want := trace.SpanContextFromContext(ctx).TraceID().String()
	if got := CorrelationID(ctx); got != want {
		t.Fatalf("correlation id = %q, want %q", got, want)
	}
}

func TestLogger_WithoutSpanIsDefault(t *testing.T) {
	t.Parallel()

	if Logger(context.Background()) == nil {
		t.Fatal("Logger returned nil")
	}
}
