package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// withRecordingTracer installs an in-memory tracer provider as the global
// one for the duration of the test and returns its exporter.
func withRecordingTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs redirects the default slog logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestStartSpanRecordsNamedSpan(t *testing.T) {
	exp := withRecordingTracer(t)

	ctx, span := StartSpan(context.Background(), "session.start")
	if CorrelationID(ctx) == "" {
		t.Error("span context carries no trace id")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.start" {
		t.Fatalf("recorded spans = %+v, want one named session.start", spans)
	}
}

func TestCorrelationIDIsTheTraceID(t *testing.T) {
	withRecordingTracer(t)

	ctx, span := StartSpan(context.Background(), "batch.run")
	defer span.End()

	cid := CorrelationID(ctx)
	if want := span.SpanContext().TraceID().String(); cid != want {
		t.Errorf("CorrelationID = %q, want trace id %q", cid, want)
	}
}

func TestCorrelationIDWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID outside a span = %q, want empty", got)
	}
}

func TestLoggerStampsTraceFields(t *testing.T) {
	withRecordingTracer(t)
	buf := captureLogs(t)

	ctx, span := StartSpan(context.Background(), "tick")
	defer span.End()

	Logger(ctx).Info("tail processed", "session_id", "c1")

	line := buf.String()
	for _, field := range []string{"trace_id=", "span_id=", "session_id=c1"} {
		if !strings.Contains(line, field) {
			t.Errorf("log line missing %s: %s", field, line)
		}
	}
}

func TestLoggerWithoutSpanStaysPlain(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("startup")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log line outside a span carries trace_id: %s", buf.String())
	}
}

func TestTracerUsesServiceScope(t *testing.T) {
	exp := withRecordingTracer(t)

	_, span := Tracer().Start(context.Background(), "scope-check")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("instrumentation scope = %q, want %q", got, tracerName)
	}
}
