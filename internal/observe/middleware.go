package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var tracePropagator = propagation.TraceContext{}

// respRecorder remembers the status code the handler wrote. A handler that
// never calls WriteHeader implicitly answered 200.
type respRecorder struct {
	http.ResponseWriter
	status int
}

func (r *respRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses a request path to a bounded set of values for span
// names and metric attributes. Consultation ids must not leak into either.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/sessions/") {
		return "/sessions/{id}"
	}
	return path
}

// probePath reports whether the path is one of the endpoints load balancers
// and scrapers poll continuously.
func probePath(path string) bool {
	switch path {
	case "/healthz", "/readyz", "/metrics":
		return true
	}
	return false
}

// Instrument wraps next with the request-level observability surface: it
// joins an incoming W3C trace (or opens a new one), answers with the trace id
// in X-Correlation-ID so clients can quote it when reporting problems,
// records the request duration histogram per route, and writes one completion
// log line. Probe endpoints log at debug so readiness polling does not drown
// the session lifecycle logs.
func Instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := routeLabel(r.URL.Path)

		ctx := tracePropagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := StartSpan(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		cid := CorrelationID(ctx)
		if cid != "" {
			w.Header().Set("X-Correlation-ID", cid)
		}
		tracePropagator.Inject(ctx, propagation.HeaderCarrier(w.Header()))

		rec := &respRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
		m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
			metric.WithAttributes(
				attribute.String("method", r.Method),
				attribute.String("route", route),
				attribute.Int("status", rec.status),
			),
		)

		level := slog.LevelInfo
		if probePath(r.URL.Path) {
			level = slog.LevelDebug
		}
		Logger(ctx).Log(ctx, level, "http request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", elapsed,
		)
	})
}
