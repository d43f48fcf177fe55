// Package observe provides application-wide observability primitives for the
// note taker service: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all note taker metrics.
const meterName = "github.com/remoteree/patient-note-taker-asean"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ProviderCallDuration tracks transcription provider call latency. For
	// batch vendors this includes polling time. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("capability", ...)
	ProviderCallDuration metric.Float64Histogram

	// ChunkProcessingDuration tracks per-chunk batch pipeline latency
	// (splitting excluded, transcription included).
	ChunkProcessingDuration metric.Float64Histogram

	// SessionDuration tracks how long transcription sessions stay open, from
	// start to stop or cancel.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts established sessions. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("provider", ...)
	SessionsStarted metric.Int64Counter

	// SessionsFinished counts sessions leaving the registry. Use with
	// attribute: attribute.String("outcome", ...) — completed, failed,
	// cancelled, partial.
	SessionsFinished metric.Int64Counter

	// AudioBytesReceived counts raw audio bytes ingested over WebSocket.
	AudioBytesReceived metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("capability", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("class", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveStreams tracks the number of open vendor streaming connections.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, normalized route, and response status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets accommodate batch vendor polling, which routinely takes tens of
// seconds per chunk.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// sessionBuckets covers session lifetimes, which run from seconds to the
// length of a full consultation.
var sessionBuckets = []float64{
	10, 30, 60, 120, 300, 600, 1200, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ProviderCallDuration, err = m.Float64Histogram("notetaker.provider.call.duration",
		metric.WithDescription("Latency of transcription provider calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkProcessingDuration, err = m.Float64Histogram("notetaker.chunk.duration",
		metric.WithDescription("Per-chunk batch pipeline latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("notetaker.session.duration",
		metric.WithDescription("Lifetime of transcription sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsStarted, err = m.Int64Counter("notetaker.sessions.started",
		metric.WithDescription("Total sessions established by mode and provider."),
	); err != nil {
		return nil, err
	}
	if met.SessionsFinished, err = m.Int64Counter("notetaker.sessions.finished",
		metric.WithDescription("Total sessions finished by outcome."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesReceived, err = m.Int64Counter("notetaker.audio.bytes",
		metric.WithDescription("Raw audio bytes ingested over WebSocket."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("notetaker.provider.requests",
		metric.WithDescription("Total provider API requests by provider, capability, and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("notetaker.provider.errors",
		metric.WithDescription("Total provider errors by provider and error class."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("notetaker.active_sessions",
		metric.WithDescription("Number of live transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("notetaker.active_streams",
		metric.WithDescription("Number of open vendor streaming connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("notetaker.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, capability, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("capability", capability),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, class string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("class", class),
		),
	)
}

// RecordSessionStart increments the started counter and the active gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context, mode, provider string) {
	m.SessionsStarted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("provider", provider),
		),
	)
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionFinish increments the finished counter with the given outcome,
// decrements the active gauge, and records the session's lifetime.
func (m *Metrics) RecordSessionFinish(ctx context.Context, outcome string, seconds float64) {
	m.SessionsFinished.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	m.ActiveSessions.Add(ctx, -1)
	m.SessionDuration.Record(ctx, seconds)
}
