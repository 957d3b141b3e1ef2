// Package observe provides application-wide observability primitives for
// Clinvox: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Clinvox metrics.
const meterName = "github.com/clinvox/clinvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long a voice session takes from dial to the
	// provider's setup acknowledgement.
	ConnectDuration metric.Float64Histogram

	// ToolDispatchDuration tracks per-call tool dispatch latency.
	ToolDispatchDuration metric.Float64Histogram

	// --- Counters ---

	// SessionConnects counts session connection attempts. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	SessionConnects metric.Int64Counter

	// ToolDispatches counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolDispatches metric.Int64Counter

	// AudioFramesSent counts microphone frames forwarded to the provider.
	AudioFramesSent metric.Int64Counter

	// AudioFramesReceived counts model audio chunks scheduled for playback.
	AudioFramesReceived metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("clinvox.session.connect.duration",
		metric.WithDescription("Latency from session dial to provider setup ack."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDispatchDuration, err = m.Float64Histogram("clinvox.tool.dispatch.duration",
		metric.WithDescription("Latency of a single tool dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionConnects, err = m.Int64Counter("clinvox.session.connects",
		metric.WithDescription("Total session connection attempts by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolDispatches, err = m.Int64Counter("clinvox.tool.dispatches",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesSent, err = m.Int64Counter("clinvox.audio.frames.sent",
		metric.WithDescription("Microphone frames forwarded to the provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesReceived, err = m.Int64Counter("clinvox.audio.frames.received",
		metric.WithDescription("Model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("clinvox.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("clinvox.http.request.duration",
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

// RecordSessionConnect is a convenience method that records a session connect
// counter increment with the standard attribute set.
func (m *Metrics) RecordSessionConnect(ctx context.Context, mode, status string) {
	m.SessionConnects.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
}

// RecordToolDispatch is a convenience method that records one tool dispatch:
// the counter increment and the latency observation.
func (m *Metrics) RecordToolDispatch(ctx context.Context, tool, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	m.ToolDispatches.Add(ctx, 1, attrs)
	m.ToolDispatchDuration.Record(ctx, seconds, attrs)
}
