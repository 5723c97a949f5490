// Package observe provides application-wide observability primitives for
// alicecore: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all alicecore metrics.
const meterName = "github.com/MrWong99/alicecore"

// Metrics holds all OpenTelemetry metric instruments for the voice pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms against the interaction budgets ---

	// FirstPartialLatency tracks speech onset to first partial transcript.
	// Budget: 300 ms.
	FirstPartialLatency metric.Float64Histogram

	// FirstAudioLatency tracks first reply token to first synthesized audio
	// chunk. Budget: 150 ms.
	FirstAudioLatency metric.Float64Histogram

	// BargeInCutoff tracks barge-in detection to playback cut. Budget: 120 ms.
	BargeInCutoff metric.Float64Histogram

	// RoundTripLatency tracks user speech end to assistant playback start.
	// Budget: 500 ms.
	RoundTripLatency metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BargeIns counts fired barge-in events.
	BargeIns metric.Int64Counter

	// StateTransitions counts state machine transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// Reconnects counts provider stream reconnect attempts. Use with
	// attribute: attribute.String("provider", ...)
	Reconnects metric.Int64Counter

	// DroppedFrames counts audio frames discarded under backpressure. Use
	// with attribute: attribute.String("stage", ...)
	DroppedFrames metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// GatewayClients tracks the number of connected wire clients.
	GatewayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) with fine
// resolution around the sub-second interaction budgets.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.12, 0.15, 0.25, 0.3, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FirstPartialLatency, err = m.Float64Histogram("alicecore.latency.first_partial",
		metric.WithDescription("Latency from speech onset to first partial transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FirstAudioLatency, err = m.Float64Histogram("alicecore.latency.first_audio",
		metric.WithDescription("Latency from first reply token to first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BargeInCutoff, err = m.Float64Histogram("alicecore.latency.barge_in_cutoff",
		metric.WithDescription("Latency from barge-in detection to playback cut."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RoundTripLatency, err = m.Float64Histogram("alicecore.latency.round_trip",
		metric.WithDescription("Latency from user speech end to assistant playback start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("alicecore.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("alicecore.barge_ins",
		metric.WithDescription("Total fired barge-in events."),
	); err != nil {
		return nil, err
	}
	if met.StateTransitions, err = m.Int64Counter("alicecore.state.transitions",
		metric.WithDescription("Total state machine transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("alicecore.provider.reconnects",
		metric.WithDescription("Total provider stream reconnect attempts by provider."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("alicecore.audio.dropped_frames",
		metric.WithDescription("Total audio frames discarded under backpressure by pipeline stage."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("alicecore.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("alicecore.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.GatewayClients, err = m.Int64UpDownCounter("alicecore.gateway_clients",
		metric.WithDescription("Number of connected wire clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("alicecore.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition records one state machine transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordDroppedFrame records one discarded audio frame.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, stage string) {
	m.DroppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordReconnect records one provider reconnect attempt.
func (m *Metrics) RecordReconnect(ctx context.Context, provider string) {
	m.Reconnects.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}
