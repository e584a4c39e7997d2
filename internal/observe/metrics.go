// Package observe provides application-wide observability primitives for
// Voxwire: OpenTelemetry metrics, tracing helpers, structured logging, and
// the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxwire metrics.
const meterName = "github.com/voxwire/voxwire"

// Metrics holds all OpenTelemetry metric instruments for the pipeline.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LinkHandshakeDuration tracks transcription link establishment latency.
	LinkHandshakeDuration metric.Float64Histogram

	// ChatDuration tracks the reasoning/synthesis round-trip latency.
	ChatDuration metric.Float64Histogram

	// PlaybackDuration tracks how long each reply's audio plays.
	PlaybackDuration metric.Float64Histogram

	// --- Counters ---

	// TurnsFinalized counts finalized user turns. Use with attribute:
	//   attribute.String("strategy", "boundary"|"silence")
	TurnsFinalized metric.Int64Counter

	// SessionsStarted counts session starts.
	SessionsStarted metric.Int64Counter

	// SessionsExpired counts sessions terminated by budget exhaustion.
	SessionsExpired metric.Int64Counter

	// LinkReconnects counts transcription link rebuilds (language switches
	// and handshake retries).
	LinkReconnects metric.Int64Counter

	// RelayAttaches counts supervisory listener attachments.
	RelayAttaches metric.Int64Counter

	// RelayDrops counts relay frames dropped because a listener fell behind.
	RelayDrops metric.Int64Counter

	// BoundaryErrors counts failed reasoning round trips by kind.
	BoundaryErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveListeners tracks the number of attached supervisory listeners.
	ActiveListeners metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
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

	if met.LinkHandshakeDuration, err = m.Float64Histogram("voxwire.link.handshake.duration",
		metric.WithDescription("Latency of transcription link establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("voxwire.chat.duration",
		metric.WithDescription("Latency of the reasoning/synthesis round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("voxwire.playback.duration",
		metric.WithDescription("Playback time of synthesized replies."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.TurnsFinalized, err = m.Int64Counter("voxwire.turns.finalized",
		metric.WithDescription("Total finalized user turns by detection strategy."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("voxwire.sessions.started",
		metric.WithDescription("Total conversation sessions started."),
	); err != nil {
		return nil, err
	}
	if met.SessionsExpired, err = m.Int64Counter("voxwire.sessions.expired",
		metric.WithDescription("Total sessions terminated by time-budget exhaustion."),
	); err != nil {
		return nil, err
	}
	if met.LinkReconnects, err = m.Int64Counter("voxwire.link.reconnects",
		metric.WithDescription("Total transcription link rebuilds."),
	); err != nil {
		return nil, err
	}
	if met.RelayAttaches, err = m.Int64Counter("voxwire.relay.attaches",
		metric.WithDescription("Total supervisory listener attachments."),
	); err != nil {
		return nil, err
	}
	if met.RelayDrops, err = m.Int64Counter("voxwire.relay.drops",
		metric.WithDescription("Total relay frames dropped for slow listeners."),
	); err != nil {
		return nil, err
	}
	if met.BoundaryErrors, err = m.Int64Counter("voxwire.boundary.errors",
		metric.WithDescription("Total failed reasoning round trips by kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxwire.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveListeners, err = m.Int64UpDownCounter("voxwire.active_listeners",
		metric.WithDescription("Number of attached supervisory listeners."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("voxwire.http.request.duration",
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}
