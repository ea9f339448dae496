// Package observe provides application-wide observability primitives for
// voxagent: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all voxagent metrics.
const meterName = "github.com/MrWong99/voxagent"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks the time from Start until the remote session
	// reports it is open.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks how long sessions stay active.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts Start calls that reached CONNECTING. Use with
	// attribute:
	//   attribute.String("provider", ...)
	SessionsStarted metric.Int64Counter

	// StatusTransitions counts status changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StatusTransitions metric.Int64Counter

	// FramesSent counts microphone frames handed to the remote session.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames discarded because the send
	// failed.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks placed on the playback
	// timeline.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts barge-in events signalled by the remote agent.
	Interruptions metric.Int64Counter

	// StoppedSources counts playback sources cut short by interruptions.
	StoppedSources metric.Int64Counter

	// TranscriptFinals counts finalized transcript entries. Use with
	// attribute:
	//   attribute.String("speaker", ...)
	TranscriptFinals metric.Int64Counter

	// --- Error counters ---

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("kind", ...): permission_denied, connect_failure,
	//   runtime_channel, close_failure
	SessionErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection set-up latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for
// session lifetimes.
var sessionBuckets = []float64{
	1, 10, 30, 60, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("voxagent.session.connect.duration",
		metric.WithDescription("Latency from session start until the remote side is ready."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("voxagent.session.duration",
		metric.WithDescription("Lifetime of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsStarted, err = m.Int64Counter("voxagent.sessions.started",
		metric.WithDescription("Total sessions started by provider."),
	); err != nil {
		return nil, err
	}
	if met.StatusTransitions, err = m.Int64Counter("voxagent.status.transitions",
		metric.WithDescription("Total session status transitions by from and to status."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("voxagent.capture.frames.sent",
		metric.WithDescription("Total microphone frames sent to the remote agent."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxagent.capture.frames.dropped",
		metric.WithDescription("Total microphone frames dropped because sending failed."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("voxagent.playback.chunks.scheduled",
		metric.WithDescription("Total inbound audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxagent.playback.interruptions",
		metric.WithDescription("Total interruptions signalled by the remote agent."),
	); err != nil {
		return nil, err
	}
	if met.StoppedSources, err = m.Int64Counter("voxagent.playback.sources.stopped",
		metric.WithDescription("Total playback sources cut short by interruptions."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFinals, err = m.Int64Counter("voxagent.transcript.finals",
		metric.WithDescription("Total finalized transcript entries by speaker."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.SessionErrors, err = m.Int64Counter("voxagent.session.errors",
		metric.WithDescription("Total session errors by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("voxagent.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxagent.http.request.duration",
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

// RecordSessionStarted records a session start for provider.
func (m *Metrics) RecordSessionStarted(ctx context.Context, provider string) {
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordStatusTransition records a status change.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	m.StatusTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordInterruption records one interruption that stopped n sources.
func (m *Metrics) RecordInterruption(ctx context.Context, n int) {
	m.Interruptions.Add(ctx, 1)
	if n > 0 {
		m.StoppedSources.Add(ctx, int64(n))
	}
}

// RecordTranscriptFinal records a finalized transcript entry.
func (m *Metrics) RecordTranscriptFinal(ctx context.Context, speaker string) {
	m.TranscriptFinals.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordSessionError records a session failure of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
