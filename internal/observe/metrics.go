// Package observe provides application-wide observability primitives for the
// co-host service: OpenTelemetry metrics, distributed tracing, structured
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

// meterName is the instrumentation scope name used for all co-host metrics.
const meterName = "github.com/sammywilko/channel-changers-live"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture path ---

	// FramesCaptured counts microphone frames that completed the capture
	// pipeline and were handed to the session.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts microphone frames discarded because the dispatch
	// queue was full.
	FramesDropped metric.Int64Counter

	// --- Playback path ---

	// ChunksScheduled counts agent audio chunks placed on the playback
	// timeline.
	ChunksScheduled metric.Int64Counter

	// SchedulingGap tracks the gap between a chunk's scheduled start and the
	// device clock at scheduling time. Zero means the timeline is saturated.
	SchedulingGap metric.Float64Histogram

	// DecodeFailures counts inbound audio chunks that failed PCM decoding.
	DecodeFailures metric.Int64Counter

	// --- Session lifecycle ---

	// SessionTransitions counts session state transitions. Use with
	// attributes: attribute.String("from", ...), attribute.String("to", ...)
	SessionTransitions metric.Int64Counter

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of open live sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// --- Transcripts ---

	// TranscriptEntries counts stored transcript entries. Use with attribute:
	//   attribute.String("speaker", ...)
	TranscriptEntries metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// gapBuckets defines histogram bucket boundaries (in seconds) optimised for
// playback scheduling gaps, which are small when the timeline is healthy.
var gapBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Capture counters.
	if met.FramesCaptured, err = m.Int64Counter("cohost.capture.frames",
		metric.WithDescription("Total microphone frames dispatched to the live session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("cohost.capture.frames_dropped",
		metric.WithDescription("Total microphone frames dropped under backpressure."),
	); err != nil {
		return nil, err
	}

	// Playback instruments.
	if met.ChunksScheduled, err = m.Int64Counter("cohost.playback.chunks",
		metric.WithDescription("Total agent audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.SchedulingGap, err = m.Float64Histogram("cohost.playback.scheduling_gap",
		metric.WithDescription("Gap between scheduled start and device clock at scheduling time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(gapBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("cohost.playback.decode_failures",
		metric.WithDescription("Total inbound audio chunks that failed PCM decoding."),
	); err != nil {
		return nil, err
	}

	// Session lifecycle.
	if met.SessionTransitions, err = m.Int64Counter("cohost.session.transitions",
		metric.WithDescription("Total session state transitions by from and to state."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("cohost.session.errors",
		metric.WithDescription("Total session failures by error kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("cohost.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	// Transcripts.
	if met.TranscriptEntries, err = m.Int64Counter("cohost.transcript.entries",
		metric.WithDescription("Total stored transcript entries by speaker."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cohost.http.request.duration",
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

// RecordTransition records a session state transition counter increment with
// the standard attribute set.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordSessionError records a session failure counter increment.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordTranscriptEntry records a stored transcript entry counter increment.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}
