// Package observe provides application-wide observability primitives for
// Atlas: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All Record* helpers are safe to call on a nil *Metrics, which lets
// components treat metrics as optional.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Atlas metrics.
const meterName = "github.com/MrWong99/atlas"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Duplex audio path ---

	// FramesSent counts PCM frames forwarded to the remote session.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded before reaching the remote
	// session. Use with attribute:
	//   attribute.String("reason", "not_connected"|"send_error")
	FramesDropped metric.Int64Counter

	// SegmentsScheduled counts playback segments handed to the output device.
	SegmentsScheduled metric.Int64Counter

	// Interruptions counts barge-in events that cleared the playback set.
	Interruptions metric.Int64Counter

	// PlaybackQueue tracks the scheduled-ahead playback time in seconds at the
	// moment a segment is scheduled.
	PlaybackQueue metric.Float64Histogram

	// --- Command path ---

	// WindowsSubmitted counts audio windows sent for classification.
	WindowsSubmitted metric.Int64Counter

	// ClassifyDuration tracks classification round-trip latency.
	ClassifyDuration metric.Float64Histogram

	// TasksDetected counts classification results by kind. Use with attribute:
	//   attribute.String("kind", ...)
	TasksDetected metric.Int64Counter

	// DispatchResults counts dispatched tasks. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", "ok"|"failed")
	DispatchResults metric.Int64Counter

	// --- Providers ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Lifecycle ---

	// StateTransitions counts session state changes. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StateTransitions metric.Int64Counter

	// ActiveSessions tracks the number of open remote sessions.
	ActiveSessions metric.Int64UpDownCounter

	// WakeWords counts wake-word detections.
	WakeWords metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// classification round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20,
}

// queueBuckets defines histogram bucket boundaries (in seconds) for the
// playback schedule ahead of the clock.
var queueBuckets = []float64{
	0, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Duplex path.
	if met.FramesSent, err = m.Int64Counter("atlas.duplex.frames_sent",
		metric.WithDescription("Total PCM frames forwarded to the remote session."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("atlas.duplex.frames_dropped",
		metric.WithDescription("Total PCM frames dropped by reason."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsScheduled, err = m.Int64Counter("atlas.playback.segments",
		metric.WithDescription("Total playback segments scheduled."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("atlas.playback.interruptions",
		metric.WithDescription("Total interruptions that cleared scheduled playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackQueue, err = m.Float64Histogram("atlas.playback.queue",
		metric.WithDescription("Scheduled playback ahead of the clock when a segment is queued."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queueBuckets...),
	); err != nil {
		return nil, err
	}

	// Command path.
	if met.WindowsSubmitted, err = m.Int64Counter("atlas.sampler.windows",
		metric.WithDescription("Total audio windows submitted for classification."),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("atlas.classify.duration",
		metric.WithDescription("Latency of command classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TasksDetected, err = m.Int64Counter("atlas.classify.tasks",
		metric.WithDescription("Total classification results by task kind."),
	); err != nil {
		return nil, err
	}
	if met.DispatchResults, err = m.Int64Counter("atlas.dispatch.results",
		metric.WithDescription("Total dispatched tasks by kind and status."),
	); err != nil {
		return nil, err
	}

	// Providers.
	if met.ProviderRequests, err = m.Int64Counter("atlas.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("atlas.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Lifecycle.
	if met.StateTransitions, err = m.Int64Counter("atlas.session.transitions",
		metric.WithDescription("Total session state transitions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("atlas.active_sessions",
		metric.WithDescription("Number of open remote voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.WakeWords, err = m.Int64Counter("atlas.wakeword.detections",
		metric.WithDescription("Total wake-word detections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("atlas.http.request.duration",
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

// RecordFrameSent increments FramesSent.
func (m *Metrics) RecordFrameSent(ctx context.Context) {
	if m == nil {
		return
	}
	m.FramesSent.Add(ctx, 1)
}

// RecordFrameDropped increments FramesDropped with the given reason.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSegment increments SegmentsScheduled and records how far ahead of the
// clock the new segment was queued.
func (m *Metrics) RecordSegment(ctx context.Context, aheadSeconds float64) {
	if m == nil {
		return
	}
	m.SegmentsScheduled.Add(ctx, 1)
	m.PlaybackQueue.Record(ctx, aheadSeconds)
}

// RecordInterruption increments Interruptions.
func (m *Metrics) RecordInterruption(ctx context.Context) {
	if m == nil {
		return
	}
	m.Interruptions.Add(ctx, 1)
}

// RecordWindow increments WindowsSubmitted.
func (m *Metrics) RecordWindow(ctx context.Context) {
	if m == nil {
		return
	}
	m.WindowsSubmitted.Add(ctx, 1)
}

// RecordClassification records the latency of one classification and, on
// success, the detected kind.
func (m *Metrics) RecordClassification(ctx context.Context, seconds float64, kind string, err error) {
	if m == nil {
		return
	}
	m.ClassifyDuration.Record(ctx, seconds)
	if err != nil {
		return
	}
	m.TasksDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDispatch increments DispatchResults.
func (m *Metrics) RecordDispatch(ctx context.Context, kind string, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "failed"
	}
	m.DispatchResults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	if m == nil {
		return
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	if m == nil {
		return
	}
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTransition increments StateTransitions.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// SessionOpened increments ActiveSessions.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements ActiveSessions.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}

// RecordWakeWord increments WakeWords.
func (m *Metrics) RecordWakeWord(ctx context.Context) {
	if m == nil {
		return
	}
	m.WakeWords.Add(ctx, 1)
}
