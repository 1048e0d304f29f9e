// Package observe provides application-wide observability primitives for
// Callwarden: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware for the status server.
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

// meterName is the instrumentation scope name used for all Callwarden metrics.
const meterName = "github.com/seclyn/callwarden"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SegmentDuration tracks how long producing one audio segment took,
	// from buffer open to seal.
	SegmentDuration metric.Float64Histogram

	// UploadDuration tracks evidence artifact upload latency.
	UploadDuration metric.Float64Histogram

	// ClassifyDuration tracks remote classification workflow latency
	// (invoke call only, excluding upload).
	ClassifyDuration metric.Float64Histogram

	// SnapshotCycleDuration tracks one full snapshot collector cycle.
	SnapshotCycleDuration metric.Float64Histogram

	// --- Counters ---

	// SignalsProcessed counts external signals evaluated. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("outcome", ...)
	SignalsProcessed metric.Int64Counter

	// SignalsDropped counts malformed signals discarded at the feed boundary.
	SignalsDropped metric.Int64Counter

	// Verdicts counts classification verdicts. Use with attribute:
	//   attribute.String("decision", ...)
	Verdicts metric.Int64Counter

	// --- Error counters ---

	// PipelineErrors counts pipeline failures. Use with attribute:
	//   attribute.String("stage", ...) — "capture", "upload", "invoke",
	//   "parse", "bridge", "decode", "persist".
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live protection sessions.
	ActiveSessions metric.Int64UpDownCounter

	// BridgeDegraded is 1 while the privileged bridge is in degraded mode
	// and 0 otherwise.
	BridgeDegraded metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks status-server request processing time.
	// Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both sub-second pipeline stages and minute-scale uploads.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SegmentDuration, err = m.Float64Histogram("callwarden.segment.duration",
		metric.WithDescription("Time to produce one audio segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("callwarden.upload.duration",
		metric.WithDescription("Latency of evidence artifact uploads."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClassifyDuration, err = m.Float64Histogram("callwarden.classify.duration",
		metric.WithDescription("Latency of remote classification workflow invocation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SnapshotCycleDuration, err = m.Float64Histogram("callwarden.snapshot.cycle.duration",
		metric.WithDescription("Duration of one privileged snapshot collector cycle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SignalsProcessed, err = m.Int64Counter("callwarden.signals.processed",
		metric.WithDescription("External signals evaluated by the orchestrator, by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SignalsDropped, err = m.Int64Counter("callwarden.signals.dropped",
		metric.WithDescription("Malformed external signals discarded at the feed boundary."),
	); err != nil {
		return nil, err
	}
	if met.Verdicts, err = m.Int64Counter("callwarden.verdicts",
		metric.WithDescription("Classification verdicts by decision."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.PipelineErrors, err = m.Int64Counter("callwarden.pipeline.errors",
		metric.WithDescription("Pipeline failures by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("callwarden.active_sessions",
		metric.WithDescription("Number of live protection sessions."),
	); err != nil {
		return nil, err
	}
	if met.BridgeDegraded, err = m.Int64UpDownCounter("callwarden.bridge.degraded",
		metric.WithDescription("1 while the privileged bridge is degraded, 0 otherwise."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callwarden.http.request.duration",
		metric.WithDescription("Status-server HTTP request latency by method and path."),
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

// RecordSignal records one evaluated signal with the standard attribute set.
func (m *Metrics) RecordSignal(ctx context.Context, kind, outcome string) {
	m.SignalsProcessed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordVerdict records one classification verdict.
func (m *Metrics) RecordVerdict(ctx context.Context, decision string) {
	m.Verdicts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("decision", decision)),
	)
}

// RecordPipelineError records one pipeline failure for the given stage.
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
