// Package observe provides application-wide observability primitives for
// Hearken: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Hearken metrics.
const meterName = "github.com/MrWong99/hearken"

// Analysis outcomes used with [Metrics.RecordAnalysis].
const (
	OutcomeAlerted     = "alerted"
	OutcomeNoAlert     = "no_alert"
	OutcomeParseError  = "parse_error"
	OutcomeEmpty       = "empty_transcript"
	OutcomeBadFormat   = "bad_format"
	OutcomeCallFailure = "call_failure"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ClassifierDuration tracks acoustic classifier latency. Use with
	// attribute.String("scope", "frame"|"segment").
	ClassifierDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks reasoning call latency.
	LLMDuration metric.Float64Histogram

	// NotifyDuration tracks push notification latency.
	NotifyDuration metric.Float64Histogram

	// AnalysisDuration tracks the whole transcribe/reason/alert cycle.
	AnalysisDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of finalized segments.
	SegmentDuration metric.Float64Histogram

	// --- Counters ---

	// Frames counts frames fed to segmenters.
	Frames metric.Int64Counter

	// Segments counts segments. Use with attribute.String("status",
	// "finalized"|"dropped"|"discarded").
	Segments metric.Int64Counter

	// Analyses counts analysis runs by outcome. Use with
	// attribute.String("outcome", ...).
	Analyses metric.Int64Counter

	// Alerts counts broadcasts triggered by high urgency results.
	Alerts metric.Int64Counter

	// BroadcastSends counts per-connection alert deliveries. Use with
	// attribute.String("status", "ok"|"error").
	BroadcastSends metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ResidualOverflows counts connections closed for exceeding the pending
	// audio bound.
	ResidualOverflows metric.Int64Counter

	// LLMTokens counts tokens reported by the reasoning service. Use with
	// attribute.String("type", "prompt"|"completion").
	LLMTokens metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of live audio connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// external call latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// segmentBuckets covers typical utterance lengths in seconds.
var segmentBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 21, 34, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ClassifierDuration, err = m.Float64Histogram("hearken.classifier.duration",
		metric.WithDescription("Latency of acoustic event classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("hearken.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("hearken.llm.duration",
		metric.WithDescription("Latency of scene classification by the reasoning service."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NotifyDuration, err = m.Float64Histogram("hearken.notify.duration",
		metric.WithDescription("Latency of push notifications."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("hearken.analysis.duration",
		metric.WithDescription("End-to-end latency of segment analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("hearken.segment.duration",
		metric.WithDescription("Audio length of finalized speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Frames, err = m.Int64Counter("hearken.frames",
		metric.WithDescription("Total audio frames segmented."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("hearken.segments",
		metric.WithDescription("Total speech segments by status."),
	); err != nil {
		return nil, err
	}
	if met.Analyses, err = m.Int64Counter("hearken.analyses",
		metric.WithDescription("Total segment analyses by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Alerts, err = m.Int64Counter("hearken.alerts",
		metric.WithDescription("Total emergency alerts broadcast."),
	); err != nil {
		return nil, err
	}
	if met.BroadcastSends, err = m.Int64Counter("hearken.broadcast.sends",
		metric.WithDescription("Total per-connection alert deliveries by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hearken.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ResidualOverflows, err = m.Int64Counter("hearken.residual.overflows",
		metric.WithDescription("Connections closed for exceeding the pending audio bound."),
	); err != nil {
		return nil, err
	}
	if met.LLMTokens, err = m.Int64Counter("hearken.llm.tokens",
		metric.WithDescription("Tokens consumed by the reasoning service."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("hearken.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("hearken.active_connections",
		metric.WithDescription("Number of live audio connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hearken.http.request.duration",
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
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
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
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordAnalysis records one analysis run with its outcome and latency.
func (m *Metrics) RecordAnalysis(ctx context.Context, outcome string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Analyses.Add(ctx, 1, attrs)
	m.AnalysisDuration.Record(ctx, seconds, attrs)
}

// RecordSegment increments the segment counter for status.
func (m *Metrics) RecordSegment(ctx context.Context, status string) {
	m.Segments.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordBroadcastSend increments the per-connection delivery counter.
func (m *Metrics) RecordBroadcastSend(ctx context.Context, status string) {
	m.BroadcastSends.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTokens adds reasoning token usage. Zero values are skipped.
func (m *Metrics) RecordTokens(ctx context.Context, prompt, completion int) {
	if prompt > 0 {
		m.LLMTokens.Add(ctx, int64(prompt), metric.WithAttributes(attribute.String("type", "prompt")))
	}
	if completion > 0 {
		m.LLMTokens.Add(ctx, int64(completion), metric.WithAttributes(attribute.String("type", "completion")))
	}
}

// WithScope returns the classifier "scope" attribute option.
func WithScope(scope string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("scope", scope))
}
