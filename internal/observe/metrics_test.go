package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// collect gathers all metric data from the reader.
func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

// findMetric searches for a metric by name across all scope metrics.
func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestHistogramObservation(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	histograms := []struct {
		name string
		h    metric.Float64Histogram
	}{
		{"hearken.classifier.duration", m.ClassifierDuration},
		{"hearken.stt.duration", m.STTDuration},
		{"hearken.llm.duration", m.LLMDuration},
		{"hearken.notify.duration", m.NotifyDuration},
		{"hearken.segment.duration", m.SegmentDuration},
	}

	for _, tc := range histograms {
		tc.h.Record(ctx, 0.123)
		tc.h.Record(ctx, 0.456)
	}

	rm := collect(t, reader)

	for _, tc := range histograms {
		t.Run(tc.name, func(t *testing.T) {
			met := findMetric(rm, tc.name)
			if met == nil {
				t.Fatalf("metric %q not found", tc.name)
			}
			hist, ok := met.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("metric %q is not a histogram", tc.name)
			}
			if len(hist.DataPoints) == 0 {
				t.Fatalf("metric %q has no data points", tc.name)
			}
			if got := hist.DataPoints[0].Count; got != 2 {
				t.Errorf("sample count = %d, want 2", got)
			}
		})
	}
}

// sumByAttr returns the value of the data point whose attribute key equals
// value, and whether it was found.
func sumByAttr(t *testing.T, rm metricdata.ResourceMetrics, name, key, value string) (int64, bool) {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not a sum", name)
	}
	for _, dp := range sum.DataPoints {
		for _, kv := range dp.Attributes.ToSlice() {
			if string(kv.Key) == key && kv.Value.AsString() == value {
				return dp.Value, true
			}
		}
	}
	return 0, false
}

func TestCounterIncrement(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	attrs := metric.WithAttributes(
		attribute.String("provider", "openai"),
		attribute.String("kind", "llm"),
		attribute.String("status", "ok"),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.RecordProviderRequest(ctx, "openai", "llm", "error")

	rm := collect(t, reader)
	got, ok := sumByAttr(t, rm, "hearken.provider.requests", "status", "ok")
	if !ok {
		t.Fatal("data point with status=ok not found")
	}
	if got != 2 {
		t.Errorf("counter value = %d, want 2", got)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordAnalysis(ctx, OutcomeAlerted, 1.2)
	m.RecordAnalysis(ctx, OutcomeNoAlert, 0.8)
	m.RecordAnalysis(ctx, OutcomeNoAlert, 0.9)

	rm := collect(t, reader)
	if got, _ := sumByAttr(t, rm, "hearken.analyses", "outcome", OutcomeNoAlert); got != 2 {
		t.Errorf("no_alert analyses = %d, want 2", got)
	}
	if got, _ := sumByAttr(t, rm, "hearken.analyses", "outcome", OutcomeAlerted); got != 1 {
		t.Errorf("alerted analyses = %d, want 1", got)
	}

	met := findMetric(rm, "hearken.analysis.duration")
	if met == nil {
		t.Fatal("analysis duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	if total != 3 {
		t.Errorf("analysis duration samples = %d, want 3", total)
	}
}

func TestRecordSegmentAndBroadcast(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSegment(ctx, "finalized")
	m.RecordSegment(ctx, "dropped")
	m.RecordSegment(ctx, "finalized")
	m.RecordBroadcastSend(ctx, "ok")
	m.RecordBroadcastSend(ctx, "error")

	rm := collect(t, reader)
	if got, _ := sumByAttr(t, rm, "hearken.segments", "status", "finalized"); got != 2 {
		t.Errorf("finalized segments = %d, want 2", got)
	}
	if got, _ := sumByAttr(t, rm, "hearken.broadcast.sends", "status", "error"); got != 1 {
		t.Errorf("failed sends = %d, want 1", got)
	}
}

func TestRecordTokens_SkipsZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordTokens(ctx, 120, 0)
	m.RecordTokens(ctx, 30, 15)

	rm := collect(t, reader)
	if got, _ := sumByAttr(t, rm, "hearken.llm.tokens", "type", "prompt"); got != 150 {
		t.Errorf("prompt tokens = %d, want 150", got)
	}
	if got, _ := sumByAttr(t, rm, "hearken.llm.tokens", "type", "completion"); got != 15 {
		t.Errorf("completion tokens = %d, want 15", got)
	}
}

func TestProviderErrorsCounter(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderError(ctx, "whisper", "stt")

	rm := collect(t, reader)
	got, ok := sumByAttr(t, rm, "hearken.provider.errors", "kind", "stt")
	if !ok {
		t.Fatal("data point with kind=stt not found")
	}
	if got != 1 {
		t.Errorf("counter value = %d, want 1", got)
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	// UpDownCounters are additive.
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, 1)
	m.ActiveConnections.Add(ctx, -1)

	rm := collect(t, reader)
	met := findMetric(rm, "hearken.active_connections")
	if met == nil {
		t.Fatal("metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("metric is not a sum")
	}
	if len(sum.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := sum.DataPoints[0].Value; got != 2 {
		t.Errorf("gauge value = %d, want 2", got)
	}
}

func TestHTTPRequestDuration(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.HTTPRequestDuration.Record(ctx, 0.05,
		metric.WithAttributes(
			attribute.String("method", "GET"),
			attribute.String("path", "/healthz"),
		),
	)

	rm := collect(t, reader)
	met := findMetric(rm, "hearken.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}
	if got := hist.DataPoints[0].Count; got != 1 {
		t.Errorf("sample count = %d, want 1", got)
	}
}

func TestDefaultMetrics_ReturnsSameInstance(t *testing.T) {
	// DefaultMetrics uses the global OTel provider so we just check
	// that repeated calls return the same pointer.
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different pointers")
	}
}
