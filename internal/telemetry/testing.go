package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder is a running Telemetry that keeps spans and metrics in memory.
type Recorder struct {
	*Telemetry

	spans   *tracetest.SpanRecorder
	metrics *sdkmetric.ManualReader
}

// NewRecorder returns a Recorder whose providers are shut down when tb
// finishes.
func NewRecorder(tb testing.TB) *Recorder {
	tb.Helper()
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	r := &Recorder{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: trace.NewTracerProvider(trace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		spans:   spans,
		metrics: reader,
	}
	r.state.Store(int32(StateRunning))
	tb.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

// Span returns the last ended span called name.
func (r *Recorder) Span(name string) (trace.ReadOnlySpan, bool) {
	ended := r.spans.Ended()
	for i := len(ended) - 1; i >= 0; i-- {
		if ended[i].Name() == name {
			return ended[i], true
		}
	}
	return nil, false
}

// SpanNames lists ended spans in the order they ended.
func (r *Recorder) SpanNames() []string {
	ended := r.spans.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// SpanAttributes returns the attributes of the last span called name,
// failing tb when no such span ended. Integer values are int64.
func (r *Recorder) SpanAttributes(tb testing.TB, name string) map[string]any {
	tb.Helper()
	span, ok := r.Span(name)
	if !ok {
		tb.Fatalf("span %q not recorded, have %v", name, r.SpanNames())
		return nil
	}
	attrs := make(map[string]any, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		attrs[string(kv.Key)] = attrValue(kv.Value)
	}
	return attrs
}

func attrValue(v attribute.Value) any {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}

// Metric collects the current state of the instrument called name.
func (r *Recorder) Metric(ctx context.Context, name string) (metricdata.Metrics, bool) {
	var rm metricdata.ResourceMetrics
	if err := r.metrics.Collect(ctx, &rm); err != nil {
		return metricdata.Metrics{}, false
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

// Int64Total sums every data point of an int64 counter. It returns 0 when
// the instrument has not been recorded yet.
func (r *Recorder) Int64Total(ctx context.Context, name string) int64 {
	m, ok := r.Metric(ctx, name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		return 0
	}
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}
