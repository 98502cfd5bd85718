package observe

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader.
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

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

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

// counterValue sums the data points of an Int64 sum whose attributes contain
// every key/value in want.
func counterValue(t *testing.T, rm metricdata.ResourceMetrics, name string, want ...attribute.KeyValue) int64 {
	t.Helper()
	met := findMetric(rm, name)
	if met == nil {
		t.Fatalf("metric %q not found", name)
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q data = %T, want Sum[int64]", name, met.Data)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		match := true
		for _, kv := range want {
			if v, ok := dp.Attributes.Value(kv.Key); !ok || v != kv.Value {
				match = false
				break
			}
		}
		if match {
			total += dp.Value
		}
	}
	return total
}

func TestRecordSearch(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordSearch(ctx, "hit", 2*time.Millisecond)
	m.RecordSearch(ctx, "hit", time.Millisecond)
	m.RecordSearch(ctx, "miss", 20*time.Millisecond)

	rm := collect(t, reader)
	if got := counterValue(t, rm, "sonichunter.search.requests", attribute.String("outcome", "hit")); got != 2 {
		t.Errorf("hit count = %d, want 2", got)
	}
	if got := counterValue(t, rm, "sonichunter.search.requests", attribute.String("outcome", "miss")); got != 1 {
		t.Errorf("miss count = %d, want 1", got)
	}

	met := findMetric(rm, "sonichunter.search.duration")
	if met == nil {
		t.Fatal("search duration not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data = %T, want Histogram[float64]", met.Data)
	}
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("histogram count = %d, want 3", count)
	}
}

func TestRecordIngest(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordIngest(ctx, "inserted", "live")
	m.RecordIngest(ctx, "inserted", "backfill")
	m.RecordIngest(ctx, "dropped", "live")

	rm := collect(t, reader)
	if got := counterValue(t, rm, "sonichunter.ingest.events", attribute.String("outcome", "inserted")); got != 2 {
		t.Errorf("inserted = %d, want 2", got)
	}
	if got := counterValue(t, rm, "sonichunter.ingest.events",
		attribute.String("outcome", "dropped"), attribute.String("source", "live")); got != 1 {
		t.Errorf("dropped/live = %d, want 1", got)
	}
}

func TestRecordResolve(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()
	m.RecordResolve(ctx, time.Second, nil)
	m.RecordResolve(ctx, time.Second, errors.New("upload rejected"))

	rm := collect(t, reader)
	met := findMetric(rm, "sonichunter.ingest.resolve.duration")
	if met == nil {
		t.Fatal("resolve duration not found")
	}
	hist := met.Data.(metricdata.Histogram[float64])
	if len(hist.DataPoints) != 2 {
		t.Errorf("data points = %d, want 2 (ok, error)", len(hist.DataPoints))
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	t.Parallel()

	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics returned different instances")
	}
}
