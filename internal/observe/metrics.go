// Package observe provides observability primitives for SonicHunter:
// OpenTelemetry metric instruments, tracing helpers, a trace-aware logger,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]; [Handler] serves them on /metrics. Tests
// should build their own [Metrics] with [NewMetrics] and a
// [sdkmetric.ManualReader] instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all SonicHunter metrics.
const meterName = "github.com/MrWong99/sonichunter"

// Metrics holds the application's metric instruments. The OTel types handle
// their own synchronisation.
type Metrics struct {
	// SearchRequests counts search invocations. Attribute "outcome" is one of
	// "hit", "miss", "empty", "error".
	SearchRequests metric.Int64Counter

	// SearchDuration tracks end-to-end search latency.
	SearchDuration metric.Float64Histogram

	// CacheWriteFailures counts cache writes that failed after a successful
	// catalog read.
	CacheWriteFailures metric.Int64Counter

	// IngestEvents counts pipeline outcomes. Attributes: "outcome"
	// (ignored|skipped|inserted|duplicate|dropped) and "source" (live|backfill).
	IngestEvents metric.Int64Counter

	// ResolveDuration tracks identifier resolution (relay) latency.
	ResolveDuration metric.Float64Histogram

	// BackfillMessages counts history messages visited during backfill.
	BackfillMessages metric.Int64Counter

	// QueueDepth tracks live events waiting in per-channel worker queues.
	QueueDepth metric.Int64UpDownCounter

	// HTTPRequestDuration tracks operational HTTP request latency. Attributes:
	// "method", "route".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning cache hits
// (sub-millisecond) to relay uploads (seconds).
var latencyBuckets = []float64{
	0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SearchRequests, err = m.Int64Counter("sonichunter.search.requests",
		metric.WithDescription("Search invocations by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("sonichunter.search.duration",
		metric.WithDescription("End-to-end search latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CacheWriteFailures, err = m.Int64Counter("sonichunter.search.cache_write_failures",
		metric.WithDescription("Cache writes that failed after a successful catalog read."),
	); err != nil {
		return nil, err
	}
	if met.IngestEvents, err = m.Int64Counter("sonichunter.ingest.events",
		metric.WithDescription("Ingestion pipeline outcomes by outcome and source."),
	); err != nil {
		return nil, err
	}
	if met.ResolveDuration, err = m.Float64Histogram("sonichunter.ingest.resolve.duration",
		metric.WithDescription("Latency of relaying an attachment to obtain its resolved reference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BackfillMessages, err = m.Int64Counter("sonichunter.ingest.backfill.messages",
		metric.WithDescription("History messages visited during backfill."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("sonichunter.ingest.queue_depth",
		metric.WithDescription("Live events waiting in per-channel queues."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonichunter.http.request.duration",
		metric.WithDescription("Operational HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus-backed provider.
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

// RecordSearch records one search invocation with its outcome and latency.
func (m *Metrics) RecordSearch(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.SearchRequests.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordIngest records one pipeline outcome.
func (m *Metrics) RecordIngest(ctx context.Context, outcome, source string) {
	m.IngestEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("source", source),
	))
}

// RecordResolve records one resolution attempt.
func (m *Metrics) RecordResolve(ctx context.Context, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ResolveDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", status)))
}
