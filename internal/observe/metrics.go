// Package observe provides application-wide observability primitives for
// the mesh server: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all mesh metrics.
const meterName = "github.com/mycelialmesh/meshcore"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per mesh operation ---

	// BroadcastDuration tracks nutrient-broadcast routing latency, end to
	// end (similarity scoring through route-record persistence).
	BroadcastDuration metric.Float64Histogram

	// CollectDuration tracks contexts:collect retrieval latency.
	CollectDuration metric.Float64Histogram

	// OutcomeDuration tracks outcomes:record credit-assignment latency.
	OutcomeDuration metric.Float64Histogram

	// --- Counters ---

	// NutrientsBroadcast counts nutrient broadcasts. Use with attribute:
	//   attribute.String("tenant", ...)
	NutrientsBroadcast metric.Int64Counter

	// ContextsCollected counts contexts:collect calls.
	ContextsCollected metric.Int64Counter

	// OutcomesRecorded counts outcomes:record calls, by whether any edge
	// was actually updated. Use with attribute:
	//   attribute.String("status", "updated"|"no_route")
	OutcomesRecorded metric.Int64Counter

	// EdgesDecayed counts edges touched by a single [reinforcement.DecayTask]
	// run.
	EdgesDecayed metric.Int64Counter

	// EdgesPruned counts edges removed by a manual edges:prune call.
	EdgesPruned metric.Int64Counter

	// RateLimitRejections counts requests rejected by internal/ratelimit.
	// Use with attribute: attribute.String("tenant", ...)
	RateLimitRejections metric.Int64Counter

	// --- Error counters ---

	// StoreErrors counts GraphStore operation failures. Use with attribute:
	//   attribute.String("operation", ...)
	StoreErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveNutrients tracks the number of nutrients currently unexpired
	// across all tenants, refreshed periodically by the caller.
	ActiveNutrients metric.Int64UpDownCounter

	// RegisteredAgents tracks the number of agents currently registered
	// across all tenants.
	RegisteredAgents metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// synchronous HTTP/JSON request latencies.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.BroadcastDuration, err = m.Float64Histogram("mesh.broadcast.duration",
		metric.WithDescription("Latency of nutrient broadcast routing."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CollectDuration, err = m.Float64Histogram("mesh.collect.duration",
		metric.WithDescription("Latency of contexts:collect retrieval."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OutcomeDuration, err = m.Float64Histogram("mesh.outcome.duration",
		metric.WithDescription("Latency of outcomes:record credit assignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.NutrientsBroadcast, err = m.Int64Counter("mesh.nutrients.broadcast",
		metric.WithDescription("Total nutrient broadcasts by tenant."),
	); err != nil {
		return nil, err
	}
	if met.ContextsCollected, err = m.Int64Counter("mesh.contexts.collected",
		metric.WithDescription("Total contexts:collect calls."),
	); err != nil {
		return nil, err
	}
	if met.OutcomesRecorded, err = m.Int64Counter("mesh.outcomes.recorded",
		metric.WithDescription("Total outcomes:record calls by status."),
	); err != nil {
		return nil, err
	}
	if met.EdgesDecayed, err = m.Int64Counter("mesh.edges.decayed",
		metric.WithDescription("Total edges touched by the background decay task."),
	); err != nil {
		return nil, err
	}
	if met.EdgesPruned, err = m.Int64Counter("mesh.edges.pruned",
		metric.WithDescription("Total edges removed by edges:prune calls."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRejections, err = m.Int64Counter("mesh.ratelimit.rejections",
		metric.WithDescription("Total requests rejected by the rate limiter, by tenant."),
	); err != nil {
		return nil, err
	}

	if met.StoreErrors, err = m.Int64Counter("mesh.store.errors",
		metric.WithDescription("Total GraphStore operation failures by operation."),
	); err != nil {
		return nil, err
	}

	if met.ActiveNutrients, err = m.Int64UpDownCounter("mesh.nutrients.active",
		metric.WithDescription("Number of currently unexpired nutrients."),
	); err != nil {
		return nil, err
	}
	if met.RegisteredAgents, err = m.Int64UpDownCounter("mesh.agents.registered",
		metric.WithDescription("Number of currently registered agents."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mesh.http.request.duration",
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

// RecordBroadcast is a convenience method recording a nutrient broadcast.
func (m *Metrics) RecordBroadcast(ctx context.Context, tenant string) {
	m.NutrientsBroadcast.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}

// RecordOutcome is a convenience method recording an outcomes:record call.
func (m *Metrics) RecordOutcome(ctx context.Context, status string) {
	m.OutcomesRecorded.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordStoreError is a convenience method recording a GraphStore failure.
func (m *Metrics) RecordStoreError(ctx context.Context, operation string) {
	m.StoreErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordRateLimitRejection is a convenience method recording a rejected
// request.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context, tenant string) {
	m.RateLimitRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant", tenant)))
}
