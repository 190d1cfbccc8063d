package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/psadmin"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Query cache
	CacheHitsTotal          metric.Int64Counter
	CacheMissesTotal        metric.Int64Counter
	CacheCoalescedTotal     metric.Int64Counter
	CacheInvalidationsTotal metric.Int64Counter

	// Mutations
	MutationsTotal       metric.Int64Counter
	MutationErrorsTotal  metric.Int64Counter
	ValidationRejections metric.Int64Counter

	// Bulk import
	BulkRowsImported metric.Int64Counter
	BulkRowsFailed   metric.Int64Counter

	// Session
	SessionTransitions metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.CacheHitsTotal, _ = meter.Int64Counter(
		"psadmin.cache.hits.total",
		metric.WithDescription("Reads served from the query cache"),
		metric.WithUnit("{read}"),
	)

	m.CacheMissesTotal, _ = meter.Int64Counter(
		"psadmin.cache.misses.total",
		metric.WithDescription("Reads that issued a request"),
		metric.WithUnit("{read}"),
	)

	m.CacheCoalescedTotal, _ = meter.Int64Counter(
		"psadmin.cache.coalesced.total",
		metric.WithDescription("Reads that joined an in-flight request"),
		metric.WithUnit("{read}"),
	)

	m.CacheInvalidationsTotal, _ = meter.Int64Counter(
		"psadmin.cache.invalidations.total",
		metric.WithDescription("Cache entries dropped by invalidation"),
		metric.WithUnit("{entry}"),
	)

	m.MutationsTotal, _ = meter.Int64Counter(
		"psadmin.mutations.total",
		metric.WithDescription("Write operations sent to the API"),
		metric.WithUnit("{mutation}"),
	)

	m.MutationErrorsTotal, _ = meter.Int64Counter(
		"psadmin.mutations.errors.total",
		metric.WithDescription("Write operations that failed"),
		metric.WithUnit("{error}"),
	)

	m.ValidationRejections, _ = meter.Int64Counter(
		"psadmin.validation.rejections.total",
		metric.WithDescription("Writes rejected client-side before dispatch"),
		metric.WithUnit("{mutation}"),
	)

	m.BulkRowsImported, _ = meter.Int64Counter(
		"psadmin.bulk.rows.imported.total",
		metric.WithDescription("CSV rows imported"),
		metric.WithUnit("{row}"),
	)

	m.BulkRowsFailed, _ = meter.Int64Counter(
		"psadmin.bulk.rows.failed.total",
		metric.WithDescription("CSV rows rejected by the server"),
		metric.WithUnit("{row}"),
	)

	m.SessionTransitions, _ = meter.Int64Counter(
		"psadmin.session.transitions.total",
		metric.WithDescription("Session state transitions"),
		metric.WithUnit("{transition}"),
	)

	return m
}
