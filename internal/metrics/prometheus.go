// Package metrics exposes Prometheus instrumentation for archive fetches, ingestion
// and aggregation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch results recorded by the archive fetcher
const (
	FetchCacheHit   = "cache_hit"
	FetchDownloaded = "downloaded"
	FetchNotFound   = "not_found"
	FetchError      = "error"
)

// Metrics holds all Prometheus metrics for the sensor archive
type Metrics struct {
	ArchiveFetches      *prometheus.CounterVec
	ArchiveFetchLatency prometheus.Histogram
	IngestedDays        *prometheus.CounterVec
	ReadingsSaved       prometheus.Counter
	TypeLookups          *prometheus.CounterVec
	CatalogImports      *prometheus.CounterVec
	AggregationDuration *prometheus.HistogramVec
	KnownSensors        prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer
func NewMetrics(registry prometheus.Registerer) *Metrics {
	return &Metrics{
		ArchiveFetches: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_archive_fetches_total",
				Help: "Archive day fetches by result",
			},
			[]string{"result"},
		),
		ArchiveFetchLatency: promauto.With(registry).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sensor_archive_fetch_duration_seconds",
				Help:    "Duration of archive HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
		),
		IngestedDays: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_archive_ingested_days_total",
				Help: "Days processed by year ingestion by outcome",
			},
			[]string{"outcome"},
		),
		ReadingsSaved: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "sensor_archive_readings_saved_total",
				Help: "Readings submitted to the store",
			},
		),
		TypeLookups: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_archive_type_lookups_total",
				Help: "Archive lookups issued while resolving sensor types",
			},
			[]string{"result"},
		),
		CatalogImports: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "sensor_archive_catalog_imports_total",
				Help: "Catalog import runs by source and status",
			},
			[]string{"source", "status"},
		),
		AggregationDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sensor_archive_aggregation_duration_seconds",
				Help:    "Duration of grouped aggregation queries",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"statistic"},
		),
		KnownSensors: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "sensor_archive_known_sensors",
				Help: "Sensor IDs currently held in the sensor cache",
			},
		),
	}
}

// NewNop creates metrics registered with a private registry, used when metrics are disabled
func NewNop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// RecordFetch increments the fetch counter for a result
func (m *Metrics) RecordFetch(result string) {
	m.ArchiveFetches.WithLabelValues(result).Inc()
}

// ObserveFetch records the latency of one archive request
func (m *Metrics) ObserveFetch(d time.Duration) {
	m.ArchiveFetchLatency.Observe(d.Seconds())
}

// RecordDay increments the ingested-day counter for an outcome
func (m *Metrics) RecordDay(outcome string) {
	m.IngestedDays.WithLabelValues(outcome).Inc()
}

// RecordTypeLookup increments the type lookup counter
func (m *Metrics) RecordTypeLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.TypeLookups.WithLabelValues(result).Inc()
}

// RecordCatalogImport increments the catalog import counter
func (m *Metrics) RecordCatalogImport(source string, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.CatalogImports.WithLabelValues(source, status).Inc()
}

// ObserveAggregation records the duration of one aggregation query
func (m *Metrics) ObserveAggregation(statistic string, d time.Duration) {
	m.AggregationDuration.WithLabelValues(statistic).Observe(d.Seconds())
}
