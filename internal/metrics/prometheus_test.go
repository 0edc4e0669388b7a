package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetch(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordFetch(FetchCacheHit)
	m.RecordFetch(FetchCacheHit)
	m.RecordFetch(FetchNotFound)

	if got := testutil.ToFloat64(m.ArchiveFetches.WithLabelValues(FetchCacheHit)); got != 2 {
		t.Errorf("Expected 2 cache hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.ArchiveFetches.WithLabelValues(FetchNotFound)); got != 1 {
		t.Errorf("Expected 1 not-found, got %v", got)
	}
}

func TestRecordCatalogImport(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCatalogImport("directory", nil)
	m.RecordCatalogImport("directory", errors.New("boom"))

	if got := testutil.ToFloat64(m.CatalogImports.WithLabelValues("directory", "success")); got != 1 {
		t.Errorf("Expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.CatalogImports.WithLabelValues("directory", "failure")); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
}

func TestObserveAggregation(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.ObserveAggregation("max", 5*time.Millisecond)
	m.ObserveFetch(10 * time.Millisecond)
	m.RecordTypeLookup(true)

	if got := testutil.CollectAndCount(m.AggregationDuration); got != 1 {
		t.Errorf("Expected 1 aggregation series, got %d", got)
	}
	if got := testutil.ToFloat64(m.TypeLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("Expected 1 lookup hit, got %v", got)
	}
}

func TestNewNop_DoesNotCollideWithDefaultRegistry(t *testing.T) {
	NewNop()
	NewNop()
	NewMetrics(prometheus.NewRegistry())
}
