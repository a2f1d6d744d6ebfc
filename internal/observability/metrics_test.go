package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())
	m.CacheHit()
	m.CacheHit()
	m.CacheMiss()
	m.StoreError("fetch")
	m.Swept(3)
	m.Swept(0)
	m.GenerationFailed()

	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); v != 2 {
		t.Fatalf("hits = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); v != 1 {
		t.Fatalf("misses = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.StoreErrors.WithLabelValues("fetch")); v != 1 {
		t.Fatalf("store errors = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.SweptRecords); v != 3 {
		t.Fatalf("swept = %v, want 3", v)
	}
	if v := testutil.ToFloat64(m.GenerationErrors); v != 1 {
		t.Fatalf("generation errors = %v, want 1", v)
	}
}
