package collector

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.FetchDuration.WithLabelValues("_init")
	m.FetchesTotal.WithLabelValues("_init", "_init")
	m.ObjectsCollected.WithLabelValues("_init")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	registered := make(map[string]bool, len(families))
	for _, f := range families {
		registered[f.GetName()] = true
	}
	for _, name := range []string{
		"cf_support_fetch_duration_seconds",
		"cf_support_fetches_total",
		"cf_support_objects_collected",
	} {
		if !registered[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.observe(Outcome{Key: "pods", Value: struct{}{}, Duration: 200 * time.Millisecond}, 7)
	m.observe(Outcome{Key: "nodes", Err: &FetchError{Key: "nodes", Reason: ReasonForbidden}}, 0)

	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("pods", "ok")); got != 1 {
		t.Errorf("pods ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.FetchesTotal.WithLabelValues("nodes", "Forbidden")); got != 1 {
		t.Errorf("nodes Forbidden = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ObjectsCollected.WithLabelValues("pods")); got != 7 {
		t.Errorf("pods objects = %v, want 7", got)
	}
	if got := testutil.CollectAndCount(m.FetchDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observe(Outcome{Key: "pods"}, 1)
}
