package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cf_support"

// Metrics records how each catalog entry was fetched. A run registers them on
// its own registry and writes them into the bundle.
type Metrics struct {
	// FetchDuration observes the time to fetch an entry, partitioned by key.
	FetchDuration *prometheus.HistogramVec

	// FetchesTotal counts finished entries, partitioned by key and result
	// (ok or a failure reason).
	FetchesTotal *prometheus.CounterVec

	// ObjectsCollected reports how many objects an entry returned.
	ObjectsCollected *prometheus.GaugeVec
}

// NewMetrics creates the collection metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "fetch_duration_seconds",
				Help:      "Time spent fetching a catalog entry, in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"key"},
		),

		FetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "fetches_total",
				Help:      "Total number of catalog entries fetched, by result.",
			},
			[]string{"key", "result"},
		),

		ObjectsCollected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "objects_collected",
				Help:      "Number of objects collected for a catalog entry.",
			},
			[]string{"key"},
		),
	}

	reg.MustRegister(
		m.FetchDuration,
		m.FetchesTotal,
		m.ObjectsCollected,
	)

	return m
}

func (m *Metrics) observe(o Outcome, objects int) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(o.Key).Observe(o.Duration.Seconds())
	result := "ok"
	if o.Err != nil {
		result = string(o.Err.Reason)
	} else {
		m.ObjectsCollected.WithLabelValues(o.Key).Set(float64(objects))
	}
	m.FetchesTotal.WithLabelValues(o.Key, result).Inc()
}
