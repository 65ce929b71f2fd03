// Package prometheus exports prefetch cache events as Prometheus metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrefetchMetrics is the Prometheus implementation of prefetch.Metrics.
type PrefetchMetrics struct {
	lookups        *prometheus.CounterVec
	decodes        *prometheus.CounterVec
	decodeDuration prometheus.Histogram
	evictions      prometheus.Counter
	warm           *prometheus.GaugeVec
}

// NewPrefetchMetrics registers the prefetch collectors on reg.
func NewPrefetchMetrics(reg prometheus.Registerer) *PrefetchMetrics {
	return &PrefetchMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rview_prefetch_lookups_total",
				Help: "Total number of cache lookups by outcome",
			},
			[]string{"outcome"}, // "hit", "wait", "miss"
		),
		decodes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rview_prefetch_decodes_total",
				Help: "Total number of finished decodes by status",
			},
			[]string{"status"}, // "ok", "error"
		),
		decodeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rview_prefetch_decode_duration_milliseconds",
				Help:    "Duration of image decodes in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rview_prefetch_evictions_total",
				Help: "Total number of entries evicted when the window moved",
			},
		),
		warm: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rview_prefetch_warm_entries",
				Help: "Current number of warm entries by state",
			},
			[]string{"state"}, // "pending", "completed"
		),
	}
}

func (m *PrefetchMetrics) ObserveHit() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *PrefetchMetrics) ObserveWait() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("wait").Inc()
}

func (m *PrefetchMetrics) ObserveMiss() {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues("miss").Inc()
}

func (m *PrefetchMetrics) ObserveDecode(duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	m.decodes.WithLabelValues(status).Inc()
	m.decodeDuration.Observe(duration.Seconds() * 1000)
}

func (m *PrefetchMetrics) ObserveEviction(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *PrefetchMetrics) SetWarm(pending, completed int) {
	if m == nil {
		return
	}
	m.warm.WithLabelValues("pending").Set(float64(pending))
	m.warm.WithLabelValues("completed").Set(float64(completed))
}
