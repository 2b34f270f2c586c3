package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type WorkerMetrics struct {
	registry *prometheus.Registry

	vectorizeTotal    *prometheus.CounterVec
	vectorizeDuration *prometheus.HistogramVec
	vectorizeInFlight prometheus.Gauge
	fragmentChunks    *prometheus.HistogramVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	vectorizeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "worker",
			Name:      "fragment_vectorize_total",
			Help:      "Total vectorized knowledge fragments by status.",
		},
		[]string{"service", "status"},
	)
	vectorizeDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "worker",
			Name:      "fragment_vectorize_duration_seconds",
			Help:      "Fragment vectorization duration in seconds by status.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	vectorizeInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "permit",
			Subsystem: "worker",
			Name:      "fragment_vectorize_in_flight",
			Help:      "Number of in-flight vectorization tasks.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	fragmentChunks := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "worker",
			Name:      "fragment_chunks",
			Help:      "Distribution of chunks produced per source fragment.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"service"},
	)

	registry.MustRegister(vectorizeTotal, vectorizeDuration, vectorizeInFlight, fragmentChunks)

	return &WorkerMetrics{
		registry:          registry,
		vectorizeTotal:    vectorizeTotal,
		vectorizeDuration: vectorizeDuration,
		vectorizeInFlight: vectorizeInFlight,
		fragmentChunks:    fragmentChunks,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartFragment() {
	m.vectorizeInFlight.Inc()
}

func (m *WorkerMetrics) FinishFragment(service string, duration time.Duration, err error) {
	m.vectorizeInFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}

	m.vectorizeTotal.WithLabelValues(service, status).Inc()
	m.vectorizeDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveFragmentChunks(service string, chunks int) {
	if chunks <= 0 {
		return
	}
	m.fragmentChunks.WithLabelValues(service).Observe(float64(chunks))
}
