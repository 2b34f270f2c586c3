package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServerMetrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	retrievalRequestsTotal  *prometheus.CounterVec
	retrievalHitTotal       *prometheus.CounterVec
	retrievalNoContextTotal *prometheus.CounterVec
	retrievalFragments      *prometheus.HistogramVec
	retrievalDuration       *prometheus.HistogramVec
	assessmentStatusTotal   *prometheus.CounterVec
	submissionChecksTotal   *prometheus.CounterVec
	submissionCheckDuration *prometheus.HistogramVec
}

func NewHTTPServerMetrics(service string) *HTTPServerMetrics {
	registry := prometheus.NewRegistry()

	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"service", "method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "permit",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	retrievalRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "retrieval",
			Name:      "requests_total",
			Help:      "Total successful context retrieval requests.",
		},
		[]string{"service", "endpoint"},
	)
	retrievalHitTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "retrieval",
			Name:      "hit_total",
			Help:      "Total retrieval requests with at least one fragment.",
		},
		[]string{"service", "endpoint"},
	)
	retrievalNoContextTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "retrieval",
			Name:      "no_context_total",
			Help:      "Total retrieval requests without fragments.",
		},
		[]string{"service", "endpoint"},
	)
	retrievalFragments := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "retrieval",
			Name:      "fragments",
			Help:      "Distribution of returned fragments per retrieval request.",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 12, 20},
		},
		[]string{"service", "endpoint"},
	)
	retrievalDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Retrieval pipeline duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	assessmentStatusTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "check",
			Name:      "assessment_status_total",
			Help:      "Total per-requirement verdicts by status.",
		},
		[]string{"service", "status"},
	)
	submissionChecksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "permit",
			Subsystem: "check",
			Name:      "submissions_total",
			Help:      "Total completed submission checks by outcome.",
		},
		[]string{"service", "outcome"},
	)
	submissionCheckDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "permit",
			Subsystem: "check",
			Name:      "duration_seconds",
			Help:      "Submission check pipeline duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 45, 90, 180, 300},
		},
		[]string{"service", "outcome"},
	)

	registry.MustRegister(
		requestTotal,
		requestDuration,
		requestInFlight,
		retrievalRequestsTotal,
		retrievalHitTotal,
		retrievalNoContextTotal,
		retrievalFragments,
		retrievalDuration,
		assessmentStatusTotal,
		submissionChecksTotal,
		submissionCheckDuration,
	)

	return &HTTPServerMetrics{
		registry:                registry,
		requestTotal:            requestTotal,
		requestDuration:         requestDuration,
		requestInFlight:         requestInFlight,
		retrievalRequestsTotal:  retrievalRequestsTotal,
		retrievalHitTotal:       retrievalHitTotal,
		retrievalNoContextTotal: retrievalNoContextTotal,
		retrievalFragments:      retrievalFragments,
		retrievalDuration:       retrievalDuration,
		assessmentStatusTotal:   assessmentStatusTotal,
		submissionChecksTotal:   submissionChecksTotal,
		submissionCheckDuration: submissionCheckDuration,
	}
}

func (m *HTTPServerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *HTTPServerMetrics) Middleware(service string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		path := normalizePath(r.URL.Path)
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		next.ServeHTTP(recorder, r)

		m.requestTotal.WithLabelValues(
			service,
			r.Method,
			path,
			strconv.Itoa(recorder.statusCode),
		).Inc()
		m.requestDuration.WithLabelValues(service, r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/v1/sessions/") && strings.HasSuffix(path, "/report"):
		return "/v1/sessions/{session_id}/report"
	case strings.HasPrefix(path, "/v1/sessions/"):
		return "/v1/sessions/{session_id}"
	default:
		return path
	}
}

func (m *HTTPServerMetrics) RecordRetrieval(service, endpoint string, fragmentCount int, duration time.Duration) {
	m.retrievalRequestsTotal.WithLabelValues(service, endpoint).Inc()
	m.retrievalFragments.WithLabelValues(service, endpoint).Observe(float64(fragmentCount))
	m.retrievalDuration.WithLabelValues(service, endpoint).Observe(duration.Seconds())

	if fragmentCount > 0 {
		m.retrievalHitTotal.WithLabelValues(service, endpoint).Inc()
		return
	}
	m.retrievalNoContextTotal.WithLabelValues(service, endpoint).Inc()
}

func (m *HTTPServerMetrics) RecordAssessmentStatus(service, status string) {
	if status == "" {
		status = "unknown"
	}
	m.assessmentStatusTotal.WithLabelValues(service, status).Inc()
}

func (m *HTTPServerMetrics) RecordSubmissionCheck(service string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.submissionChecksTotal.WithLabelValues(service, outcome).Inc()
	m.submissionCheckDuration.WithLabelValues(service, outcome).Observe(duration.Seconds())
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *statusRecorder) Flush() {
	flusher, ok := w.ResponseWriter.(http.Flusher)
	if ok {
		flusher.Flush()
	}
}

func (w *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
	}
	return hijacker.Hijack()
}

func (w *statusRecorder) Push(target string, opts *http.PushOptions) error {
	pusher, ok := w.ResponseWriter.(http.Pusher)
	if !ok {
		return http.ErrNotSupported
	}
	return pusher.Push(target, opts)
}
