package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the generation pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	renderDuration  prometheus.Observer
	generatedTotal  prometheus.Counter
	failedTotal     *prometheus.CounterVec
	cacheLookups    *prometheus.CounterVec
	jobsInFlight    prometheus.Gauge
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	renderDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "certificate_render_duration_seconds",
		Help:    "Time spent rendering a single certificate",
		Buckets: prometheus.DefBuckets,
	})

	generatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "certificates_generated_total",
		Help: "Total certificates generated successfully",
	})

	failedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "certificate_failures_total",
		Help: "Total per-student generation failures",
	}, []string{"stage"})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "template_cache_lookups_total",
		Help: "Template background cache lookups by result",
	}, []string{"result"})

	jobsInFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "generation_jobs_in_flight",
		Help: "Generation jobs currently processing",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, renderDuration, generatedTotal, failedTotal, cacheLookups, jobsInFlight, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		renderDuration:  renderDuration,
		generatedTotal:  generatedTotal,
		failedTotal:     failedTotal,
		cacheLookups:    cacheLookups,
		jobsInFlight:    jobsInFlight,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveRender records the time spent rendering one certificate.
func (m *MetricsService) ObserveRender(duration time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(duration.Seconds())
}

// RecordGenerated counts successfully generated certificates.
func (m *MetricsService) RecordGenerated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.generatedTotal.Add(float64(n))
}

// RecordFailure counts a per-student failure at a pipeline stage.
func (m *MetricsService) RecordFailure(stage string) {
	if m == nil {
		return
	}
	m.failedTotal.WithLabelValues(stage).Inc()
}

// RecordCacheLookup counts a template background cache hit or miss.
func (m *MetricsService) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// JobStarted increments the in-flight job gauge.
func (m *MetricsService) JobStarted() {
	if m == nil {
		return
	}
	m.jobsInFlight.Inc()
}

// JobFinished decrements the in-flight gauge.
func (m *MetricsService) JobFinished() {
	if m == nil {
		return
	}
	m.jobsInFlight.Dec()
}
