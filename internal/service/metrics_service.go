package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API and the
// extraction pipeline.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	extractionTotal *prometheus.CounterVec
	extractionTime  prometheus.Observer
	uploadedBytes   prometheus.Counter
	streamsActive   prometheus.Gauge
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

	extractionTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_jobs_total",
		Help: "Total extraction jobs by outcome",
	}, []string{"outcome"})

	extractionTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ocr_processing_duration_seconds",
		Help:    "Wall-clock duration of extraction calls",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	})

	uploadedBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uploaded_bytes_total",
		Help: "Total bytes accepted by the upload endpoints",
	})

	streamsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "progress_streams_active",
		Help: "Currently open batch progress streams",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, extractionTotal, extractionTime, uploadedBytes, streamsActive, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		extractionTotal: extractionTotal,
		extractionTime:  extractionTime,
		uploadedBytes:   uploadedBytes,
		streamsActive:   streamsActive,
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

// RecordExtraction counts one finished extraction job and its duration.
// Outcome is ready, review_pending or failed.
func (m *MetricsService) RecordExtraction(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.extractionTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.extractionTime.Observe(duration.Seconds())
	}
}

// RecordUploadBytes counts accepted upload payload size.
func (m *MetricsService) RecordUploadBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.uploadedBytes.Add(float64(n))
}

// StreamOpened and StreamClosed track the live progress stream gauge.
func (m *MetricsService) StreamOpened() {
	if m != nil {
		m.streamsActive.Inc()
	}
}

func (m *MetricsService) StreamClosed() {
	if m != nil {
		m.streamsActive.Dec()
	}
}
